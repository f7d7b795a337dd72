package telephony

import (
	"net/url"
	"testing"
)

type formValues url.Values

func (f formValues) FormValue(key string, defaultValue ...string) string {
	if vs := url.Values(f)[key]; len(vs) > 0 {
		return vs[0]
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func TestParseStatusWebhook(t *testing.T) {
	form := formValues{
		"CallSid":      {" CA123abc "},
		"CallStatus":   {"completed"},
		"Direction":    {"outbound-api"},
		"From":         {"+442079460000"},
		"To":           {"+447700900123"},
		"CallDuration": {"93"},
		"RecordingUrl": {"https://api.example.com/rec/1"},
	}

	webhook := ParseStatusWebhook(form)

	if webhook.CallSid != "CA123abc" {
		t.Errorf("CallSid = %q, want trimmed CA123abc", webhook.CallSid)
	}
	if webhook.CallStatus != "completed" {
		t.Errorf("CallStatus = %q", webhook.CallStatus)
	}
	if webhook.Duration != 93 {
		t.Errorf("Duration = %d, want 93 from CallDuration fallback", webhook.Duration)
	}
	if webhook.RecordingURL != "https://api.example.com/rec/1" {
		t.Errorf("RecordingURL = %q", webhook.RecordingURL)
	}
}

func TestParseStatusWebhookDurationPrecedence(t *testing.T) {
	form := formValues{
		"CallSid":      {"CA1"},
		"Duration":     {"10"},
		"CallDuration": {"99"},
	}

	if webhook := ParseStatusWebhook(form); webhook.Duration != 10 {
		t.Errorf("Duration = %d, want Duration field to win", webhook.Duration)
	}
}

func TestParseStatusWebhookMissingDuration(t *testing.T) {
	form := formValues{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}

	if webhook := ParseStatusWebhook(form); webhook.Duration != 0 {
		t.Errorf("Duration = %d, want 0", webhook.Duration)
	}
}

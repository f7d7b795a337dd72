package telephony

import (
	"strconv"
	"strings"
)

// StatusWebhook captures the subset of the provider's status callback fields
// the dialler cares about. The provider posts application/x-www-form-urlencoded.
type StatusWebhook struct {
	CallSid      string
	CallStatus   string
	Direction    string
	From         string
	To           string
	Duration     int
	RecordingURL string
	Digits       string
}

// FormValues is satisfied by fiber's request context and url.Values alike.
type FormValues interface {
	FormValue(key string, defaultValue ...string) string
}

// ParseStatusWebhook extracts the status callback from a form payload. The
// provider sends Duration on some event types and CallDuration on others.
func ParseStatusWebhook(form FormValues) StatusWebhook {
	duration := form.FormValue("Duration")
	if duration == "" {
		duration = form.FormValue("CallDuration")
	}
	seconds, _ := strconv.Atoi(strings.TrimSpace(duration))

	return StatusWebhook{
		CallSid:      strings.TrimSpace(form.FormValue("CallSid")),
		CallStatus:   strings.TrimSpace(form.FormValue("CallStatus")),
		Direction:    strings.TrimSpace(form.FormValue("Direction")),
		From:         strings.TrimSpace(form.FormValue("From")),
		To:           strings.TrimSpace(form.FormValue("To")),
		Duration:     seconds,
		RecordingURL: strings.TrimSpace(form.FormValue("RecordingUrl")),
		Digits:       strings.TrimSpace(form.FormValue("Digits")),
	}
}

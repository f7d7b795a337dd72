package domain

import (
	"testing"
	"time"
)

func TestRuleForCanonicalTable(t *testing.T) {
	cases := []struct {
		outcome OutcomeType
		delta   int
		delay   time.Duration
	}{
		{OutcomeContacted, -10, 24 * time.Hour},
		{OutcomeNoAnswer, 5, 4 * time.Hour},
		{OutcomeBusy, 2, 2 * time.Hour},
		{OutcomeLeftVoicemail, 10, 8 * time.Hour},
		{OutcomeWrongNumber, 50, 48 * time.Hour},
		{OutcomeNotInterested, 100, 48 * time.Hour},
		{OutcomeCallbackRequested, -20, 0},
		{OutcomeFailed, 0, time.Hour},
	}

	for _, tc := range cases {
		rule := RuleFor(tc.outcome)
		if rule.ScoreDelta != tc.delta {
			t.Errorf("%s: delta = %d, want %d", tc.outcome, rule.ScoreDelta, tc.delta)
		}
		if rule.Delay != tc.delay {
			t.Errorf("%s: delay = %v, want %v", tc.outcome, rule.Delay, tc.delay)
		}
	}
}

func TestRuleForUnknownOutcome(t *testing.T) {
	rule := RuleFor(OutcomeType("something_else"))
	if rule.ScoreDelta != 0 || rule.Delay != 4*time.Hour {
		t.Fatalf("fallback rule = %+v, want delta 0 delay 4h", rule)
	}
}

func TestMapTelephonyStatus(t *testing.T) {
	cases := map[string]SessionStatus{
		"ringing":     SessionRinging,
		"in-progress": SessionConnected,
		"completed":   SessionCompleted,
		"busy":        SessionNoAnswer,
		"no-answer":   SessionNoAnswer,
		"failed":      SessionFailed,
		"canceled":    SessionFailed,
		"queued":      SessionFailed,
		"":            SessionFailed,
	}

	for callStatus, want := range cases {
		if got := MapTelephonyStatus(callStatus); got != want {
			t.Errorf("MapTelephonyStatus(%q) = %s, want %s", callStatus, got, want)
		}
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	terminal := []SessionStatus{SessionCompleted, SessionFailed, SessionNoAnswer}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []SessionStatus{SessionInitiated, SessionConnecting, SessionRinging, SessionConnected}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestQueueTypePrecedence(t *testing.T) {
	if !(QueueTypeCallback.Precedence() < QueueTypePriorityCall.Precedence()) {
		t.Fatal("callbacks must outrank priority calls")
	}
	if !(QueueTypePriorityCall.Precedence() < QueueTypeFollowUp.Precedence()) {
		t.Fatal("priority calls must outrank follow-ups")
	}
}

func TestEligibleAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !(UserCallScore{}).EligibleAt(now) {
		t.Fatal("score with no next_call_after should be eligible")
	}

	past := now.Add(-time.Minute)
	if !(UserCallScore{NextCallAfter: &past}).EligibleAt(now) {
		t.Fatal("past next_call_after should be eligible")
	}

	if !(UserCallScore{NextCallAfter: &now}).EligibleAt(now) {
		t.Fatal("next_call_after equal to now should be eligible")
	}

	future := now.Add(time.Minute)
	if (UserCallScore{NextCallAfter: &future}).EligibleAt(now) {
		t.Fatal("future next_call_after should not be eligible")
	}
}

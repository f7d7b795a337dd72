package domain

import "time"

// OutcomeRule carries the default score delta and re-call delay for an outcome.
type OutcomeRule struct {
	ScoreDelta int
	Delay      time.Duration
}

// outcomeRules is the canonical adjustment table. callback_requested carries a
// zero delay because the actual contact time is governed by the linked
// Callback entry, not the generic rescore.
var outcomeRules = map[OutcomeType]OutcomeRule{
	OutcomeContacted:         {ScoreDelta: -10, Delay: 24 * time.Hour},
	OutcomeNoAnswer:          {ScoreDelta: 5, Delay: 4 * time.Hour},
	OutcomeBusy:              {ScoreDelta: 2, Delay: 2 * time.Hour},
	OutcomeLeftVoicemail:     {ScoreDelta: 10, Delay: 8 * time.Hour},
	OutcomeWrongNumber:       {ScoreDelta: 50, Delay: 48 * time.Hour},
	OutcomeNotInterested:     {ScoreDelta: 100, Delay: 48 * time.Hour},
	OutcomeCallbackRequested: {ScoreDelta: -20, Delay: 0},
	OutcomeFailed:            {ScoreDelta: 0, Delay: time.Hour},
}

// fallbackRule applies to outcome types outside the canonical table.
var fallbackRule = OutcomeRule{ScoreDelta: 0, Delay: 4 * time.Hour}

// RuleFor returns the default rule for the given outcome type.
func RuleFor(outcome OutcomeType) OutcomeRule {
	if rule, ok := outcomeRules[outcome]; ok {
		return rule
	}
	return fallbackRule
}

// MapTelephonyStatus translates a provider webhook status into a session
// status. Unrecognized statuses map to failed.
func MapTelephonyStatus(callStatus string) SessionStatus {
	switch callStatus {
	case "ringing":
		return SessionRinging
	case "in-progress":
		return SessionConnected
	case "completed":
		return SessionCompleted
	case "busy":
		return SessionNoAnswer
	case "no-answer":
		return SessionNoAnswer
	case "failed":
		return SessionFailed
	case "canceled":
		return SessionFailed
	default:
		return SessionFailed
	}
}

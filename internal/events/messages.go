package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
)

// CallEventMessage announces a call session status change for downstream
// reporting consumers.
type CallEventMessage struct {
	SessionID       uuid.UUID            `json:"session_id"`
	UserID          uuid.UUID            `json:"user_id"`
	AgentID         uuid.UUID            `json:"agent_id"`
	CallSid         string               `json:"call_sid,omitempty"`
	Status          domain.SessionStatus `json:"status"`
	Direction       domain.CallDirection `json:"direction"`
	DurationSeconds int                  `json:"duration_seconds"`
	TalkTimeSeconds int                  `json:"talk_time_seconds"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

// OutcomeEventMessage announces a recorded outcome together with the score it
// produced.
type OutcomeEventMessage struct {
	OutcomeID     uuid.UUID          `json:"outcome_id"`
	SessionID     uuid.UUID          `json:"session_id"`
	UserID        uuid.UUID          `json:"user_id"`
	AgentID       uuid.UUID          `json:"agent_id"`
	OutcomeType   domain.OutcomeType `json:"outcome_type"`
	NewScore      int                `json:"new_score"`
	NextCallAfter *time.Time         `json:"next_call_after,omitempty"`
	CallbackID    *uuid.UUID         `json:"callback_id,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

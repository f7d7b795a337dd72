package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeType enumerates dispositions an agent can record for a call attempt.
type OutcomeType string

const (
	OutcomeContacted         OutcomeType = "contacted"
	OutcomeNoAnswer          OutcomeType = "no_answer"
	OutcomeBusy              OutcomeType = "busy"
	OutcomeWrongNumber       OutcomeType = "wrong_number"
	OutcomeNotInterested     OutcomeType = "not_interested"
	OutcomeCallbackRequested OutcomeType = "callback_requested"
	OutcomeLeftVoicemail     OutcomeType = "left_voicemail"
	OutcomeFailed            OutcomeType = "failed"
)

// KnownOutcomeTypes lists the accepted outcome vocabulary.
var KnownOutcomeTypes = []OutcomeType{
	OutcomeContacted,
	OutcomeNoAnswer,
	OutcomeBusy,
	OutcomeWrongNumber,
	OutcomeNotInterested,
	OutcomeCallbackRequested,
	OutcomeLeftVoicemail,
	OutcomeFailed,
}

// Valid reports whether the outcome type is part of the closed vocabulary.
func (o OutcomeType) Valid() bool {
	for _, known := range KnownOutcomeTypes {
		if o == known {
			return true
		}
	}
	return false
}

// SessionStatus enumerates lifecycle states of one call attempt.
type SessionStatus string

const (
	SessionInitiated  SessionStatus = "initiated"
	SessionConnecting SessionStatus = "connecting"
	SessionRinging    SessionStatus = "ringing"
	SessionConnected  SessionStatus = "connected"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionNoAnswer   SessionStatus = "no_answer"
)

// Terminal reports whether the status ends the session lifecycle.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionNoAnswer:
		return true
	}
	return false
}

// QueueType enumerates the kinds of assignable work in the call queue.
type QueueType string

const (
	QueueTypeCallback     QueueType = "callback"
	QueueTypePriorityCall QueueType = "priority_call"
	QueueTypeFollowUp     QueueType = "follow_up"
)

// Precedence returns the ordering rank of the queue type; lower ranks first.
// Due callbacks outrank fresh priority calls, which outrank follow-ups.
func (q QueueType) Precedence() int {
	switch q {
	case QueueTypeCallback:
		return 0
	case QueueTypePriorityCall:
		return 1
	default:
		return 2
	}
}

// QueueEntryStatus enumerates queue entry lifecycle states.
type QueueEntryStatus string

const (
	QueueEntryPending   QueueEntryStatus = "pending"
	QueueEntryAssigned  QueueEntryStatus = "assigned"
	QueueEntryCompleted QueueEntryStatus = "completed"
	QueueEntryCancelled QueueEntryStatus = "cancelled"
)

// CallbackStatus enumerates callback lifecycle states.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
)

// AgentStatus enumerates agent availability states.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentOnCall    AgentStatus = "on_call"
	AgentBreak     AgentStatus = "break"
	AgentOffline   AgentStatus = "offline"
)

// CallDirection distinguishes outbound dials from inbound returns.
type CallDirection string

const (
	DirectionOutbound CallDirection = "outbound"
	DirectionInbound  CallDirection = "inbound"
)

// DocumentType tags document requests recorded with an outcome.
type DocumentType string

const (
	DocIDDocument         DocumentType = "ID_DOCUMENT"
	DocBankStatements     DocumentType = "BANK_STATEMENTS"
	DocCreditStatements   DocumentType = "CREDIT_STATEMENTS"
	DocProofOfAddress     DocumentType = "PROOF_OF_ADDRESS"
	DocIncomeVerification DocumentType = "INCOME_VERIFICATION"
	DocVehicleDocuments   DocumentType = "VEHICLE_DOCUMENTS"
	DocLoanAgreement      DocumentType = "LOAN_AGREEMENT"
)

// KnownDocumentTypes lists the accepted document request vocabulary.
var KnownDocumentTypes = []DocumentType{
	DocIDDocument,
	DocBankStatements,
	DocCreditStatements,
	DocProofOfAddress,
	DocIncomeVerification,
	DocVehicleDocuments,
	DocLoanAgreement,
}

// Valid reports whether the tag is part of the closed vocabulary.
func (d DocumentType) Valid() bool {
	for _, known := range KnownDocumentTypes {
		if d == known {
			return true
		}
	}
	return false
}

// UserCallScore is the per-user priority record. Lower score means the user
// should be called sooner. Mutated only by the scoring engine.
type UserCallScore struct {
	UserID              uuid.UUID
	CurrentScore        int
	BaseScore           int
	OutcomePenaltyScore int
	TimePenaltyScore    int
	NextCallAfter       *time.Time
	LastCallAt          *time.Time
	LastOutcome         OutcomeType
	TotalAttempts       int
	SuccessfulCalls     int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EligibleAt reports whether the user may receive a fresh priority call at now.
func (s UserCallScore) EligibleAt(now time.Time) bool {
	return s.NextCallAfter == nil || !s.NextCallAfter.After(now)
}

// CallQueueEntry is a materialized, assignable unit of outbound-call work.
type CallQueueEntry struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	ClaimID           *uuid.UUID
	QueueType         QueueType
	PriorityScore     int
	Status            QueueEntryStatus
	AssignedToAgentID *uuid.UUID
	AssignedAt        *time.Time
	CallbackID        *uuid.UUID
	AvailableFrom     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AvailableSince is the age key for queue ordering: the scheduled availability
// when set, otherwise creation time.
func (e CallQueueEntry) AvailableSince() time.Time {
	if e.AvailableFrom != nil {
		return *e.AvailableFrom
	}
	return e.CreatedAt
}

// Less orders assignable entries: queue type precedence first, then lower
// scores, then older availability.
func (e CallQueueEntry) Less(other CallQueueEntry) bool {
	if a, b := e.QueueType.Precedence(), other.QueueType.Precedence(); a != b {
		return a < b
	}
	if e.PriorityScore != other.PriorityScore {
		return e.PriorityScore < other.PriorityScore
	}
	return e.AvailableSince().Before(other.AvailableSince())
}

// CallSession is one row per call attempt, owned by the session state machine.
type CallSession struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	AgentID           uuid.UUID
	CallQueueID       *uuid.UUID
	TwilioCallSid     *string
	Status            SessionStatus
	Direction         CallDirection
	StartedAt         time.Time
	ConnectedAt       *time.Time
	EndedAt           *time.Time
	DurationSeconds   int
	TalkTimeSeconds   int
	UserClaimsContext []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CallDuration is the dial-to-hangup span in whole seconds, never negative.
func CallDuration(startedAt, endedAt time.Time) int {
	d := int(endedAt.Sub(startedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// TalkTime is the connected span of a call in whole seconds. A call that
// never connected has zero talk time.
func TalkTime(connectedAt *time.Time, endedAt time.Time) int {
	if connectedAt == nil {
		return 0
	}
	d := int(endedAt.Sub(*connectedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// CallOutcome is an append-only disposition record for a session.
type CallOutcome struct {
	ID                 uuid.UUID
	CallSessionID      uuid.UUID
	UserID             uuid.UUID
	OutcomeType        OutcomeType
	OutcomeNotes       string
	NextCallDelayHours int
	ScoreAdjustment    int
	MagicLinkSent      bool
	SMSSent            bool
	DocumentsRequested []DocumentType
	RecordedByAgentID  uuid.UUID
	CreatedAt          time.Time
}

// Callback is a user-requested, time-scheduled future call commitment.
type Callback struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	ScheduledFor           time.Time
	Reason                 string
	PreferredAgentID       *uuid.UUID
	OriginalCallSessionID  uuid.UUID
	CompletedCallSessionID *uuid.UUID
	Status                 CallbackStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AgentSession tracks one agent's availability and running counters.
type AgentSession struct {
	AgentID              uuid.UUID
	Status               AgentStatus
	CurrentCallSessionID *uuid.UUID
	CallsCompletedToday  int
	TotalTalkTimeSeconds int
	LastActivity         time.Time
}

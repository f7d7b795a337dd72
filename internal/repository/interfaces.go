package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update matched no rows.
	ErrConflict = apperrors.ErrConflict
)

// ScoreChange describes one outcome-driven adjustment to a user's score.
type ScoreChange struct {
	Outcome    domain.OutcomeType
	Delta      int
	Delay      time.Duration
	Successful bool
	Now        time.Time
}

// ScoreRepository persists per-user priority records.
type ScoreRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserCallScore, error)
	// Apply upserts the score atomically: seeds at max(0, delta) on first
	// outcome, otherwise increments with a floor of zero.
	Apply(ctx context.Context, userID uuid.UUID, change ScoreChange) (*domain.UserCallScore, error)
	// ListEligible returns scores whose next_call_after has passed and that
	// have no pending or assigned queue entry and no pending callback.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.UserCallScore, error)
}

// AssignableQuery filters the assignable view of the queue for one agent.
type AssignableQuery struct {
	AgentID       uuid.UUID
	Now           time.Time
	AffinityGrace time.Duration
	Offset        int
	Limit         int
}

// QueueRepository persists materialized call queue entries.
type QueueRepository interface {
	Insert(ctx context.Context, entry *domain.CallQueueEntry) error
	// InsertForCallback inserts a callback-typed entry at most once per
	// callback id.
	InsertForCallback(ctx context.Context, entry *domain.CallQueueEntry) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error)
	ListAssignable(ctx context.Context, q AssignableQuery) ([]domain.CallQueueEntry, error)
	// Assign marks a pending entry assigned to the agent. Returns ErrConflict
	// when the entry is no longer pending or the user already holds another
	// assigned entry.
	Assign(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error
	// MarkAssigned assigns an entry at call initiation time, tolerating an
	// entry already held by the same agent.
	MarkAssigned(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error
	SetStatus(ctx context.Context, entryID uuid.UUID, status domain.QueueEntryStatus) error
}

// HistoryQuery filters the call history / analytics read path.
type HistoryQuery struct {
	Page    int
	Limit   int
	AgentID *uuid.UUID
	UserID  *uuid.UUID
	From    *time.Time
	To      *time.Time
	Outcome *domain.OutcomeType
	Status  *domain.SessionStatus
}

// HistoryAggregates summarizes a filtered slice of call history.
type HistoryAggregates struct {
	TotalCalls         int64
	ContactedCalls     int64
	AvgDurationSeconds float64
	AvgTalkTimeSeconds float64
	OutcomeCounts      map[domain.OutcomeType]int64
}

// SessionRepository persists call sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.CallSession) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error)
	GetByCallSid(ctx context.Context, callSid string) (*domain.CallSession, error)
	SetCallSid(ctx context.Context, id uuid.UUID, callSid string) error
	// SetProgress applies a non-terminal status. Transitions into connected
	// stamp connected_at only if unset.
	SetProgress(ctx context.Context, id uuid.UUID, status domain.SessionStatus, at time.Time) error
	// Terminate applies a terminal status, stamping ended_at once and
	// deriving duration/talk time from the stamped timestamps. Returns
	// ErrConflict when the session is already terminal.
	Terminate(ctx context.Context, id uuid.UUID, status domain.SessionStatus, endedAt time.Time) (*domain.CallSession, error)
	History(ctx context.Context, q HistoryQuery) ([]domain.CallSession, error)
	Aggregates(ctx context.Context, q HistoryQuery) (*HistoryAggregates, error)
	// ListStale returns sessions stuck in initiated/connecting since before
	// the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.CallSession, error)
}

// OutcomeRepository persists append-only call outcomes.
type OutcomeRepository interface {
	Insert(ctx context.Context, outcome *domain.CallOutcome) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.CallOutcome, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// CallbackQuery filters the callback listing read path.
type CallbackQuery struct {
	Page             int
	Limit            int
	PreferredAgentID *uuid.UUID
	Status           *domain.CallbackStatus
	From             *time.Time
	To               *time.Time
}

// CallbackRepository persists scheduled callbacks.
type CallbackRepository interface {
	Insert(ctx context.Context, callback *domain.Callback) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Callback, error)
	List(ctx context.Context, q CallbackQuery) ([]domain.Callback, error)
	// ListDue returns pending callbacks scheduled at or before now. Past-due
	// callbacks remain due until resolved.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Callback, error)
	// PendingUsers reports which of the given users hold a pending callback.
	PendingUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]struct{}, error)
	// Complete marks a pending callback completed and links the resulting
	// session.
	Complete(ctx context.Context, id, completedSessionID uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// AgentRepository persists agent availability sessions.
type AgentRepository interface {
	Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentSession, error)
	Upsert(ctx context.Context, session *domain.AgentSession) error
	// MarkOnCall flips an available or on-break agent to on_call holding the
	// given session. Returns ErrConflict when the agent is already on a call.
	MarkOnCall(ctx context.Context, agentID, sessionID uuid.UUID, at time.Time) error
	// Release returns the agent to available, clears the current session and
	// bumps the daily counters. The session id guards against clobbering a
	// newer call.
	Release(ctx context.Context, agentID, sessionID uuid.UUID, talkTimeSeconds int, at time.Time) error
	SetStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus, at time.Time) error
}

// TelephonyEvent is one raw inbound webhook event, kept for audit.
type TelephonyEvent struct {
	CallSid      string
	CallStatus   string
	Direction    string
	From         string
	To           string
	Duration     int
	RecordingURL string
	Digits       string
	ReceivedAt   time.Time
}

// TelephonyEventLog appends raw webhook events to the audit store.
type TelephonyEventLog interface {
	Append(ctx context.Context, event TelephonyEvent) error
	ListByCallSid(ctx context.Context, callSid string, limit int) ([]TelephonyEvent, error)
}

// TxRepos exposes repositories bound to one open transaction.
type TxRepos interface {
	Scores() ScoreRepository
	Queue() QueueRepository
	Sessions() SessionRepository
	Outcomes() OutcomeRepository
	Callbacks() CallbackRepository
	Agents() AgentRepository
}

// UnitOfWork runs a function against transaction-scoped repositories with
// all-or-nothing visibility.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx TxRepos) error) error
}

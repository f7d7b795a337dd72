package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/events"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	"github.com/jamesclaimtechio/rmcdialer/internal/service/scoring"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// maxDelayHours bounds caller-supplied redial delays to one week.
const maxDelayHours = 168

// Publisher emits outcome events for downstream reporting.
type Publisher interface {
	PublishOutcome(ctx context.Context, msg events.OutcomeEventMessage) error
}

// RecordOutcomeInput carries the agent's disposition submission.
type RecordOutcomeInput struct {
	OutcomeType        domain.OutcomeType
	Notes              string
	ScoreAdjustment    *int
	NextCallDelayHours *int
	MagicLinkSent      bool
	SMSSent            bool
	DocumentsRequested []domain.DocumentType
	CallbackDateTime   *time.Time
	CallbackReason     string
	PreferredAgentID   *uuid.UUID
}

// Recorder writes call outcomes and everything that must move with them.
// The outcome insert, the score update, callback creation, agent release and
// queue entry completion commit together or not at all.
type Recorder struct {
	uow           repository.UnitOfWork
	sessions      repository.SessionRepository
	scoring       *scoring.Engine
	publisher     Publisher
	systemAgentID uuid.UUID
	logger        *logger.Logger
	now           func() time.Time
}

// NewRecorder builds the outcome recorder. systemAgentID is permitted to
// record outcomes on any session; it is how the sweeper closes abandoned calls.
func NewRecorder(
	uow repository.UnitOfWork,
	sessions repository.SessionRepository,
	engine *scoring.Engine,
	publisher Publisher,
	systemAgentID uuid.UUID,
	lg *logger.Logger,
) *Recorder {
	return &Recorder{
		uow:           uow,
		sessions:      sessions,
		scoring:       engine,
		publisher:     publisher,
		systemAgentID: systemAgentID,
		logger:        lg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RecordOutcome validates and persists one disposition for a session.
func (r *Recorder) RecordOutcome(ctx context.Context, sessionID, agentID uuid.UUID, input RecordOutcomeInput) (*domain.CallOutcome, error) {
	if err := r.validate(input); err != nil {
		return nil, err
	}

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if agentID != session.AgentID && agentID != r.systemAgentID {
		return nil, fmt.Errorf("%w: agent %s may not record outcomes for session %s", apperrors.ErrPermission, agentID, sessionID)
	}

	now := r.now()
	record := r.newRecord(session, agentID, input, now)

	var (
		score      *domain.UserCallScore
		callbackID *uuid.UUID
	)
	err = r.uow.WithinTx(ctx, func(tx repository.TxRepos) error {
		var txErr error
		score, callbackID, txErr = r.apply(ctx, tx, session, record, input, now)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	r.publish(ctx, record, session, score, callbackID)
	return record, nil
}

// ForceFailure terminates an abandoned session as failed and records the
// failed outcome on behalf of the system agent. Termination and the outcome
// commit in one transaction, so a failed attempt leaves the session live for
// the next sweep.
func (r *Recorder) ForceFailure(ctx context.Context, sessionID uuid.UUID) error {
	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	input := RecordOutcomeInput{
		OutcomeType: domain.OutcomeFailed,
		Notes:       "no telephony signaling before timeout",
	}
	now := r.now()
	record := r.newRecord(session, r.systemAgentID, input, now)

	var score *domain.UserCallScore
	err = r.uow.WithinTx(ctx, func(tx repository.TxRepos) error {
		terminated, termErr := tx.Sessions().Terminate(ctx, sessionID, domain.SessionFailed, now)
		if termErr != nil {
			if !errors.Is(termErr, apperrors.ErrConflict) {
				return fmt.Errorf("outcome recorder: force terminate: %w", termErr)
			}
			terminated = session
		}
		var txErr error
		score, _, txErr = r.apply(ctx, tx, terminated, record, input, now)
		return txErr
	})
	if err != nil {
		return err
	}

	r.publish(ctx, record, session, score, nil)
	return nil
}

func (r *Recorder) newRecord(session *domain.CallSession, agentID uuid.UUID, input RecordOutcomeInput, now time.Time) *domain.CallOutcome {
	change := r.scoring.Resolve(input.OutcomeType, scoring.Override{
		ScoreAdjustment: input.ScoreAdjustment,
		DelayHours:      input.NextCallDelayHours,
	})
	return &domain.CallOutcome{
		ID:                 uuid.New(),
		CallSessionID:      session.ID,
		UserID:             session.UserID,
		OutcomeType:        input.OutcomeType,
		OutcomeNotes:       input.Notes,
		NextCallDelayHours: int(change.Delay / time.Hour),
		ScoreAdjustment:    change.Delta,
		MagicLinkSent:      input.MagicLinkSent,
		SMSSent:            input.SMSSent,
		DocumentsRequested: input.DocumentsRequested,
		RecordedByAgentID:  agentID,
		CreatedAt:          now,
	}
}

// apply writes the outcome and everything that moves with it inside one open
// transaction.
func (r *Recorder) apply(ctx context.Context, tx repository.TxRepos, session *domain.CallSession, record *domain.CallOutcome, input RecordOutcomeInput, now time.Time) (*domain.UserCallScore, *uuid.UUID, error) {
	if err := tx.Outcomes().Insert(ctx, record); err != nil {
		return nil, nil, err
	}

	score, err := r.scoring.AdjustWith(ctx, tx.Scores(), session.UserID, input.OutcomeType, scoring.Override{
		ScoreAdjustment: input.ScoreAdjustment,
		DelayHours:      input.NextCallDelayHours,
	})
	if err != nil {
		return nil, nil, err
	}

	var callbackID *uuid.UUID
	if input.OutcomeType == domain.OutcomeCallbackRequested && input.CallbackDateTime != nil {
		callback := &domain.Callback{
			ID:                    uuid.New(),
			UserID:                session.UserID,
			ScheduledFor:          input.CallbackDateTime.UTC(),
			Reason:                input.CallbackReason,
			PreferredAgentID:      input.PreferredAgentID,
			OriginalCallSessionID: session.ID,
			Status:                domain.CallbackPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.Callbacks().Insert(ctx, callback); err != nil {
			return nil, nil, fmt.Errorf("outcome recorder: create callback: %w", err)
		}
		callbackID = &callback.ID
	}

	if session.Status.Terminal() {
		if err := tx.Agents().Release(ctx, session.AgentID, session.ID, session.TalkTimeSeconds, now); err != nil {
			if !errors.Is(err, apperrors.ErrConflict) {
				return nil, nil, fmt.Errorf("outcome recorder: release agent: %w", err)
			}
			// Agent is already past this call.
			r.logger.Info("outcome recorder: agent not holding session, release skipped",
				zap.String("agent_id", session.AgentID.String()), zap.String("session_id", session.ID.String()))
		}
	}

	if session.CallQueueID != nil {
		entry, err := tx.Queue().Get(ctx, *session.CallQueueID)
		if err != nil {
			return nil, nil, fmt.Errorf("outcome recorder: load queue entry: %w", err)
		}
		if err := tx.Queue().SetStatus(ctx, entry.ID, domain.QueueEntryCompleted); err != nil {
			return nil, nil, fmt.Errorf("outcome recorder: complete queue entry: %w", err)
		}
		if entry.CallbackID != nil && session.Status.Terminal() {
			if err := tx.Callbacks().Complete(ctx, *entry.CallbackID, session.ID); err != nil && !errors.Is(err, apperrors.ErrConflict) {
				return nil, nil, fmt.Errorf("outcome recorder: complete callback: %w", err)
			}
		}
	}

	return score, callbackID, nil
}

func (r *Recorder) validate(input RecordOutcomeInput) error {
	if !input.OutcomeType.Valid() {
		return fmt.Errorf("%w: unknown outcome type %q", apperrors.ErrValidation, input.OutcomeType)
	}
	if input.NextCallDelayHours != nil {
		if h := *input.NextCallDelayHours; h < 0 || h > maxDelayHours {
			return fmt.Errorf("%w: nextCallDelayHours must be between 0 and %d", apperrors.ErrValidation, maxDelayHours)
		}
	}
	for _, doc := range input.DocumentsRequested {
		if !doc.Valid() {
			return fmt.Errorf("%w: unknown document type %q", apperrors.ErrValidation, doc)
		}
	}
	if input.OutcomeType == domain.OutcomeCallbackRequested && input.CallbackDateTime != nil && !input.CallbackDateTime.After(r.now()) {
		return fmt.Errorf("%w: callbackDateTime must be in the future", apperrors.ErrValidation)
	}
	return nil
}

func (r *Recorder) publish(ctx context.Context, record *domain.CallOutcome, session *domain.CallSession, score *domain.UserCallScore, callbackID *uuid.UUID) {
	if r.publisher == nil {
		return
	}
	msg := events.OutcomeEventMessage{
		OutcomeID:   record.ID,
		SessionID:   session.ID,
		UserID:      session.UserID,
		AgentID:     record.RecordedByAgentID,
		OutcomeType: record.OutcomeType,
		CallbackID:  callbackID,
		OccurredAt:  r.now(),
	}
	if score != nil {
		msg.NewScore = score.CurrentScore
		msg.NextCallAfter = score.NextCallAfter
	}
	if err := r.publisher.PublishOutcome(ctx, msg); err != nil {
		r.logger.Warn("outcome recorder: publish event", zap.Error(err), zap.String("outcome_id", record.ID.String()))
	}
}

package call

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
	"github.com/jamesclaimtechio/rmcdialer/internal/telephony"
	"github.com/jamesclaimtechio/rmcdialer/internal/users"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// Publisher emits call lifecycle events for downstream reporting.
type Publisher interface {
	PublishCallEvent(ctx context.Context, msg events.CallEventMessage) error
}

// Service owns the call session state machine.
type Service struct {
	uow       repository.UnitOfWork
	sessions  repository.SessionRepository
	outcomes  repository.OutcomeRepository
	eventLog  repository.TelephonyEventLog
	users     users.ContextReader
	provider  telephony.Provider
	publisher Publisher
	callerID  string
	logger    *logger.Logger
	now       func() time.Time
}

// NewService builds the call lifecycle service.
func NewService(
	uow repository.UnitOfWork,
	sessions repository.SessionRepository,
	outcomes repository.OutcomeRepository,
	eventLog repository.TelephonyEventLog,
	userClient users.ContextReader,
	provider telephony.Provider,
	publisher Publisher,
	callerID string,
	lg *logger.Logger,
) *Service {
	return &Service{
		uow:       uow,
		sessions:  sessions,
		outcomes:  outcomes,
		eventLog:  eventLog,
		users:     userClient,
		provider:  provider,
		publisher: publisher,
		callerID:  callerID,
		logger:    lg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateCallInput encapsulates the arguments for starting a call attempt.
type InitiateCallInput struct {
	UserID       uuid.UUID
	AgentID      uuid.UUID
	QueueEntryID *uuid.UUID
	PhoneNumber  string
	Direction    domain.CallDirection
}

// InitiateCall creates the session, flips the agent on-call and claims the
// queue entry in one transaction, then places the dial with the provider.
func (s *Service) InitiateCall(ctx context.Context, input InitiateCallInput) (*domain.CallSession, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if input.AgentID == uuid.Nil {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	if input.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if input.Direction == "" {
		input.Direction = domain.DirectionOutbound
	}

	userCtx, err := s.users.Context(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("call service: user context: %w", err)
	}

	now := s.now()
	session := &domain.CallSession{
		ID:                uuid.New(),
		UserID:            input.UserID,
		AgentID:           input.AgentID,
		CallQueueID:       input.QueueEntryID,
		Status:            domain.SessionInitiated,
		Direction:         input.Direction,
		StartedAt:         now,
		UserClaimsContext: userCtx.Raw,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.uow.WithinTx(ctx, func(tx repository.TxRepos) error {
		if err := tx.Sessions().Create(ctx, session); err != nil {
			return err
		}
		if err := tx.Agents().MarkOnCall(ctx, input.AgentID, session.ID, now); err != nil {
			return fmt.Errorf("call service: mark agent on call: %w", err)
		}
		if input.QueueEntryID != nil {
			if err := tx.Queue().MarkAssigned(ctx, *input.QueueEntryID, input.AgentID, now); err != nil {
				return fmt.Errorf("call service: claim queue entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, session)

	result, err := s.provider.PlaceCall(ctx, telephony.DialRequest{
		SessionID:   session.ID,
		PhoneNumber: input.PhoneNumber,
		CallerID:    s.callerID,
	})
	if err != nil {
		// The session stays in initiated; the sweeper forces it to failed
		// through the outcome path if no signaling ever arrives.
		s.logger.Error("call service: place call", zap.Error(err), zap.String("session_id", session.ID.String()))
		return session, nil
	}

	if err := s.sessions.SetCallSid(ctx, session.ID, result.CallSid); err != nil {
		s.logger.Error("call service: set call sid", zap.Error(err), zap.String("session_id", session.ID.String()))
	}
	if err := s.sessions.SetProgress(ctx, session.ID, domain.SessionConnecting, s.now()); err != nil {
		s.logger.Error("call service: mark connecting", zap.Error(err), zap.String("session_id", session.ID.String()))
	}

	session.TwilioCallSid = &result.CallSid
	session.Status = domain.SessionConnecting
	return session, nil
}

// HandleTelephonyEvent applies one provider status callback to its session.
// Unknown call SIDs are logged and dropped: telephony events can race session
// creation or reference identifiers past retention.
func (s *Service) HandleTelephonyEvent(ctx context.Context, webhook telephony.StatusWebhook) error {
	if webhook.CallSid == "" {
		return fmt.Errorf("%w: CallSid is required", apperrors.ErrValidation)
	}

	now := s.now()
	if err := s.eventLog.Append(ctx, repository.TelephonyEvent{
		CallSid:      webhook.CallSid,
		CallStatus:   webhook.CallStatus,
		Direction:    webhook.Direction,
		From:         webhook.From,
		To:           webhook.To,
		Duration:     webhook.Duration,
		RecordingURL: webhook.RecordingURL,
		Digits:       webhook.Digits,
		ReceivedAt:   now,
	}); err != nil {
		s.logger.Warn("call service: append event log", zap.Error(err), zap.String("call_sid", webhook.CallSid))
	}

	session, err := s.sessions.GetByCallSid(ctx, webhook.CallSid)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Info("call service: webhook for unknown call sid dropped",
				zap.String("call_sid", webhook.CallSid), zap.String("call_status", webhook.CallStatus))
			return nil
		}
		return fmt.Errorf("call service: lookup session by sid: %w", err)
	}

	mapped := domain.MapTelephonyStatus(webhook.CallStatus)
	if !mapped.Terminal() {
		if err := s.sessions.SetProgress(ctx, session.ID, mapped, now); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				// Progress event arrived after the session already ended.
				return nil
			}
			return fmt.Errorf("call service: apply %s: %w", mapped, err)
		}
		session.Status = mapped
		s.publish(ctx, session)
		return nil
	}

	terminated, err := s.sessions.Terminate(ctx, session.ID, mapped, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Replayed terminal event; the first delivery already stamped
			// ended_at and the durations.
			s.logger.Info("call service: duplicate terminal event dropped",
				zap.String("call_sid", webhook.CallSid), zap.String("call_status", webhook.CallStatus))
			return nil
		}
		return fmt.Errorf("call service: terminate: %w", err)
	}

	s.publish(ctx, terminated)
	return nil
}

// GetSession retrieves a session by id.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	return s.sessions.Get(ctx, id)
}

// SessionOutcomes lists the outcomes recorded against a session.
func (s *Service) SessionOutcomes(ctx context.Context, sessionID uuid.UUID) ([]domain.CallOutcome, error) {
	return s.outcomes.ListBySession(ctx, sessionID)
}

// History returns the filtered call history page plus its aggregates.
func (s *Service) History(ctx context.Context, q repository.HistoryQuery) ([]domain.CallSession, *repository.HistoryAggregates, error) {
	if q.Limit > 100 {
		return nil, nil, fmt.Errorf("%w: limit must be at most 100", apperrors.ErrValidation)
	}

	sessions, err := s.sessions.History(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	aggregates, err := s.sessions.Aggregates(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return sessions, aggregates, nil
}

func (s *Service) publish(ctx context.Context, session *domain.CallSession) {
	if s.publisher == nil {
		return
	}
	msg := events.CallEventMessage{
		SessionID:       session.ID,
		UserID:          session.UserID,
		AgentID:         session.AgentID,
		Status:          session.Status,
		Direction:       session.Direction,
		DurationSeconds: session.DurationSeconds,
		TalkTimeSeconds: session.TalkTimeSeconds,
		OccurredAt:      s.now(),
	}
	if session.TwilioCallSid != nil {
		msg.CallSid = *session.TwilioCallSid
	}
	if err := s.publisher.PublishCallEvent(ctx, msg); err != nil {
		s.logger.Warn("call service: publish event", zap.Error(err), zap.String("session_id", session.ID.String()))
	}
}

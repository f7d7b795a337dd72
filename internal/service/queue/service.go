package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// Lease guards assignment attempts on one queue entry.
type Lease interface {
	Acquire(ctx context.Context, entryID, agentID uuid.UUID) (bool, error)
	Release(ctx context.Context, entryID, agentID uuid.UUID) error
}

// Policy tunes materialization and pagination.
type Policy struct {
	DefaultPageSize int
	MaxPageSize     int
	AffinityGrace   time.Duration
	MaterializeMax  int
}

// Service materializes and serves the assignable call queue. The queue is
// recomputed from store state on every request; no cached snapshot is
// authoritative across requests.
type Service struct {
	scores    repository.ScoreRepository
	queue     repository.QueueRepository
	callbacks repository.CallbackRepository
	lease     Lease
	policy    Policy
	logger    *logger.Logger
	now       func() time.Time
}

// NewService builds the queue service.
func NewService(
	scores repository.ScoreRepository,
	queueRepo repository.QueueRepository,
	callbacks repository.CallbackRepository,
	lease Lease,
	policy Policy,
	lg *logger.Logger,
) *Service {
	if policy.DefaultPageSize <= 0 {
		policy.DefaultPageSize = 25
	}
	if policy.MaxPageSize <= 0 {
		policy.MaxPageSize = 100
	}
	if policy.AffinityGrace <= 0 {
		policy.AffinityGrace = 30 * time.Minute
	}
	if policy.MaterializeMax <= 0 {
		policy.MaterializeMax = 200
	}
	return &Service{
		scores:    scores,
		queue:     queueRepo,
		callbacks: callbacks,
		lease:     lease,
		policy:    policy,
		logger:    lg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Next returns the ordered page of assignable work for the requesting agent.
func (s *Service) Next(ctx context.Context, agentID uuid.UUID, page, limit int) ([]domain.CallQueueEntry, error) {
	if agentID == uuid.Nil {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}

	now := s.now()
	if err := s.Materialize(ctx, now); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.policy.DefaultPageSize
	}
	if limit > s.policy.MaxPageSize {
		limit = s.policy.MaxPageSize
	}
	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}

	entries, err := s.queue.ListAssignable(ctx, repository.AssignableQuery{
		AgentID:       agentID,
		Now:           now,
		AffinityGrace: s.policy.AffinityGrace,
		Offset:        offset,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("queue service: list assignable: %w", err)
	}
	return entries, nil
}

// Materialize derives fresh queue entries from the score store and the
// callback schedule. Safe to run concurrently: callback promotion is
// idempotent per callback and eligible-score selection excludes users that
// already hold a live entry. A user with a pending callback never becomes a
// fresh priority call; their next attempt belongs to the callback.
func (s *Service) Materialize(ctx context.Context, now time.Time) error {
	due, err := s.callbacks.ListDue(ctx, now, s.policy.MaterializeMax)
	if err != nil {
		return fmt.Errorf("queue service: list due callbacks: %w", err)
	}
	for _, callback := range due {
		entry := s.entryForCallback(ctx, callback, now)
		if err := s.queue.InsertForCallback(ctx, &entry); err != nil {
			return fmt.Errorf("queue service: promote callback %s: %w", callback.ID, err)
		}
	}

	eligible, err := s.scores.ListEligible(ctx, now, s.policy.MaterializeMax)
	if err != nil {
		return fmt.Errorf("queue service: list eligible scores: %w", err)
	}
	if len(eligible) == 0 {
		return nil
	}

	userIDs := make([]uuid.UUID, len(eligible))
	for i, score := range eligible {
		userIDs[i] = score.UserID
	}
	committed, err := s.callbacks.PendingUsers(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("queue service: pending callback users: %w", err)
	}

	for _, score := range eligible {
		if _, ok := committed[score.UserID]; ok {
			continue
		}
		entry := domain.CallQueueEntry{
			ID:            uuid.New(),
			UserID:        score.UserID,
			QueueType:     domain.QueueTypePriorityCall,
			PriorityScore: score.CurrentScore,
			Status:        domain.QueueEntryPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.queue.Insert(ctx, &entry); err != nil {
			return fmt.Errorf("queue service: materialize user %s: %w", score.UserID, err)
		}
	}

	return nil
}

func (s *Service) entryForCallback(ctx context.Context, callback domain.Callback, now time.Time) domain.CallQueueEntry {
	priority := 0
	if score, err := s.scores.Get(ctx, callback.UserID); err == nil {
		priority = score.CurrentScore
	}
	scheduledFor := callback.ScheduledFor
	callbackID := callback.ID
	return domain.CallQueueEntry{
		ID:            uuid.New(),
		UserID:        callback.UserID,
		QueueType:     domain.QueueTypeCallback,
		PriorityScore: priority,
		Status:        domain.QueueEntryPending,
		CallbackID:    &callbackID,
		AvailableFrom: &scheduledFor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Assign exclusively hands the entry to the agent. A concurrent winner
// surfaces as a conflict the caller resolves by re-querying the queue.
func (s *Service) Assign(ctx context.Context, entryID, agentID uuid.UUID) (*domain.CallQueueEntry, error) {
	if agentID == uuid.Nil {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}

	held, err := s.lease.Acquire(ctx, entryID, agentID)
	if err != nil {
		return nil, fmt.Errorf("queue service: acquire lease: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%w: entry %s is being assigned", apperrors.ErrConflict, entryID)
	}
	defer func() {
		if err := s.lease.Release(ctx, entryID, agentID); err != nil {
			s.logger.Warn("queue service: release lease", zap.Error(err), zap.String("entry_id", entryID.String()))
		}
	}()

	if err := s.queue.Assign(ctx, entryID, agentID, s.now()); err != nil {
		return nil, err
	}

	entry, err := s.queue.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

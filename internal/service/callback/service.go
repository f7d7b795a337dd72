package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// Materializer promotes due callbacks into assignable queue entries.
type Materializer interface {
	Materialize(ctx context.Context, now time.Time) error
}

// Service manages scheduled callback commitments.
type Service struct {
	callbacks    repository.CallbackRepository
	materializer Materializer
	logger       *logger.Logger
	now          func() time.Time
}

// NewService builds the callback service.
func NewService(callbacks repository.CallbackRepository, materializer Materializer, lg *logger.Logger) *Service {
	return &Service{
		callbacks:    callbacks,
		materializer: materializer,
		logger:       lg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the fields for scheduling a callback directly, outside
// the outcome recording path.
type CreateInput struct {
	UserID                uuid.UUID
	ScheduledFor          time.Time
	Reason                string
	PreferredAgentID      *uuid.UUID
	OriginalCallSessionID uuid.UUID
}

// Create schedules a callback.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Callback, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if input.OriginalCallSessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: original call session id is required", apperrors.ErrValidation)
	}
	now := s.now()
	if !input.ScheduledFor.After(now) {
		return nil, fmt.Errorf("%w: scheduledFor must be in the future", apperrors.ErrValidation)
	}

	callback := &domain.Callback{
		ID:                    uuid.New(),
		UserID:                input.UserID,
		ScheduledFor:          input.ScheduledFor.UTC(),
		Reason:                input.Reason,
		PreferredAgentID:      input.PreferredAgentID,
		OriginalCallSessionID: input.OriginalCallSessionID,
		Status:                domain.CallbackPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.callbacks.Insert(ctx, callback); err != nil {
		return nil, fmt.Errorf("callback service: create: %w", err)
	}
	return callback, nil
}

// Get returns one callback by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	return s.callbacks.Get(ctx, id)
}

// List returns the filtered callback page, soonest scheduled first.
func (s *Service) List(ctx context.Context, q repository.CallbackQuery) ([]domain.Callback, error) {
	if q.Limit > 100 {
		return nil, fmt.Errorf("%w: limit must be at most 100", apperrors.ErrValidation)
	}
	return s.callbacks.List(ctx, q)
}

// Cancel abandons a pending callback.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.callbacks.Cancel(ctx, id)
}

// Complete links the session that honored the callback.
func (s *Service) Complete(ctx context.Context, id, completedSessionID uuid.UUID) error {
	return s.callbacks.Complete(ctx, id, completedSessionID)
}

// PromoteDue materializes every due pending callback into the call queue.
func (s *Service) PromoteDue(ctx context.Context) error {
	return s.materializer.Materialize(ctx, s.now())
}

package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

type fakeRepo struct {
	inserted []*domain.Callback
	listQ    repository.CallbackQuery
}

func (f *fakeRepo) Insert(ctx context.Context, callback *domain.Callback) error {
	f.inserted = append(f.inserted, callback)
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) List(ctx context.Context, q repository.CallbackQuery) ([]domain.Callback, error) {
	f.listQ = q
	return nil, nil
}

func (f *fakeRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Callback, error) {
	return nil, nil
}

func (f *fakeRepo) PendingUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	return map[uuid.UUID]struct{}{}, nil
}

func (f *fakeRepo) Complete(ctx context.Context, id, completedSessionID uuid.UUID) error { return nil }
func (f *fakeRepo) Cancel(ctx context.Context, id uuid.UUID) error                      { return nil }

type fakeMaterializer struct {
	runs int
}

func (f *fakeMaterializer) Materialize(ctx context.Context, now time.Time) error {
	f.runs++
	return nil
}

func newTestService(repo *fakeRepo, mat *fakeMaterializer) *Service {
	return NewService(repo, mat, &logger.Logger{Logger: zap.NewNop()})
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(&fakeRepo{}, &fakeMaterializer{})
	future := time.Now().UTC().Add(time.Hour)

	cases := []CreateInput{
		{ScheduledFor: future, OriginalCallSessionID: uuid.New()},
		{UserID: uuid.New(), ScheduledFor: future},
		{UserID: uuid.New(), OriginalCallSessionID: uuid.New(), ScheduledFor: time.Now().UTC().Add(-time.Minute)},
	}

	for _, input := range cases {
		if _, err := svc.Create(context.Background(), input); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("input %+v: err = %v, want validation error", input, err)
		}
	}
}

func TestCreatePendingCallback(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeMaterializer{})

	when := time.Now().UTC().Add(2 * time.Hour)
	callback, err := svc.Create(context.Background(), CreateInput{
		UserID:                uuid.New(),
		ScheduledFor:          when,
		Reason:                "prefers afternoons",
		OriginalCallSessionID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if callback.Status != domain.CallbackPending {
		t.Errorf("status = %s, want pending", callback.Status)
	}
	if !callback.ScheduledFor.Equal(when) {
		t.Errorf("scheduled for = %v, want %v", callback.ScheduledFor, when)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(repo.inserted))
	}
}

func TestListRejectsOversizedLimit(t *testing.T) {
	svc := newTestService(&fakeRepo{}, &fakeMaterializer{})

	if _, err := svc.List(context.Background(), repository.CallbackQuery{Limit: 101}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestPromoteDueDelegates(t *testing.T) {
	mat := &fakeMaterializer{}
	svc := newTestService(&fakeRepo{}, mat)

	if err := svc.PromoteDue(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mat.runs != 1 {
		t.Errorf("materializer runs = %d, want 1", mat.runs)
	}
}

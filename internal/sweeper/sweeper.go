package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/app"
)

// Sweeper periodically closes abandoned call sessions and promotes due
// callbacks into the assignable queue.
type Sweeper struct {
	container *app.Container
}

// New constructs a sweeper.
func New(container *app.Container) *Sweeper {
	return &Sweeper{container: container}
}

// Run executes the sweep loop until cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	cfg := s.container.Config
	interval := cfg.Sweeper.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lock := s.container.SweepLock()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.container.Logger.Warn("sweeper: release lock", zap.Error(err))
		}
	}()

	for {
		held, err := lock.TryAcquire(ctx)
		if err != nil && ctx.Err() == nil {
			s.container.Logger.Error("sweeper: acquire lock", zap.Error(err))
		}
		if held {
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.container.Logger.Error("sweeper tick failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) error {
	cfg := s.container.Config
	services := s.container.Services()
	sessions := s.container.Repositories().Sessions
	logger := s.container.Logger

	tracer := otel.Tracer("rmcdialer.sweeper")
	sctx, span := tracer.Start(ctx, "sweeper.tick")
	defer span.End()

	now := time.Now().UTC()

	staleAfter := cfg.Sweeper.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	batch := cfg.Sweeper.MaxBatchSize
	if batch <= 0 {
		batch = 50
	}

	stale, err := sessions.ListStale(sctx, now.Add(-staleAfter), batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("sessions.stale", len(stale)))

	for _, session := range stale {
		fctx, fspan := tracer.Start(sctx, "sweeper.force_failure", trace.WithAttributes(
			attribute.String("session.id", session.ID.String()),
		))
		if err := services.Outcome.ForceFailure(fctx, session.ID); err != nil {
			fspan.RecordError(err)
			logger.Error("sweeper: force failure", zap.Error(err), zap.String("session_id", session.ID.String()))
		} else {
			logger.Info("sweeper: abandoned session closed",
				zap.String("session_id", session.ID.String()), zap.Time("started_at", session.StartedAt))
		}
		fspan.End()
	}

	if err := services.Callback.PromoteDue(sctx); err != nil {
		span.RecordError(err)
		logger.Error("sweeper: promote due callbacks", zap.Error(err))
	}

	return nil
}

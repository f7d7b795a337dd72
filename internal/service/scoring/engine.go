package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
)

// Override carries caller-supplied replacements for the default rule. When a
// field is set, it wins over the canonical table.
type Override struct {
	ScoreAdjustment *int
	DelayHours      *int
}

// Engine computes and applies outcome-driven score adjustments. It owns every
// mutation of the score store.
type Engine struct {
	scores repository.ScoreRepository
	now    func() time.Time
}

// NewEngine builds the scoring engine over the default score repository.
func NewEngine(scores repository.ScoreRepository) *Engine {
	return &Engine{scores: scores, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve maps an outcome plus overrides onto the concrete change to apply.
func (e *Engine) Resolve(outcome domain.OutcomeType, override Override) repository.ScoreChange {
	rule := domain.RuleFor(outcome)

	change := repository.ScoreChange{
		Outcome:    outcome,
		Delta:      rule.ScoreDelta,
		Delay:      rule.Delay,
		Successful: outcome == domain.OutcomeContacted,
		Now:        e.now(),
	}
	if override.ScoreAdjustment != nil {
		change.Delta = *override.ScoreAdjustment
	}
	if override.DelayHours != nil {
		change.Delay = time.Duration(*override.DelayHours) * time.Hour
	}
	return change
}

// Adjust applies an outcome to the user's score through the engine's own
// repository. The upsert seeds new users at max(0, delta) and clamps every
// increment at zero.
func (e *Engine) Adjust(ctx context.Context, userID uuid.UUID, outcome domain.OutcomeType, override Override) (*domain.UserCallScore, error) {
	return e.AdjustWith(ctx, e.scores, userID, outcome, override)
}

// AdjustWith applies an outcome through the supplied repository, so the
// update can join an open outcome transaction and roll back with it.
func (e *Engine) AdjustWith(ctx context.Context, scores repository.ScoreRepository, userID uuid.UUID, outcome domain.OutcomeType, override Override) (*domain.UserCallScore, error) {
	change := e.Resolve(outcome, override)

	score, err := scores.Apply(ctx, userID, change)
	if err != nil {
		return nil, fmt.Errorf("scoring engine: apply %s for user %s: %w", outcome, userID, err)
	}
	return score, nil
}

// Get returns the current score record for a user.
func (e *Engine) Get(ctx context.Context, userID uuid.UUID) (*domain.UserCallScore, error) {
	score, err := e.scores.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return score, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
)

// ScoreRepository implements repository.ScoreRepository using PostgreSQL.
type ScoreRepository struct {
	db sqlx.ExtContext
}

// NewScoreRepository constructs a new repository.
func NewScoreRepository(db sqlx.ExtContext) *ScoreRepository {
	return &ScoreRepository{db: db}
}

const scoreColumns = `user_id, current_score, base_score, outcome_penalty_score, time_penalty_score,
	next_call_after, last_call_at, last_outcome, total_attempts, successful_calls, created_at, updated_at`

// Get fetches the score record for a user.
func (r *ScoreRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UserCallScore, error) {
	q := `SELECT ` + scoreColumns + ` FROM user_call_scores WHERE user_id = $1`

	var record scoreRecord
	if err := r.db.QueryRowxContext(ctx, q, userID).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("score repo: get: %w", err)
	}

	score := record.toDomain()
	return &score, nil
}

// Apply upserts the user's score atomically. The floor of zero is enforced in
// SQL on both the seed and every increment so concurrent updates never race a
// read-modify-write in application memory.
func (r *ScoreRepository) Apply(ctx context.Context, userID uuid.UUID, change repository.ScoreChange) (*domain.UserCallScore, error) {
	nextCallAfter := change.Now.Add(change.Delay)
	successful := 0
	if change.Successful {
		successful = 1
	}

	q := `INSERT INTO user_call_scores AS ucs (
		user_id, current_score, base_score, outcome_penalty_score, time_penalty_score,
		next_call_after, last_call_at, last_outcome, total_attempts, successful_calls,
		created_at, updated_at
	) VALUES ($1, GREATEST(0, $2::int), 0, $2, 0, $3, $4, $5, 1, $6, $4, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		current_score = GREATEST(0, ucs.current_score + $2),
		outcome_penalty_score = ucs.outcome_penalty_score + $2,
		next_call_after = $3,
		last_call_at = $4,
		last_outcome = $5,
		total_attempts = ucs.total_attempts + 1,
		successful_calls = ucs.successful_calls + $6,
		updated_at = $4
	RETURNING ` + scoreColumns

	var record scoreRecord
	err := r.db.QueryRowxContext(ctx, q,
		userID, change.Delta, nextCallAfter, change.Now, string(change.Outcome), successful,
	).StructScan(&record)
	if err != nil {
		return nil, fmt.Errorf("score repo: apply: %w", err)
	}

	score := record.toDomain()
	return &score, nil
}

// ListEligible returns scores ready for a fresh priority call. Users holding
// a live queue entry or a pending callback are excluded; a committed callback
// owns the next attempt for its user.
func (r *ScoreRepository) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.UserCallScore, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + scoreColumns + ` FROM user_call_scores s
		WHERE (s.next_call_after IS NULL OR s.next_call_after <= $1)
		  AND NOT EXISTS (
			SELECT 1 FROM call_queue_entries e
			WHERE e.user_id = s.user_id AND e.status IN ('pending', 'assigned')
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM callbacks cb
			WHERE cb.user_id = s.user_id AND cb.status = 'pending'
		  )
		ORDER BY s.current_score ASC, s.created_at ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("score repo: list eligible: %w", err)
	}
	defer rows.Close()

	var results []domain.UserCallScore
	for rows.Next() {
		var record scoreRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("score repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("score repo: rows err: %w", err)
	}

	return results, nil
}

type scoreRecord struct {
	UserID              uuid.UUID      `db:"user_id"`
	CurrentScore        int            `db:"current_score"`
	BaseScore           int            `db:"base_score"`
	OutcomePenaltyScore int            `db:"outcome_penalty_score"`
	TimePenaltyScore    int            `db:"time_penalty_score"`
	NextCallAfter       sql.NullTime   `db:"next_call_after"`
	LastCallAt          sql.NullTime   `db:"last_call_at"`
	LastOutcome         sql.NullString `db:"last_outcome"`
	TotalAttempts       int            `db:"total_attempts"`
	SuccessfulCalls     int            `db:"successful_calls"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r scoreRecord) toDomain() domain.UserCallScore {
	score := domain.UserCallScore{
		UserID:              r.UserID,
		CurrentScore:        r.CurrentScore,
		BaseScore:           r.BaseScore,
		OutcomePenaltyScore: r.OutcomePenaltyScore,
		TimePenaltyScore:    r.TimePenaltyScore,
		LastOutcome:         domain.OutcomeType(r.LastOutcome.String),
		TotalAttempts:       r.TotalAttempts,
		SuccessfulCalls:     r.SuccessfulCalls,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.NextCallAfter.Valid {
		t := r.NextCallAfter.Time
		score.NextCallAfter = &t
	}
	if r.LastCallAt.Valid {
		t := r.LastCallAt.Time
		score.LastCallAt = &t
	}
	return score
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
)

// OutcomeRepository implements repository.OutcomeRepository using PostgreSQL.
// Outcomes are append-only; there is no update path.
type OutcomeRepository struct {
	db sqlx.ExtContext
}

// NewOutcomeRepository constructs a new repository.
func NewOutcomeRepository(db sqlx.ExtContext) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Insert appends an outcome record.
func (r *OutcomeRepository) Insert(ctx context.Context, outcome *domain.CallOutcome) error {
	docs, err := json.Marshal(outcome.DocumentsRequested)
	if err != nil {
		return fmt.Errorf("outcome repo: marshal documents: %w", err)
	}

	q := `INSERT INTO call_outcomes (
		id, call_session_id, user_id, outcome_type, outcome_notes,
		next_call_delay_hours, score_adjustment, magic_link_sent, sms_sent,
		documents_requested, recorded_by_agent_id, created_at
	) VALUES (
		:id, :call_session_id, :user_id, :outcome_type, :outcome_notes,
		:next_call_delay_hours, :score_adjustment, :magic_link_sent, :sms_sent,
		:documents_requested, :recorded_by_agent_id, :created_at
	)`

	params := map[string]any{
		"id":                    outcome.ID,
		"call_session_id":       outcome.CallSessionID,
		"user_id":               outcome.UserID,
		"outcome_type":          string(outcome.OutcomeType),
		"outcome_notes":         outcome.OutcomeNotes,
		"next_call_delay_hours": outcome.NextCallDelayHours,
		"score_adjustment":      outcome.ScoreAdjustment,
		"magic_link_sent":       outcome.MagicLinkSent,
		"sms_sent":              outcome.SMSSent,
		"documents_requested":   docs,
		"recorded_by_agent_id":  outcome.RecordedByAgentID,
		"created_at":            outcome.CreatedAt,
	}

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, params); err != nil {
		return fmt.Errorf("outcome repo: insert: %w", err)
	}
	return nil
}

// ListBySession lists outcomes for one session, oldest first.
func (r *OutcomeRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.CallOutcome, error) {
	q := `SELECT id, call_session_id, user_id, outcome_type, outcome_notes,
			next_call_delay_hours, score_adjustment, magic_link_sent, sms_sent,
			documents_requested, recorded_by_agent_id, created_at
		FROM call_outcomes WHERE call_session_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryxContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("outcome repo: list by session: %w", err)
	}
	defer rows.Close()

	var results []domain.CallOutcome
	for rows.Next() {
		var record outcomeRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("outcome repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome repo: rows err: %w", err)
	}

	return results, nil
}

// CountByUser counts recorded outcomes for one user.
func (r *OutcomeRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM call_outcomes WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("outcome repo: count by user: %w", err)
	}
	return n, nil
}

type outcomeRecord struct {
	ID                 uuid.UUID `db:"id"`
	CallSessionID      uuid.UUID `db:"call_session_id"`
	UserID             uuid.UUID `db:"user_id"`
	OutcomeType        string    `db:"outcome_type"`
	OutcomeNotes       string    `db:"outcome_notes"`
	NextCallDelayHours int       `db:"next_call_delay_hours"`
	ScoreAdjustment    int       `db:"score_adjustment"`
	MagicLinkSent      bool      `db:"magic_link_sent"`
	SMSSent            bool      `db:"sms_sent"`
	Documents          []byte    `db:"documents_requested"`
	RecordedByAgentID  uuid.UUID `db:"recorded_by_agent_id"`
	CreatedAt          time.Time `db:"created_at"`
}

func (r outcomeRecord) toDomain() domain.CallOutcome {
	var docs []domain.DocumentType
	_ = json.Unmarshal(r.Documents, &docs)

	return domain.CallOutcome{
		ID:                 r.ID,
		CallSessionID:      r.CallSessionID,
		UserID:             r.UserID,
		OutcomeType:        domain.OutcomeType(r.OutcomeType),
		OutcomeNotes:       r.OutcomeNotes,
		NextCallDelayHours: r.NextCallDelayHours,
		ScoreAdjustment:    r.ScoreAdjustment,
		MagicLinkSent:      r.MagicLinkSent,
		SMSSent:            r.SMSSent,
		DocumentsRequested: docs,
		RecordedByAgentID:  r.RecordedByAgentID,
		CreatedAt:          r.CreatedAt,
	}
}

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

// CallbackRepository implements repository.CallbackRepository using PostgreSQL.
type CallbackRepository struct {
	db sqlx.ExtContext
}

// NewCallbackRepository constructs a new repository.
func NewCallbackRepository(db sqlx.ExtContext) *CallbackRepository {
	return &CallbackRepository{db: db}
}

const callbackColumns = `id, user_id, scheduled_for, callback_reason, preferred_agent_id,
	original_call_session_id, completed_call_session_id, status, created_at, updated_at`

// Insert stores a new callback.
func (r *CallbackRepository) Insert(ctx context.Context, callback *domain.Callback) error {
	q := `INSERT INTO callbacks (
		id, user_id, scheduled_for, callback_reason, preferred_agent_id,
		original_call_session_id, completed_call_session_id, status, created_at, updated_at
	) VALUES (
		:id, :user_id, :scheduled_for, :callback_reason, :preferred_agent_id,
		:original_call_session_id, :completed_call_session_id, :status, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":                        callback.ID,
		"user_id":                   callback.UserID,
		"scheduled_for":             callback.ScheduledFor,
		"callback_reason":           callback.Reason,
		"preferred_agent_id":        callback.PreferredAgentID,
		"original_call_session_id":  callback.OriginalCallSessionID,
		"completed_call_session_id": callback.CompletedCallSessionID,
		"status":                    string(callback.Status),
		"created_at":                callback.CreatedAt,
		"updated_at":                callback.UpdatedAt,
	}

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, params); err != nil {
		return fmt.Errorf("callback repo: insert: %w", err)
	}
	return nil
}

// Get fetches a callback by id.
func (r *CallbackRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	q := `SELECT ` + callbackColumns + ` FROM callbacks WHERE id = $1`

	var record callbackRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("callback repo: get: %w", err)
	}

	callback := record.toDomain()
	return &callback, nil
}

// List returns callbacks matching the filters, ordered by scheduled time.
func (r *CallbackRepository) List(ctx context.Context, q repository.CallbackQuery) ([]domain.Callback, error) {
	where := `WHERE 1=1`
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(clause, len(args))
	}

	if q.PreferredAgentID != nil {
		add(` AND preferred_agent_id = $%d`, *q.PreferredAgentID)
	}
	if q.Status != nil {
		add(` AND status = $%d`, string(*q.Status))
	}
	if q.From != nil {
		add(` AND scheduled_for >= $%d`, *q.From)
	}
	if q.To != nil {
		add(` AND scheduled_for <= $%d`, *q.To)
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := 0
	if q.Page > 1 {
		offset = (q.Page - 1) * limit
	}

	query := `SELECT ` + callbackColumns + ` FROM callbacks ` + where +
		fmt.Sprintf(` ORDER BY scheduled_for ASC OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("callback repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.Callback
	for rows.Next() {
		var record callbackRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("callback repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callback repo: rows err: %w", err)
	}

	return results, nil
}

// ListDue returns pending callbacks whose scheduled time has passed. Overdue
// callbacks stay due until they are completed or cancelled.
func (r *CallbackRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Callback, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + callbackColumns + ` FROM callbacks
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("callback repo: list due: %w", err)
	}
	defer rows.Close()

	var results []domain.Callback
	for rows.Next() {
		var record callbackRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("callback repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callback repo: rows err: %w", err)
	}

	return results, nil
}

// PendingUsers reports which of the given users hold a pending callback.
func (r *CallbackRepository) PendingUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	held := make(map[uuid.UUID]struct{}, len(userIDs))
	if len(userIDs) == 0 {
		return held, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	q := `SELECT DISTINCT user_id FROM callbacks WHERE status = 'pending' AND user_id = ANY($1::uuid[])`

	rows, err := r.db.QueryxContext(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("callback repo: pending users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("callback repo: scan: %w", err)
		}
		held[userID] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callback repo: rows err: %w", err)
	}

	return held, nil
}

// Complete marks a pending callback completed and links the resulting session.
func (r *CallbackRepository) Complete(ctx context.Context, id, completedSessionID uuid.UUID) error {
	q := `UPDATE callbacks
		SET status = 'completed', completed_call_session_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, q, id, completedSessionID)
	if err != nil {
		return fmt.Errorf("callback repo: complete: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Cancel marks a pending callback cancelled.
func (r *CallbackRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE callbacks SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("callback repo: cancel: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *CallbackRepository) checkTransition(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("callback repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

type callbackRecord struct {
	ID                     uuid.UUID    `db:"id"`
	UserID                 uuid.UUID    `db:"user_id"`
	ScheduledFor           time.Time    `db:"scheduled_for"`
	Reason                 string       `db:"callback_reason"`
	PreferredAgentID       *uuid.UUID   `db:"preferred_agent_id"`
	OriginalCallSessionID  uuid.UUID    `db:"original_call_session_id"`
	CompletedCallSessionID *uuid.UUID   `db:"completed_call_session_id"`
	Status                 string       `db:"status"`
	CreatedAt              time.Time    `db:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at"`
}

func (r callbackRecord) toDomain() domain.Callback {
	return domain.Callback{
		ID:                     r.ID,
		UserID:                 r.UserID,
		ScheduledFor:           r.ScheduledFor,
		Reason:                 r.Reason,
		PreferredAgentID:       r.PreferredAgentID,
		OriginalCallSessionID:  r.OriginalCallSessionID,
		CompletedCallSessionID: r.CompletedCallSessionID,
		Status:                 domain.CallbackStatus(r.Status),
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

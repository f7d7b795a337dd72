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

// QueueRepository implements repository.QueueRepository using PostgreSQL.
type QueueRepository struct {
	db sqlx.ExtContext
}

// NewQueueRepository constructs a new repository.
func NewQueueRepository(db sqlx.ExtContext) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, user_id, claim_id, queue_type, priority_score, status,
	assigned_to_agent_id, assigned_at, callback_id, available_from, created_at, updated_at`

// Insert stores a new queue entry.
func (r *QueueRepository) Insert(ctx context.Context, entry *domain.CallQueueEntry) error {
	q := `INSERT INTO call_queue_entries (
		id, user_id, claim_id, queue_type, priority_score, status,
		assigned_to_agent_id, assigned_at, callback_id, available_from, created_at, updated_at
	) VALUES (
		:id, :user_id, :claim_id, :queue_type, :priority_score, :status,
		:assigned_to_agent_id, :assigned_at, :callback_id, :available_from, :created_at, :updated_at
	)`

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, entryParams(entry)); err != nil {
		return fmt.Errorf("queue repo: insert: %w", err)
	}
	return nil
}

// InsertForCallback stores a callback entry at most once per callback id, so
// repeated promotion sweeps stay idempotent.
func (r *QueueRepository) InsertForCallback(ctx context.Context, entry *domain.CallQueueEntry) error {
	q := `INSERT INTO call_queue_entries (
		id, user_id, claim_id, queue_type, priority_score, status,
		assigned_to_agent_id, assigned_at, callback_id, available_from, created_at, updated_at
	) VALUES (
		:id, :user_id, :claim_id, :queue_type, :priority_score, :status,
		:assigned_to_agent_id, :assigned_at, :callback_id, :available_from, :created_at, :updated_at
	) ON CONFLICT (callback_id) WHERE callback_id IS NOT NULL DO NOTHING`

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, entryParams(entry)); err != nil {
		return fmt.Errorf("queue repo: insert for callback: %w", err)
	}
	return nil
}

// Get fetches a queue entry by id.
func (r *QueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	q := `SELECT ` + queueColumns + ` FROM call_queue_entries WHERE id = $1`

	var record queueEntryRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("queue repo: get: %w", err)
	}

	entry := record.toDomain()
	return &entry, nil
}

// ListAssignable returns pending entries visible to the agent, in assignment
// order: queue type precedence, then priority score, then age. Callback
// entries held for a different preferred agent stay hidden until they are
// overdue past the affinity grace window.
func (r *QueueRepository) ListAssignable(ctx context.Context, q repository.AssignableQuery) ([]domain.CallQueueEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 25
	}
	graceCutoff := q.Now.Add(-q.AffinityGrace)

	query := `SELECT e.id, e.user_id, e.claim_id, e.queue_type, e.priority_score, e.status,
			e.assigned_to_agent_id, e.assigned_at, e.callback_id, e.available_from, e.created_at, e.updated_at
		FROM call_queue_entries e
		LEFT JOIN callbacks c ON c.id = e.callback_id
		WHERE e.status = 'pending'
		  AND (e.available_from IS NULL OR e.available_from <= $1)
		  AND (c.preferred_agent_id IS NULL OR c.preferred_agent_id = $2 OR e.available_from <= $3)
		ORDER BY CASE e.queue_type WHEN 'callback' THEN 0 WHEN 'priority_call' THEN 1 ELSE 2 END,
			e.priority_score ASC,
			COALESCE(e.available_from, e.created_at) ASC
		OFFSET $4 LIMIT $5`

	rows, err := r.db.QueryxContext(ctx, query, q.Now, q.AgentID, graceCutoff, q.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: list assignable: %w", err)
	}
	defer rows.Close()

	var results []domain.CallQueueEntry
	for rows.Next() {
		var record queueEntryRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("queue repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue repo: rows err: %w", err)
	}

	return results, nil
}

// Assign marks a pending entry assigned to the agent. A concurrent assignment
// of the same entry, or of any other entry for the same user, loses the
// conditional update and surfaces as ErrConflict.
func (r *QueueRepository) Assign(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	q := `UPDATE call_queue_entries
		SET status = 'assigned', assigned_to_agent_id = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM call_queue_entries held
			WHERE held.user_id = call_queue_entries.user_id
			  AND held.status = 'assigned'
			  AND held.id <> call_queue_entries.id
		  )`

	res, err := r.db.ExecContext(ctx, q, entryID, agentID, at)
	if err != nil {
		return fmt.Errorf("queue repo: assign: %w", err)
	}
	return r.checkAssigned(ctx, res, entryID)
}

// MarkAssigned assigns an entry at call initiation, tolerating an entry
// already held by the same agent.
func (r *QueueRepository) MarkAssigned(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	q := `UPDATE call_queue_entries
		SET status = 'assigned', assigned_to_agent_id = $2, assigned_at = COALESCE(assigned_at, $3), updated_at = $3
		WHERE id = $1 AND (status = 'pending' OR (status = 'assigned' AND assigned_to_agent_id = $2))
		  AND NOT EXISTS (
			SELECT 1 FROM call_queue_entries held
			WHERE held.user_id = call_queue_entries.user_id
			  AND held.status = 'assigned'
			  AND held.id <> call_queue_entries.id
		  )`

	res, err := r.db.ExecContext(ctx, q, entryID, agentID, at)
	if err != nil {
		return fmt.Errorf("queue repo: mark assigned: %w", err)
	}
	return r.checkAssigned(ctx, res, entryID)
}

func (r *QueueRepository) checkAssigned(ctx context.Context, res sql.Result, entryID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, entryID); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

// SetStatus retires or reopens an entry.
func (r *QueueRepository) SetStatus(ctx context.Context, entryID uuid.UUID, status domain.QueueEntryStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_queue_entries SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), entryID)
	if err != nil {
		return fmt.Errorf("queue repo: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func entryParams(entry *domain.CallQueueEntry) map[string]any {
	return map[string]any{
		"id":                   entry.ID,
		"user_id":              entry.UserID,
		"claim_id":             entry.ClaimID,
		"queue_type":           string(entry.QueueType),
		"priority_score":       entry.PriorityScore,
		"status":               string(entry.Status),
		"assigned_to_agent_id": entry.AssignedToAgentID,
		"assigned_at":          entry.AssignedAt,
		"callback_id":          entry.CallbackID,
		"available_from":       entry.AvailableFrom,
		"created_at":           entry.CreatedAt,
		"updated_at":           entry.UpdatedAt,
	}
}

type queueEntryRecord struct {
	ID                uuid.UUID      `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	ClaimID           *uuid.UUID     `db:"claim_id"`
	QueueType         string         `db:"queue_type"`
	PriorityScore     int            `db:"priority_score"`
	Status            string         `db:"status"`
	AssignedToAgentID *uuid.UUID     `db:"assigned_to_agent_id"`
	AssignedAt        sql.NullTime   `db:"assigned_at"`
	CallbackID        *uuid.UUID     `db:"callback_id"`
	AvailableFrom     sql.NullTime   `db:"available_from"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r queueEntryRecord) toDomain() domain.CallQueueEntry {
	entry := domain.CallQueueEntry{
		ID:                r.ID,
		UserID:            r.UserID,
		ClaimID:           r.ClaimID,
		QueueType:         domain.QueueType(r.QueueType),
		PriorityScore:     r.PriorityScore,
		Status:            domain.QueueEntryStatus(r.Status),
		AssignedToAgentID: r.AssignedToAgentID,
		CallbackID:        r.CallbackID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.AssignedAt.Valid {
		t := r.AssignedAt.Time
		entry.AssignedAt = &t
	}
	if r.AvailableFrom.Valid {
		t := r.AvailableFrom.Time
		entry.AvailableFrom = &t
	}
	return entry
}

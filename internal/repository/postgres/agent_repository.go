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

// AgentRepository implements repository.AgentRepository using PostgreSQL.
type AgentRepository struct {
	db sqlx.ExtContext
}

// NewAgentRepository constructs a new repository.
func NewAgentRepository(db sqlx.ExtContext) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = `agent_id, status, current_call_session_id, calls_completed_today,
	total_talk_time_seconds, last_activity`

// Get fetches the agent's session record.
func (r *AgentRepository) Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentSession, error) {
	q := `SELECT ` + agentColumns + ` FROM agent_sessions WHERE agent_id = $1`

	var record agentRecord
	if err := r.db.QueryRowxContext(ctx, q, agentID).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent repo: get: %w", err)
	}

	session := record.toDomain()
	return &session, nil
}

// Upsert creates or replaces the agent's session record.
func (r *AgentRepository) Upsert(ctx context.Context, session *domain.AgentSession) error {
	q := `INSERT INTO agent_sessions (
		agent_id, status, current_call_session_id, calls_completed_today,
		total_talk_time_seconds, last_activity
	) VALUES (
		:agent_id, :status, :current_call_session_id, :calls_completed_today,
		:total_talk_time_seconds, :last_activity
	) ON CONFLICT (agent_id) DO UPDATE SET
		status = EXCLUDED.status,
		current_call_session_id = EXCLUDED.current_call_session_id,
		last_activity = EXCLUDED.last_activity`

	params := map[string]any{
		"agent_id":                session.AgentID,
		"status":                  string(session.Status),
		"current_call_session_id": session.CurrentCallSessionID,
		"calls_completed_today":   session.CallsCompletedToday,
		"total_talk_time_seconds": session.TotalTalkTimeSeconds,
		"last_activity":           session.LastActivity,
	}

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, params); err != nil {
		return fmt.Errorf("agent repo: upsert: %w", err)
	}
	return nil
}

// MarkOnCall flips an available or on-break agent to on_call. An agent
// already holding a call loses the conditional update and gets ErrConflict.
func (r *AgentRepository) MarkOnCall(ctx context.Context, agentID, sessionID uuid.UUID, at time.Time) error {
	q := `UPDATE agent_sessions
		SET status = 'on_call', current_call_session_id = $2, last_activity = $3
		WHERE agent_id = $1 AND status IN ('available', 'break')`

	res, err := r.db.ExecContext(ctx, q, agentID, sessionID, at)
	if err != nil {
		return fmt.Errorf("agent repo: mark on call: %w", err)
	}
	return r.checkTransition(ctx, res, agentID)
}

// Release returns the agent to the availability pool. The session id guard
// keeps a late webhook for an old call from clobbering a newer one.
func (r *AgentRepository) Release(ctx context.Context, agentID, sessionID uuid.UUID, talkTimeSeconds int, at time.Time) error {
	q := `UPDATE agent_sessions
		SET status = 'available',
			current_call_session_id = NULL,
			calls_completed_today = calls_completed_today + 1,
			total_talk_time_seconds = total_talk_time_seconds + $3,
			last_activity = $4
		WHERE agent_id = $1 AND current_call_session_id = $2`

	res, err := r.db.ExecContext(ctx, q, agentID, sessionID, talkTimeSeconds, at)
	if err != nil {
		return fmt.Errorf("agent repo: release: %w", err)
	}
	return r.checkTransition(ctx, res, agentID)
}

// SetStatus applies an agent-driven availability change.
func (r *AgentRepository) SetStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_sessions SET status = $2, last_activity = $3 WHERE agent_id = $1`,
		agentID, string(status), at)
	if err != nil {
		return fmt.Errorf("agent repo: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("agent repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AgentRepository) checkTransition(ctx context.Context, res sql.Result, agentID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("agent repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, agentID); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

type agentRecord struct {
	AgentID              uuid.UUID  `db:"agent_id"`
	Status               string     `db:"status"`
	CurrentCallSessionID *uuid.UUID `db:"current_call_session_id"`
	CallsCompletedToday  int        `db:"calls_completed_today"`
	TotalTalkTimeSeconds int        `db:"total_talk_time_seconds"`
	LastActivity         time.Time  `db:"last_activity"`
}

func (r agentRecord) toDomain() domain.AgentSession {
	return domain.AgentSession{
		AgentID:              r.AgentID,
		Status:               domain.AgentStatus(r.Status),
		CurrentCallSessionID: r.CurrentCallSessionID,
		CallsCompletedToday:  r.CallsCompletedToday,
		TotalTalkTimeSeconds: r.TotalTalkTimeSeconds,
		LastActivity:         r.LastActivity,
	}
}

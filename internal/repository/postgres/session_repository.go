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

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db sqlx.ExtContext
}

// NewSessionRepository constructs a new repository.
func NewSessionRepository(db sqlx.ExtContext) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, agent_id, call_queue_id, twilio_call_sid, status, direction,
	started_at, connected_at, ended_at, duration_seconds, talk_time_seconds,
	user_claims_context, created_at, updated_at`

// Create inserts a new call session.
func (r *SessionRepository) Create(ctx context.Context, session *domain.CallSession) error {
	q := `INSERT INTO call_sessions (
		id, user_id, agent_id, call_queue_id, twilio_call_sid, status, direction,
		started_at, connected_at, ended_at, duration_seconds, talk_time_seconds,
		user_claims_context, created_at, updated_at
	) VALUES (
		:id, :user_id, :agent_id, :call_queue_id, :twilio_call_sid, :status, :direction,
		:started_at, :connected_at, :ended_at, :duration_seconds, :talk_time_seconds,
		:user_claims_context, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":                  session.ID,
		"user_id":             session.UserID,
		"agent_id":            session.AgentID,
		"call_queue_id":       session.CallQueueID,
		"twilio_call_sid":     session.TwilioCallSid,
		"status":              string(session.Status),
		"direction":           string(session.Direction),
		"started_at":          session.StartedAt,
		"connected_at":        session.ConnectedAt,
		"ended_at":            session.EndedAt,
		"duration_seconds":    session.DurationSeconds,
		"talk_time_seconds":   session.TalkTimeSeconds,
		"user_claims_context": session.UserClaimsContext,
		"created_at":          session.CreatedAt,
		"updated_at":          session.UpdatedAt,
	}

	if _, err := sqlx.NamedExecContext(ctx, r.db, q, params); err != nil {
		return fmt.Errorf("session repo: insert: %w", err)
	}
	return nil
}

// Get fetches a session by id.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

// GetByCallSid fetches a session by the provider call SID.
func (r *SessionRepository) GetByCallSid(ctx context.Context, callSid string) (*domain.CallSession, error) {
	return r.getWhere(ctx, `twilio_call_sid = $1`, callSid)
}

func (r *SessionRepository) getWhere(ctx context.Context, where string, arg any) (*domain.CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE ` + where

	var record sessionRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("session repo: get: %w", err)
	}

	session := record.toDomain()
	return &session, nil
}

// SetCallSid records the provider call SID once the dial is placed.
func (r *SessionRepository) SetCallSid(ctx context.Context, id uuid.UUID, callSid string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET twilio_call_sid = $1, updated_at = now() WHERE id = $2`,
		callSid, id)
	if err != nil {
		return fmt.Errorf("session repo: set call sid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetProgress applies a non-terminal transition. The first transition into
// connected stamps connected_at; a repeated in-progress event leaves the
// original stamp untouched.
func (r *SessionRepository) SetProgress(ctx context.Context, id uuid.UUID, status domain.SessionStatus, at time.Time) error {
	q := `UPDATE call_sessions SET
		status = $2,
		connected_at = CASE WHEN $2 = 'connected' THEN COALESCE(connected_at, $3) ELSE connected_at END,
		updated_at = $3
	WHERE id = $1 AND status NOT IN ('completed', 'failed', 'no_answer')`

	res, err := r.db.ExecContext(ctx, q, id, string(status), at)
	if err != nil {
		return fmt.Errorf("session repo: set progress: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Terminate applies a terminal status. ended_at is stamped exactly once and
// the derived durations use the stamped timestamps, not wall clock at commit
// time. An already-terminal session yields ErrConflict so replayed webhook
// events never double-apply.
func (r *SessionRepository) Terminate(ctx context.Context, id uuid.UUID, status domain.SessionStatus, endedAt time.Time) (*domain.CallSession, error) {
	q := `UPDATE call_sessions SET
		status = $2,
		ended_at = $3,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - started_at))::int),
		talk_time_seconds = CASE
			WHEN connected_at IS NULL THEN 0
			ELSE GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - connected_at))::int)
		END,
		updated_at = $3
	WHERE id = $1 AND status NOT IN ('completed', 'failed', 'no_answer')
	RETURNING ` + sessionColumns

	var record sessionRecord
	if err := r.db.QueryRowxContext(ctx, q, id, string(status), endedAt).StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("session repo: terminate: %w", err)
	}

	session := record.toDomain()
	return &session, nil
}

func (r *SessionRepository) checkTransition(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

// History lists sessions matching the filters, newest first.
func (r *SessionRepository) History(ctx context.Context, q repository.HistoryQuery) ([]domain.CallSession, error) {
	where, args := historyFilter(q)
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := 0
	if q.Page > 1 {
		offset = (q.Page - 1) * limit
	}

	query := `SELECT ` + prefixedSessionColumns + ` FROM call_sessions s ` + where +
		fmt.Sprintf(` ORDER BY s.started_at DESC OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session repo: history: %w", err)
	}
	defer rows.Close()

	var results []domain.CallSession
	for rows.Next() {
		var record sessionRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("session repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session repo: rows err: %w", err)
	}

	return results, nil
}

// Aggregates computes summary counters over the filtered history.
func (r *SessionRepository) Aggregates(ctx context.Context, q repository.HistoryQuery) (*repository.HistoryAggregates, error) {
	where, args := historyFilter(q)

	summary := `SELECT
		COUNT(*) AS total_calls,
		COUNT(*) FILTER (WHERE EXISTS (
			SELECT 1 FROM call_outcomes o WHERE o.call_session_id = s.id AND o.outcome_type = 'contacted'
		)) AS contacted_calls,
		COALESCE(AVG(s.duration_seconds) FILTER (WHERE s.ended_at IS NOT NULL), 0) AS avg_duration_seconds,
		COALESCE(AVG(s.talk_time_seconds) FILTER (WHERE s.connected_at IS NOT NULL), 0) AS avg_talk_time_seconds
	FROM call_sessions s ` + where

	var agg struct {
		TotalCalls         int64   `db:"total_calls"`
		ContactedCalls     int64   `db:"contacted_calls"`
		AvgDurationSeconds float64 `db:"avg_duration_seconds"`
		AvgTalkTimeSeconds float64 `db:"avg_talk_time_seconds"`
	}
	if err := r.db.QueryRowxContext(ctx, summary, args...).StructScan(&agg); err != nil {
		return nil, fmt.Errorf("session repo: aggregates: %w", err)
	}

	byOutcome := `SELECT o.outcome_type, COUNT(*) AS n
		FROM call_outcomes o
		JOIN call_sessions s ON s.id = o.call_session_id ` + where + `
		GROUP BY o.outcome_type`

	rows, err := r.db.QueryxContext(ctx, byOutcome, args...)
	if err != nil {
		return nil, fmt.Errorf("session repo: outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutcomeType]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("session repo: scan outcome count: %w", err)
		}
		counts[domain.OutcomeType(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session repo: rows err: %w", err)
	}

	return &repository.HistoryAggregates{
		TotalCalls:         agg.TotalCalls,
		ContactedCalls:     agg.ContactedCalls,
		AvgDurationSeconds: agg.AvgDurationSeconds,
		AvgTalkTimeSeconds: agg.AvgTalkTimeSeconds,
		OutcomeCounts:      counts,
	}, nil
}

// ListStale returns sessions stuck before connecting since before the cutoff.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.CallSession, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + sessionColumns + ` FROM call_sessions
		WHERE status IN ('initiated', 'connecting') AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("session repo: list stale: %w", err)
	}
	defer rows.Close()

	var results []domain.CallSession
	for rows.Next() {
		var record sessionRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("session repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session repo: rows err: %w", err)
	}

	return results, nil
}

const prefixedSessionColumns = `s.id, s.user_id, s.agent_id, s.call_queue_id, s.twilio_call_sid,
	s.status, s.direction, s.started_at, s.connected_at, s.ended_at, s.duration_seconds,
	s.talk_time_seconds, s.user_claims_context, s.created_at, s.updated_at`

func historyFilter(q repository.HistoryQuery) (string, []any) {
	where := `WHERE 1=1`
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(clause, len(args))
	}

	if q.AgentID != nil {
		add(` AND s.agent_id = $%d`, *q.AgentID)
	}
	if q.UserID != nil {
		add(` AND s.user_id = $%d`, *q.UserID)
	}
	if q.From != nil {
		add(` AND s.started_at >= $%d`, *q.From)
	}
	if q.To != nil {
		add(` AND s.started_at <= $%d`, *q.To)
	}
	if q.Status != nil {
		add(` AND s.status = $%d`, string(*q.Status))
	}
	if q.Outcome != nil {
		add(` AND EXISTS (SELECT 1 FROM call_outcomes fo WHERE fo.call_session_id = s.id AND fo.outcome_type = $%d)`, string(*q.Outcome))
	}

	return where, args
}

type sessionRecord struct {
	ID                uuid.UUID      `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	AgentID           uuid.UUID      `db:"agent_id"`
	CallQueueID       *uuid.UUID     `db:"call_queue_id"`
	TwilioCallSid     sql.NullString `db:"twilio_call_sid"`
	Status            string         `db:"status"`
	Direction         string         `db:"direction"`
	StartedAt         time.Time      `db:"started_at"`
	ConnectedAt       sql.NullTime   `db:"connected_at"`
	EndedAt           sql.NullTime   `db:"ended_at"`
	DurationSeconds   int            `db:"duration_seconds"`
	TalkTimeSeconds   int            `db:"talk_time_seconds"`
	UserClaimsContext []byte         `db:"user_claims_context"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r sessionRecord) toDomain() domain.CallSession {
	session := domain.CallSession{
		ID:                r.ID,
		UserID:            r.UserID,
		AgentID:           r.AgentID,
		CallQueueID:       r.CallQueueID,
		Status:            domain.SessionStatus(r.Status),
		Direction:         domain.CallDirection(r.Direction),
		StartedAt:         r.StartedAt,
		DurationSeconds:   r.DurationSeconds,
		TalkTimeSeconds:   r.TalkTimeSeconds,
		UserClaimsContext: r.UserClaimsContext,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.TwilioCallSid.Valid {
		sid := r.TwilioCallSid.String
		session.TwilioCallSid = &sid
	}
	if r.ConnectedAt.Valid {
		t := r.ConnectedAt.Time
		session.ConnectedAt = &t
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		session.EndedAt = &t
	}
	return session
}

package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
)

// EventLog appends raw telephony webhook events to Scylla. The log is
// append-only audit data partitioned by call SID and day bucket; it is never
// part of the session transaction.
type EventLog struct {
	session *gocql.Session
}

// NewEventLog creates a new event log.
func NewEventLog(session *gocql.Session) *EventLog {
	return &EventLog{session: session}
}

// Append writes one webhook event.
func (l *EventLog) Append(ctx context.Context, event repository.TelephonyEvent) error {
	bucket := bucketDate(event.ReceivedAt)
	if err := l.session.Query(`INSERT INTO telephony_events (call_sid, bucket, received_at, call_status, direction, from_number, to_number, duration_seconds, recording_url, digits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CallSid, bucket, event.ReceivedAt, event.CallStatus, event.Direction,
		event.From, event.To, event.Duration, event.RecordingURL, event.Digits,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event log: insert telephony_events: %w", err)
	}
	return nil
}

// ListByCallSid returns events for one provider call, oldest first.
func (l *EventLog) ListByCallSid(ctx context.Context, callSid string, limit int) ([]repository.TelephonyEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := l.session.Query(`SELECT call_sid, received_at, call_status, direction, from_number, to_number, duration_seconds, recording_url, digits
		FROM telephony_events WHERE call_sid = ? LIMIT ?`, callSid, limit).WithContext(ctx).Iter()

	var (
		events []repository.TelephonyEvent
		event  repository.TelephonyEvent
	)
	for iter.Scan(&event.CallSid, &event.ReceivedAt, &event.CallStatus, &event.Direction,
		&event.From, &event.To, &event.Duration, &event.RecordingURL, &event.Digits) {
		events = append(events, event)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("event log: iter close: %w", err)
	}

	return events, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

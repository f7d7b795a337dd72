package call

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/events"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	"github.com/jamesclaimtechio/rmcdialer/internal/telephony"
	"github.com/jamesclaimtechio/rmcdialer/internal/users"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

type fakeSessions struct {
	bySid map[string]*domain.CallSession
	byID  map[uuid.UUID]*domain.CallSession

	created      []*domain.CallSession
	progress     []domain.SessionStatus
	terminated   []domain.SessionStatus
	terminateErr error
	sids         []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		bySid: make(map[string]*domain.CallSession),
		byID:  make(map[uuid.UUID]*domain.CallSession),
	}
}

func (f *fakeSessions) Create(ctx context.Context, session *domain.CallSession) error {
	f.created = append(f.created, session)
	f.byID[session.ID] = session
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessions) GetByCallSid(ctx context.Context, callSid string) (*domain.CallSession, error) {
	if s, ok := f.bySid[callSid]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessions) SetCallSid(ctx context.Context, id uuid.UUID, callSid string) error {
	f.sids = append(f.sids, callSid)
	return nil
}

func (f *fakeSessions) SetProgress(ctx context.Context, id uuid.UUID, status domain.SessionStatus, at time.Time) error {
	f.progress = append(f.progress, status)
	return nil
}

func (f *fakeSessions) Terminate(ctx context.Context, id uuid.UUID, status domain.SessionStatus, endedAt time.Time) (*domain.CallSession, error) {
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	f.terminated = append(f.terminated, status)
	session, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	session.Status = status
	session.EndedAt = &endedAt
	return session, nil
}

func (f *fakeSessions) History(ctx context.Context, q repository.HistoryQuery) ([]domain.CallSession, error) {
	return nil, nil
}

func (f *fakeSessions) Aggregates(ctx context.Context, q repository.HistoryQuery) (*repository.HistoryAggregates, error) {
	return &repository.HistoryAggregates{}, nil
}

func (f *fakeSessions) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.CallSession, error) {
	return nil, nil
}

type fakeTx struct {
	sessions    *fakeSessions
	markedCalls []uuid.UUID
	assigned    []uuid.UUID
	markErr     error
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(tx repository.TxRepos) error) error {
	return fn(f)
}

func (f *fakeTx) Scores() repository.ScoreRepository       { return nil }
func (f *fakeTx) Outcomes() repository.OutcomeRepository   { return nil }
func (f *fakeTx) Callbacks() repository.CallbackRepository { return nil }
func (f *fakeTx) Sessions() repository.SessionRepository   { return f.sessions }
func (f *fakeTx) Queue() repository.QueueRepository        { return (*txQueue)(f) }
func (f *fakeTx) Agents() repository.AgentRepository       { return (*txAgents)(f) }

type txQueue fakeTx

func (q *txQueue) Insert(ctx context.Context, entry *domain.CallQueueEntry) error            { return nil }
func (q *txQueue) InsertForCallback(ctx context.Context, entry *domain.CallQueueEntry) error { return nil }
func (q *txQueue) Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	return nil, repository.ErrNotFound
}
func (q *txQueue) ListAssignable(ctx context.Context, query repository.AssignableQuery) ([]domain.CallQueueEntry, error) {
	return nil, nil
}
func (q *txQueue) Assign(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	return nil
}
func (q *txQueue) MarkAssigned(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	q.assigned = append(q.assigned, entryID)
	return nil
}
func (q *txQueue) SetStatus(ctx context.Context, entryID uuid.UUID, status domain.QueueEntryStatus) error {
	return nil
}

type txAgents fakeTx

func (a *txAgents) Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentSession, error) {
	return nil, repository.ErrNotFound
}
func (a *txAgents) Upsert(ctx context.Context, session *domain.AgentSession) error { return nil }
func (a *txAgents) MarkOnCall(ctx context.Context, agentID, sessionID uuid.UUID, at time.Time) error {
	if a.markErr != nil {
		return a.markErr
	}
	a.markedCalls = append(a.markedCalls, agentID)
	return nil
}
func (a *txAgents) Release(ctx context.Context, agentID, sessionID uuid.UUID, talkTimeSeconds int, at time.Time) error {
	return nil
}
func (a *txAgents) SetStatus(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus, at time.Time) error {
	return nil
}

type fakeEventLog struct {
	appended  []repository.TelephonyEvent
	appendErr error
}

func (f *fakeEventLog) Append(ctx context.Context, event repository.TelephonyEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeEventLog) ListByCallSid(ctx context.Context, callSid string, limit int) ([]repository.TelephonyEvent, error) {
	return nil, nil
}

type fakeUsers struct{}

func (f *fakeUsers) Context(ctx context.Context, userID uuid.UUID) (*users.UserContext, error) {
	return &users.UserContext{
		UserID: userID,
		Raw:    json.RawMessage(`{"claims":[]}`),
	}, nil
}

type fakeProvider struct {
	sid     string
	dialErr error
	dials   int
}

func (f *fakeProvider) PlaceCall(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	f.dials++
	if f.dialErr != nil {
		return telephony.DialResult{}, f.dialErr
	}
	return telephony.DialResult{CallSid: f.sid}, nil
}

type callCapture struct {
	published []events.CallEventMessage
}

func (p *callCapture) PublishCallEvent(ctx context.Context, msg events.CallEventMessage) error {
	p.published = append(p.published, msg)
	return nil
}

type fixture struct {
	sessions  *fakeSessions
	tx        *fakeTx
	eventLog  *fakeEventLog
	provider  *fakeProvider
	publisher *callCapture
	service   *Service
}

func newFixture() *fixture {
	sessions := newFakeSessions()
	tx := &fakeTx{sessions: sessions}
	eventLog := &fakeEventLog{}
	provider := &fakeProvider{sid: "CA0123456789abcdef"}
	publisher := &callCapture{}
	lg := &logger.Logger{Logger: zap.NewNop()}

	svc := NewService(tx, sessions, nil, eventLog, &fakeUsers{}, provider, publisher, "+442079460000", lg)
	return &fixture{sessions: sessions, tx: tx, eventLog: eventLog, provider: provider, publisher: publisher, service: svc}
}

func TestInitiateCallValidation(t *testing.T) {
	f := newFixture()

	cases := []InitiateCallInput{
		{AgentID: uuid.New(), PhoneNumber: "+447700900123"},
		{UserID: uuid.New(), PhoneNumber: "+447700900123"},
		{UserID: uuid.New(), AgentID: uuid.New()},
	}

	for _, input := range cases {
		if _, err := f.service.InitiateCall(context.Background(), input); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("input %+v: err = %v, want validation error", input, err)
		}
	}
}

func TestInitiateCallHappyPath(t *testing.T) {
	f := newFixture()
	entryID := uuid.New()
	agentID := uuid.New()

	session, err := f.service.InitiateCall(context.Background(), InitiateCallInput{
		UserID:       uuid.New(),
		AgentID:      agentID,
		QueueEntryID: &entryID,
		PhoneNumber:  "+447700900123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sessions.created) != 1 {
		t.Fatalf("created %d sessions, want 1", len(f.sessions.created))
	}
	if len(f.sessions.created[0].UserClaimsContext) == 0 {
		t.Error("session must snapshot the user claims context")
	}
	if len(f.tx.markedCalls) != 1 || f.tx.markedCalls[0] != agentID {
		t.Error("agent must be flipped on-call in the transaction")
	}
	if len(f.tx.assigned) != 1 || f.tx.assigned[0] != entryID {
		t.Error("queue entry must be claimed in the transaction")
	}
	if f.provider.dials != 1 {
		t.Fatalf("dials = %d, want 1", f.provider.dials)
	}
	if session.TwilioCallSid == nil || *session.TwilioCallSid != f.provider.sid {
		t.Error("session must carry the provider call sid")
	}
	if session.Status != domain.SessionConnecting {
		t.Errorf("status = %s, want connecting", session.Status)
	}
	if session.Direction != domain.DirectionOutbound {
		t.Errorf("direction = %s, want outbound default", session.Direction)
	}
}

func TestInitiateCallSurvivesDialFailure(t *testing.T) {
	f := newFixture()
	f.provider.dialErr = errors.New("provider timeout")

	session, err := f.service.InitiateCall(context.Background(), InitiateCallInput{
		UserID:      uuid.New(),
		AgentID:     uuid.New(),
		PhoneNumber: "+447700900123",
	})
	if err != nil {
		t.Fatalf("dial failure must not fail initiation: %v", err)
	}
	if session.Status != domain.SessionInitiated {
		t.Errorf("status = %s, want initiated (sweeper closes it later)", session.Status)
	}
	if session.TwilioCallSid != nil {
		t.Error("no call sid on dial failure")
	}
}

func TestHandleTelephonyEventUnknownSidDropped(t *testing.T) {
	f := newFixture()

	err := f.service.HandleTelephonyEvent(context.Background(), telephony.StatusWebhook{
		CallSid:    "CAunknown",
		CallStatus: "completed",
	})
	if err != nil {
		t.Fatalf("unknown sid must be dropped, got %v", err)
	}

	if len(f.sessions.terminated) != 0 {
		t.Error("nothing may be terminated for an unknown sid")
	}
	if len(f.eventLog.appended) != 1 {
		t.Error("the raw event must still be logged")
	}
}

func TestHandleTelephonyEventProgress(t *testing.T) {
	f := newFixture()
	session := &domain.CallSession{ID: uuid.New(), Status: domain.SessionConnecting}
	f.sessions.bySid["CA1"] = session
	f.sessions.byID[session.ID] = session

	err := f.service.HandleTelephonyEvent(context.Background(), telephony.StatusWebhook{
		CallSid:    "CA1",
		CallStatus: "ringing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sessions.progress) != 1 || f.sessions.progress[0] != domain.SessionRinging {
		t.Errorf("progress = %v, want [ringing]", f.sessions.progress)
	}
	if len(f.sessions.terminated) != 0 {
		t.Error("ringing must not terminate the session")
	}
}

func TestHandleTelephonyEventTerminal(t *testing.T) {
	f := newFixture()
	session := &domain.CallSession{ID: uuid.New(), Status: domain.SessionConnected}
	f.sessions.bySid["CA2"] = session
	f.sessions.byID[session.ID] = session

	err := f.service.HandleTelephonyEvent(context.Background(), telephony.StatusWebhook{
		CallSid:    "CA2",
		CallStatus: "no-answer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sessions.terminated) != 1 || f.sessions.terminated[0] != domain.SessionNoAnswer {
		t.Errorf("terminated = %v, want [no_answer]", f.sessions.terminated)
	}
	if len(f.publisher.published) != 1 {
		t.Fatalf("published = %d, want 1", len(f.publisher.published))
	}
	if f.publisher.published[0].Status != domain.SessionNoAnswer {
		t.Errorf("published status = %s, want no_answer", f.publisher.published[0].Status)
	}
}

func TestHandleTelephonyEventReplayIsBenign(t *testing.T) {
	f := newFixture()
	session := &domain.CallSession{ID: uuid.New(), Status: domain.SessionCompleted}
	f.sessions.bySid["CA3"] = session
	f.sessions.byID[session.ID] = session
	f.sessions.terminateErr = repository.ErrConflict

	err := f.service.HandleTelephonyEvent(context.Background(), telephony.StatusWebhook{
		CallSid:    "CA3",
		CallStatus: "completed",
	})
	if err != nil {
		t.Fatalf("replayed terminal event must be dropped, got %v", err)
	}
	if len(f.publisher.published) != 0 {
		t.Error("a replay must not re-publish the lifecycle event")
	}
}

func TestHandleTelephonyEventLogFailureTolerated(t *testing.T) {
	f := newFixture()
	f.eventLog.appendErr = errors.New("scylla down")
	session := &domain.CallSession{ID: uuid.New(), Status: domain.SessionConnected}
	f.sessions.bySid["CA4"] = session
	f.sessions.byID[session.ID] = session

	err := f.service.HandleTelephonyEvent(context.Background(), telephony.StatusWebhook{
		CallSid:    "CA4",
		CallStatus: "completed",
	})
	if err != nil {
		t.Fatalf("audit log failure must not fail the webhook: %v", err)
	}
	if len(f.sessions.terminated) != 1 {
		t.Error("the session transition must still apply")
	}
}

func TestHistoryRejectsOversizedLimit(t *testing.T) {
	f := newFixture()

	if _, _, err := f.service.History(context.Background(), repository.HistoryQuery{Limit: 101}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

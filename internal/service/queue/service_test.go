package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	apperrors "github.com/jamesclaimtechio/rmcdialer/pkg/errors"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

type fakeScores struct {
	eligible []domain.UserCallScore
	byUser   map[uuid.UUID]*domain.UserCallScore
}

func (f *fakeScores) Get(ctx context.Context, userID uuid.UUID) (*domain.UserCallScore, error) {
	if s, ok := f.byUser[userID]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeScores) Apply(ctx context.Context, userID uuid.UUID, change repository.ScoreChange) (*domain.UserCallScore, error) {
	return nil, errors.New("not used")
}

func (f *fakeScores) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.UserCallScore, error) {
	return f.eligible, nil
}

type fakeQueue struct {
	entries    map[uuid.UUID]*domain.CallQueueEntry
	byCallback map[uuid.UUID]bool
	inserted   []domain.CallQueueEntry
	lastQuery  repository.AssignableQuery
	assignErr  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		entries:    make(map[uuid.UUID]*domain.CallQueueEntry),
		byCallback: make(map[uuid.UUID]bool),
	}
}

func (f *fakeQueue) Insert(ctx context.Context, entry *domain.CallQueueEntry) error {
	copied := *entry
	f.entries[entry.ID] = &copied
	f.inserted = append(f.inserted, copied)
	return nil
}

func (f *fakeQueue) InsertForCallback(ctx context.Context, entry *domain.CallQueueEntry) error {
	if entry.CallbackID == nil {
		return errors.New("callback id required")
	}
	if f.byCallback[*entry.CallbackID] {
		return nil
	}
	f.byCallback[*entry.CallbackID] = true
	return f.Insert(ctx, entry)
}

func (f *fakeQueue) Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	if e, ok := f.entries[id]; ok {
		return e, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeQueue) ListAssignable(ctx context.Context, q repository.AssignableQuery) ([]domain.CallQueueEntry, error) {
	f.lastQuery = q
	var out []domain.CallQueueEntry
	for _, e := range f.entries {
		if e.Status != domain.QueueEntryPending {
			continue
		}
		if e.AvailableFrom != nil && e.AvailableFrom.After(q.Now) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeQueue) Assign(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	entry, ok := f.entries[entryID]
	if !ok {
		return repository.ErrNotFound
	}
	if entry.Status != domain.QueueEntryPending {
		return repository.ErrConflict
	}
	for _, other := range f.entries {
		if other.ID != entryID && other.UserID == entry.UserID && other.Status == domain.QueueEntryAssigned {
			return repository.ErrConflict
		}
	}
	entry.Status = domain.QueueEntryAssigned
	entry.AssignedToAgentID = &agentID
	entry.AssignedAt = &at
	return nil
}

func (f *fakeQueue) MarkAssigned(ctx context.Context, entryID, agentID uuid.UUID, at time.Time) error {
	return f.Assign(ctx, entryID, agentID, at)
}

func (f *fakeQueue) SetStatus(ctx context.Context, entryID uuid.UUID, status domain.QueueEntryStatus) error {
	if e, ok := f.entries[entryID]; ok {
		e.Status = status
		return nil
	}
	return repository.ErrNotFound
}

type fakeCallbacks struct {
	due          []domain.Callback
	pendingUsers map[uuid.UUID]struct{}
}

func (f *fakeCallbacks) Insert(ctx context.Context, callback *domain.Callback) error { return nil }
func (f *fakeCallbacks) Get(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeCallbacks) List(ctx context.Context, q repository.CallbackQuery) ([]domain.Callback, error) {
	return nil, nil
}
func (f *fakeCallbacks) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Callback, error) {
	return f.due, nil
}
func (f *fakeCallbacks) PendingUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	held := make(map[uuid.UUID]struct{})
	for _, id := range userIDs {
		if _, ok := f.pendingUsers[id]; ok {
			held[id] = struct{}{}
		}
	}
	return held, nil
}
func (f *fakeCallbacks) Complete(ctx context.Context, id, completedSessionID uuid.UUID) error {
	return nil
}
func (f *fakeCallbacks) Cancel(ctx context.Context, id uuid.UUID) error { return nil }

type fakeLease struct {
	denied   bool
	released int
}

func (f *fakeLease) Acquire(ctx context.Context, entryID, agentID uuid.UUID) (bool, error) {
	return !f.denied, nil
}

func (f *fakeLease) Release(ctx context.Context, entryID, agentID uuid.UUID) error {
	f.released++
	return nil
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestService(scores *fakeScores, q *fakeQueue, cbs *fakeCallbacks, lease *fakeLease) *Service {
	return NewService(scores, q, cbs, lease, Policy{}, testLogger())
}

func TestMaterializePromotesDueCallbacksOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()
	callback := domain.Callback{
		ID:           uuid.New(),
		UserID:       userID,
		ScheduledFor: now.Add(-10 * time.Minute),
		Status:       domain.CallbackPending,
	}

	scores := &fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{
		userID: {UserID: userID, CurrentScore: 35},
	}}
	q := newFakeQueue()
	cbs := &fakeCallbacks{due: []domain.Callback{callback}}
	svc := newTestService(scores, q, cbs, &fakeLease{})

	if err := svc.Materialize(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Materialize(context.Background(), now); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}

	if len(q.inserted) != 1 {
		t.Fatalf("inserted %d entries, want 1 (promotion must be idempotent)", len(q.inserted))
	}

	entry := q.inserted[0]
	if entry.QueueType != domain.QueueTypeCallback {
		t.Errorf("queue type = %s, want callback", entry.QueueType)
	}
	if entry.CallbackID == nil || *entry.CallbackID != callback.ID {
		t.Error("entry must link back to the callback")
	}
	if entry.AvailableFrom == nil || !entry.AvailableFrom.Equal(callback.ScheduledFor) {
		t.Error("available_from must carry the callback's scheduled time")
	}
	if entry.PriorityScore != 35 {
		t.Errorf("priority = %d, want snapshot of current score 35", entry.PriorityScore)
	}
}

func TestMaterializeCreatesPriorityEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	scores := &fakeScores{
		eligible: []domain.UserCallScore{{UserID: userID, CurrentScore: 12}},
		byUser:   map[uuid.UUID]*domain.UserCallScore{},
	}
	q := newFakeQueue()
	svc := newTestService(scores, q, &fakeCallbacks{}, &fakeLease{})

	if err := svc.Materialize(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(q.inserted) != 1 {
		t.Fatalf("inserted %d entries, want 1", len(q.inserted))
	}
	entry := q.inserted[0]
	if entry.QueueType != domain.QueueTypePriorityCall {
		t.Errorf("queue type = %s, want priority_call", entry.QueueType)
	}
	if entry.PriorityScore != 12 {
		t.Errorf("priority = %d, want 12", entry.PriorityScore)
	}
	if entry.Status != domain.QueueEntryPending {
		t.Errorf("status = %s, want pending", entry.Status)
	}
}

func TestMaterializeSkipsUsersWithPendingCallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	committed := uuid.New()
	fresh := uuid.New()

	scores := &fakeScores{
		eligible: []domain.UserCallScore{
			{UserID: committed, CurrentScore: 20, LastOutcome: domain.OutcomeCallbackRequested},
			{UserID: fresh, CurrentScore: 40},
		},
		byUser: map[uuid.UUID]*domain.UserCallScore{},
	}
	q := newFakeQueue()
	cbs := &fakeCallbacks{pendingUsers: map[uuid.UUID]struct{}{committed: {}}}
	svc := newTestService(scores, q, cbs, &fakeLease{})

	if err := svc.Materialize(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(q.inserted) != 1 {
		t.Fatalf("inserted %d entries, want 1", len(q.inserted))
	}
	if q.inserted[0].UserID != fresh {
		t.Error("a user awaiting a scheduled callback must not be dialed early as a priority call")
	}
}

func TestNextOrdersByPrecedenceScoreThenAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-1 * time.Hour)

	q := newFakeQueue()
	highScore := &domain.CallQueueEntry{
		ID: uuid.New(), UserID: uuid.New(), QueueType: domain.QueueTypePriorityCall,
		PriorityScore: 50, Status: domain.QueueEntryPending, CreatedAt: older,
	}
	lowScoreNewer := &domain.CallQueueEntry{
		ID: uuid.New(), UserID: uuid.New(), QueueType: domain.QueueTypePriorityCall,
		PriorityScore: 10, Status: domain.QueueEntryPending, CreatedAt: newer,
	}
	lowScoreOlder := &domain.CallQueueEntry{
		ID: uuid.New(), UserID: uuid.New(), QueueType: domain.QueueTypePriorityCall,
		PriorityScore: 10, Status: domain.QueueEntryPending, CreatedAt: older,
	}
	followUp := &domain.CallQueueEntry{
		ID: uuid.New(), UserID: uuid.New(), QueueType: domain.QueueTypeFollowUp,
		PriorityScore: 1, Status: domain.QueueEntryPending, CreatedAt: older,
	}
	for _, e := range []*domain.CallQueueEntry{highScore, lowScoreNewer, lowScoreOlder, followUp} {
		q.entries[e.ID] = e
	}

	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, q, &fakeCallbacks{}, &fakeLease{})

	entries, err := svc.Next(context.Background(), uuid.New(), 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, entries, []uuid.UUID{lowScoreOlder.ID, lowScoreNewer.ID, highScore.ID, followUp.ID})

	// A callback becoming due jumps ahead of every other queue type.
	due := now.Add(-10 * time.Minute)
	callback := &domain.CallQueueEntry{
		ID: uuid.New(), UserID: uuid.New(), QueueType: domain.QueueTypeCallback,
		PriorityScore: 80, Status: domain.QueueEntryPending, AvailableFrom: &due, CreatedAt: newer,
	}
	q.entries[callback.ID] = callback

	entries, err = svc.Next(context.Background(), uuid.New(), 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, entries, []uuid.UUID{callback.ID, lowScoreOlder.ID, lowScoreNewer.ID, highScore.ID, followUp.ID})
}

func assertOrder(t *testing.T, entries []domain.CallQueueEntry, want []uuid.UUID) {
	t.Helper()
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, entries[i].ID, id)
		}
	}
}

func TestNextClampsPagination(t *testing.T) {
	scores := &fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}
	q := newFakeQueue()
	svc := newTestService(scores, q, &fakeCallbacks{}, &fakeLease{})

	if _, err := svc.Next(context.Background(), uuid.New(), 3, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.lastQuery.Limit != 100 {
		t.Errorf("limit = %d, want clamped to 100", q.lastQuery.Limit)
	}
	if q.lastQuery.Offset != 200 {
		t.Errorf("offset = %d, want 200 for page 3", q.lastQuery.Offset)
	}

	if _, err := svc.Next(context.Background(), uuid.New(), 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.lastQuery.Limit != 25 {
		t.Errorf("default limit = %d, want 25", q.lastQuery.Limit)
	}
}

func TestNextRequiresAgent(t *testing.T) {
	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, newFakeQueue(), &fakeCallbacks{}, &fakeLease{})

	if _, err := svc.Next(context.Background(), uuid.Nil, 1, 10); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestAssignWinnerTakesEntry(t *testing.T) {
	q := newFakeQueue()
	entryID := uuid.New()
	q.entries[entryID] = &domain.CallQueueEntry{ID: entryID, Status: domain.QueueEntryPending}

	lease := &fakeLease{}
	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, q, &fakeCallbacks{}, lease)

	agentID := uuid.New()
	entry, err := svc.Assign(context.Background(), entryID, agentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != domain.QueueEntryAssigned {
		t.Errorf("status = %s, want assigned", entry.Status)
	}
	if entry.AssignedToAgentID == nil || *entry.AssignedToAgentID != agentID {
		t.Error("entry must carry the winning agent")
	}
	if lease.released != 1 {
		t.Error("lease must be released after assignment")
	}
}

func TestAssignLoserGetsConflict(t *testing.T) {
	q := newFakeQueue()
	entryID := uuid.New()
	agentA := uuid.New()
	at := time.Now().UTC()
	q.entries[entryID] = &domain.CallQueueEntry{
		ID: entryID, Status: domain.QueueEntryAssigned, AssignedToAgentID: &agentA, AssignedAt: &at,
	}

	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, q, &fakeCallbacks{}, &fakeLease{})

	if _, err := svc.Assign(context.Background(), entryID, uuid.New()); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestAssignSecondEntryForSameUserConflicts(t *testing.T) {
	q := newFakeQueue()
	userID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	q.entries[first] = &domain.CallQueueEntry{ID: first, UserID: userID, Status: domain.QueueEntryPending}
	q.entries[second] = &domain.CallQueueEntry{ID: second, UserID: userID, Status: domain.QueueEntryPending}

	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, q, &fakeCallbacks{}, &fakeLease{})

	if _, err := svc.Assign(context.Background(), first, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Assign(context.Background(), second, uuid.New()); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want conflict while the user is already on an assigned entry", err)
	}
	if q.entries[second].Status != domain.QueueEntryPending {
		t.Error("the second entry must stay pending")
	}
}

func TestAssignBlockedByLease(t *testing.T) {
	q := newFakeQueue()
	entryID := uuid.New()
	q.entries[entryID] = &domain.CallQueueEntry{ID: entryID, Status: domain.QueueEntryPending}

	svc := newTestService(&fakeScores{byUser: map[uuid.UUID]*domain.UserCallScore{}}, q, &fakeCallbacks{}, &fakeLease{denied: true})

	if _, err := svc.Assign(context.Background(), entryID, uuid.New()); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want conflict while lease is held", err)
	}

	if entry := q.entries[entryID]; entry.Status != domain.QueueEntryPending {
		t.Error("entry must stay pending when the lease is denied")
	}
}

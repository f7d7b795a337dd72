package domain

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestQueueEntryOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := base
	newer := base.Add(time.Hour)
	due := base.Add(30 * time.Minute)

	callback := CallQueueEntry{ID: uuid.New(), QueueType: QueueTypeCallback, PriorityScore: 90, AvailableFrom: &due, CreatedAt: newer}
	lowOlder := CallQueueEntry{ID: uuid.New(), QueueType: QueueTypePriorityCall, PriorityScore: 10, CreatedAt: older}
	lowNewer := CallQueueEntry{ID: uuid.New(), QueueType: QueueTypePriorityCall, PriorityScore: 10, CreatedAt: newer}
	high := CallQueueEntry{ID: uuid.New(), QueueType: QueueTypePriorityCall, PriorityScore: 50, CreatedAt: older}
	followUp := CallQueueEntry{ID: uuid.New(), QueueType: QueueTypeFollowUp, PriorityScore: 1, CreatedAt: older}

	entries := []CallQueueEntry{followUp, high, lowNewer, callback, lowOlder}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Less(entries[j]) })

	want := []uuid.UUID{callback.ID, lowOlder.ID, lowNewer.ID, high.ID, followUp.ID}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, entries[i].ID, id)
		}
	}
}

func TestAvailableSince(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	scheduled := created.Add(2 * time.Hour)

	plain := CallQueueEntry{CreatedAt: created}
	if got := plain.AvailableSince(); !got.Equal(created) {
		t.Errorf("AvailableSince() = %v, want creation time %v", got, created)
	}

	held := CallQueueEntry{CreatedAt: created, AvailableFrom: &scheduled}
	if got := held.AvailableSince(); !got.Equal(scheduled) {
		t.Errorf("AvailableSince() = %v, want scheduled time %v", got, scheduled)
	}
}

func TestCallDurations(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	connected := started.Add(35 * time.Second)
	ended := connected.Add(125 * time.Second)

	if got := CallDuration(started, ended); got != 160 {
		t.Errorf("CallDuration = %d, want 160", got)
	}
	if got := CallDuration(started, started.Add(-time.Second)); got != 0 {
		t.Errorf("CallDuration with ended before started = %d, want 0", got)
	}

	if got := TalkTime(&connected, ended); got != 125 {
		t.Errorf("TalkTime = %d, want 125", got)
	}
	if got := TalkTime(nil, ended); got != 0 {
		t.Errorf("TalkTime for a never-connected call = %d, want 0", got)
	}
	if got := TalkTime(&connected, connected.Add(-time.Second)); got != 0 {
		t.Errorf("TalkTime with ended before connected = %d, want 0", got)
	}
}

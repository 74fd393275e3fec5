package events

import (
	"testing"
	"time"

	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// TestBus_TotalOrder verifies every subscriber sees the same sequence.
func TestBus_TotalOrder(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(16)
	b := bus.Subscribe(16)

	bus.Publish(TaskEvent(EntityCreated, models.Task{ID: "t1"}, true))
	bus.Publish(FolderEvent(EntityUpdated, models.Folder{ID: "f1"}, false))
	bus.Publish(Event{Type: SyncStatusChanged, Sync: &SyncStatus{State: "idle"}})

	for _, sub := range []*Subscription{a, b} {
		first := receive(t, sub)
		second := receive(t, sub)
		third := receive(t, sub)

		assert.Equal(t, []uint64{1, 2, 3}, []uint64{first.Seq, second.Seq, third.Seq})
		assert.Equal(t, EntityCreated, first.Type)
		assert.Equal(t, KindTask, first.Kind)
		assert.True(t, first.Offline)
		assert.Equal(t, "f1", second.EntityID)
		assert.Equal(t, "idle", third.Sync.State)
		assert.False(t, third.At.IsZero())
	}
}

// TestBus_SlowSubscriberDoesNotBlock verifies a full buffer drops events.
func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe(1)
	fast := bus.Subscribe(8)

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: ConnectivityChanged, Online: i%2 == 0})
	}

	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, uint64(1), receive(t, slow).Seq)
}

// TestSubscription_Close verifies closed subscriptions stop receiving.
func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	sub.Close()
	sub.Close()

	bus.Publish(Event{Type: EntityDeleted})
	_, ok := <-sub.C
	assert.False(t, ok)
}

// TestBus_Close verifies bus shutdown closes all subscriptions.
func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	late := bus.Subscribe(4)
	_, ok = <-late.C
	assert.False(t, ok)
	bus.Publish(Event{Type: EntityCreated})
}

// TestTaskEvent_Copies verifies events do not alias the caller's record.
func TestTaskEvent_Copies(t *testing.T) {
	due := time.Now()
	task := models.Task{ID: "t1", DueDate: &due}
	e := TaskEvent(EntityUpdated, task, false)

	*task.DueDate = due.Add(time.Hour)
	assert.Equal(t, due, *e.Task.DueDate)
}

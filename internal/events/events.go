// Package events provides typed publish/subscribe for replica and sync
// notifications. Every subscriber observes events in publication order.
package events

import (
	"sync"
	"time"

	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
)

// Type identifies an event.
type Type string

const (
	EntityCreated       Type = "entity-created"
	EntityUpdated       Type = "entity-updated"
	EntityDeleted       Type = "entity-deleted"
	SyncStatusChanged   Type = "sync-status-changed"
	ConnectivityChanged Type = "connectivity-changed"
)

// Kind identifies the entity an entity event refers to.
type Kind string

const (
	KindTask   Kind = "task"
	KindFolder Kind = "folder"
)

// SyncStatus describes the synchronizer at the moment of a status change.
type SyncStatus struct {
	State     string     `json:"state"`
	Pending   int        `json:"pending"`
	Succeeded int        `json:"succeeded,omitempty"`
	Failed    int        `json:"failed,omitempty"`
	Parked    int        `json:"parked,omitempty"`
	Deferred  int        `json:"deferred,omitempty"`
	Error     string     `json:"error,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// Event is one notification. Entity events carry Kind, EntityID and the
// affected record; sync events carry Sync; connectivity events carry Online.
type Event struct {
	Seq      uint64         `json:"seq"`
	Type     Type           `json:"type"`
	Kind     Kind           `json:"kind,omitempty"`
	EntityID string         `json:"entityId,omitempty"`
	Task     *models.Task   `json:"task,omitempty"`
	Folder   *models.Folder `json:"folder,omitempty"`
	Offline  bool           `json:"offline,omitempty"`
	Sync     *SyncStatus    `json:"sync,omitempty"`
	Online   bool           `json:"online"`
	At       time.Time      `json:"at"`
}

// TaskEvent builds an entity event for a task.
func TaskEvent(typ Type, t models.Task, offline bool) Event {
	c := t.Clone()
	return Event{Type: typ, Kind: KindTask, EntityID: t.ID, Task: &c, Offline: offline}
}

// FolderEvent builds an entity event for a folder.
func FolderEvent(typ Type, f models.Folder, offline bool) Event {
	c := f.Clone()
	return Event{Type: typ, Kind: KindFolder, EntityID: f.ID, Folder: &c, Offline: offline}
}

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	bus     *Bus
	id      uint64
	dropped uint64
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Publish stamps e with the next sequence number and delivers it. Delivery
// happens under the bus lock so all subscribers see one total order.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.seq++
	e.Seq = b.seq
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
			logging.Warn("Event dropped for slow subscriber", map[string]interface{}{
				"subscriber": sub.id,
				"type":       string(e.Type),
				"seq":        e.Seq,
			})
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

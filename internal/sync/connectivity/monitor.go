// Package connectivity tracks whether the remote system is reachable.
//
// The Monitor holds only the current boolean. It is fed by platform hints
// (Set), by the outcome of remote calls (ReportCallOutcome) and, in a
// daemon, by a Prober. Subscribers are told about every transition; the
// scheduler turns a false→true transition into a sync trigger.
package connectivity

import (
	"sync"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
)

// Transition is a change of reachability.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor relays reachability changes.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan Transition
	nextID int
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]chan Transition),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state, notifying subscribers when it changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online
	tr := Transition{Online: online, At: time.Now().UTC()}

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	for _, ch := range m.subs {
		offer(ch, tr)
	}
}

// offer delivers tr, replacing a transition the subscriber has not read yet
// so the last one it reads is always the current state. Callers hold m.mu,
// which makes Set the only sender.
func offer(ch chan Transition, tr Transition) {
	select {
	case ch <- tr:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- tr:
	default:
	}
}

// ReportCallOutcome feeds the result of a remote call. A transport failure
// means the remote is unreachable; any response, including an error status,
// means it is reachable.
func (m *Monitor) ReportCallOutcome(err error) {
	switch {
	case err == nil:
		m.Set(true)
	case apperrors.Is(err, apperrors.ErrNetwork):
		m.Set(false)
	case apperrors.Is(err, apperrors.ErrRemote):
		m.Set(true)
	}
}

// Subscribe returns a channel of transitions and a function that cancels
// the subscription. A slow subscriber may miss intermediate transitions but
// never the latest one.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 1)

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

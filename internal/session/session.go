// Package session owns everything tied to one signed-in user: the replica,
// the operation queue, the engine that reconciles them, the scheduler that
// drives it and the data facade in front of them.
package session

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/events"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/remote"
	"github.com/kimhsiao/tasksync/internal/replica"
	"github.com/kimhsiao/tasksync/internal/services"
	syncpkg "github.com/kimhsiao/tasksync/internal/sync"
	"github.com/kimhsiao/tasksync/internal/sync/connectivity"
	"github.com/kimhsiao/tasksync/internal/sync/queue"
	"github.com/kimhsiao/tasksync/internal/sync/scheduler"
)

// Options configures Open.
type Options struct {
	UserID string
	Blobs  replica.Blobs
	Remote remote.Client

	// Monitor is shared with whatever feeds connectivity hints. A monitor
	// starting online is created when nil.
	Monitor *connectivity.Monitor

	MaxRetries int
	Engine     syncpkg.Config
	Scheduler  *scheduler.SchedulerConfig
}

// Session is the context of one user. Only one session should be open per
// durable area at a time.
type Session struct {
	userID string
	blobs  replica.Blobs

	store     *replica.Store
	queue     *queue.SyncQueue
	engine    *syncpkg.Engine
	scheduler *scheduler.Scheduler
	monitor   *connectivity.Monitor
	bus       *events.Bus
	data      *services.DataService

	mu     sync.Mutex
	closed bool
}

// Open hydrates the replica and queue of opts.UserID and wires the engine,
// scheduler and facade. If the area belongs to another user it is cleared
// first. The scheduler is not started; call Start.
func Open(opts Options) (*Session, error) {
	if opts.Blobs == nil {
		return nil, apperrors.Validation("session requires a durable medium")
	}
	if opts.Remote == nil {
		return nil, apperrors.Validation("session requires a remote client")
	}

	store, err := replica.Open(opts.Blobs, opts.UserID)
	if err != nil {
		return nil, err
	}
	// The queue writes through the replica's batch so a record change and
	// its queued mutation are persisted together.
	q, err := queue.NewSyncQueue(store.Medium(), opts.MaxRetries)
	if err != nil {
		return nil, err
	}

	monitor := opts.Monitor
	if monitor == nil {
		monitor = connectivity.NewMonitor(true)
	}
	engine := syncpkg.NewEngine(store, q, opts.Remote, monitor, opts.Engine)
	bus := events.NewBus()

	s := &Session{
		userID:    opts.UserID,
		blobs:     opts.Blobs,
		store:     store,
		queue:     q,
		engine:    engine,
		scheduler: scheduler.NewScheduler(engine, q, monitor, opts.Scheduler),
		monitor:   monitor,
		bus:       bus,
		data:      services.NewDataService(store, q, engine, monitor, bus),
	}

	logging.Info("Session opened", map[string]interface{}{
		"user_id": opts.UserID,
		"tasks":   len(store.ListTasks()),
		"folders": len(store.ListFolders()),
		"pending": q.Len(),
	})
	return s, nil
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// Data returns the facade, or SESSION_CLOSED once the session is closed.
func (s *Session) Data() (*services.DataService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.New(apperrors.ErrSessionClosed, "session is closed")
	}
	return s.data, nil
}

// Scheduler returns the session's sync scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Engine returns the session's sync engine.
func (s *Session) Engine() *syncpkg.Engine {
	return s.engine
}

// Monitor returns the connectivity monitor the session follows.
func (s *Session) Monitor() *connectivity.Monitor {
	return s.monitor
}

// Start begins background synchronization.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.New(apperrors.ErrSessionClosed, "session is closed")
	}
	s.scheduler.Start(ctx)
	return nil
}

// Close stops background work and notification relays. A pass started
// through the facade is cancelled and can no longer write. Persisted state
// is kept for the next Open.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.scheduler.Stop()
	s.engine.Close()
	s.data.Close()
	s.bus.Close()
	logging.Info("Session closed", map[string]interface{}{"user_id": s.userID})
}

// Logout closes the session and clears the user's replica and queue,
// including unsynced work.
func (s *Session) Logout() error {
	s.Close()

	// Serialized with replay commits.
	if err := s.engine.Exclusive(func() error {
		if n := s.queue.Len(); n > 0 {
			logging.Warn("Discarding unsynced operations on logout",
				map[string]interface{}{"user_id": s.userID, "pending": n})
		}
		if err := s.queue.Clear(); err != nil {
			return err
		}
		return s.store.Reset()
	}); err != nil {
		return err
	}
	if err := replica.ResetArea(s.blobs); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "clear session area", err)
	}

	logging.Info("Logged out", map[string]interface{}{"user_id": s.userID})
	return nil
}

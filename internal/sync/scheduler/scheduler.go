// Package scheduler decides when reconciliation passes run: on a periodic
// timer, when connectivity is restored, and on explicit request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	syncpkg "github.com/kimhsiao/tasksync/internal/sync"
	"github.com/kimhsiao/tasksync/internal/sync/connectivity"
	"github.com/kimhsiao/tasksync/internal/sync/queue"
)

// Trigger names the origin of a pass.
type Trigger string

const (
	TriggerTimer        Trigger = "timer"
	TriggerConnectivity Trigger = "connectivity"
	TriggerExternal     Trigger = "external"
	TriggerManual       Trigger = "manual"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	queue        *queue.SyncQueue
	monitor      *connectivity.Monitor
	syncInterval time.Duration
	syncTimeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	lastSyncTime   time.Time
	lastTrigger    Trigger
	syncInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync (default: 30 seconds)
	SyncTimeout  time.Duration // Upper bound of one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 30 * time.Second,
		SyncTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. monitor may be nil, in which case
// connectivity restoration never triggers a pass.
func NewScheduler(engine syncpkg.SyncEngineInterface, q *queue.SyncQueue, monitor *connectivity.Monitor, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	interval := config.SyncInterval
	if interval <= 0 {
		interval = def.SyncInterval
	}
	timeout := config.SyncTimeout
	if timeout <= 0 {
		timeout = def.SyncTimeout
	}

	return &Scheduler{
		engine:       engine,
		queue:        q,
		monitor:      monitor,
		syncInterval: interval,
		syncTimeout:  timeout,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the background sync scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx, stopCh)

	if s.monitor != nil {
		transitions, cancel := s.monitor.Subscribe()
		s.wg.Add(1)
		go s.connectivityLoop(ctx, stopCh, transitions, cancel)
	}

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the background sync scheduler and waits for any pass it
// started to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.trigger(ctx, TriggerTimer)
		}
	}
}

// connectivityLoop starts a pass on every offline→online transition.
func (s *Scheduler) connectivityLoop(ctx context.Context, stopCh <-chan struct{}, transitions <-chan connectivity.Transition, cancel func()) {
	defer s.wg.Done()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if tr.Online {
				s.trigger(ctx, TriggerConnectivity)
			}
		}
	}
}

// trigger starts a background pass unless one is already running. Passes
// that cannot start are dropped silently; the next trigger retries.
func (s *Scheduler) trigger(ctx context.Context, origin Trigger) bool {
	if s.monitor != nil && !s.monitor.Online() {
		logging.Debug("Skipping sync - offline", map[string]interface{}{"trigger": string(origin)})
		return false
	}
	if !s.begin(origin) {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": string(origin)})
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.end()
		s.runSync(ctx, origin)
	}()
	return true
}

func (s *Scheduler) begin(origin Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	s.lastTrigger = origin
	return true
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.syncInProgress = false
	s.mu.Unlock()
}

// runSync executes a pass. Guard rejections are not failures.
func (s *Scheduler) runSync(ctx context.Context, origin Trigger) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) || errors.Is(err, errors.ErrOffline) {
			logging.Debug("Sync skipped", map[string]interface{}{
				"trigger": string(origin),
				"reason":  string(errors.CodeOf(err)),
			})
			return nil, err
		}
		logging.Warn("Scheduled sync failed", map[string]interface{}{
			"trigger": string(origin),
			"error":   err.Error(),
		})
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Debug("Scheduled sync completed",
		map[string]interface{}{
			"trigger":   string(origin),
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"parked":    result.Parked,
		})
	return result, nil
}

// TriggerSync requests an immediate background pass, as an external
// "reconcile now" signal would. Returns true if a pass was started, false
// if one is already in progress or the remote is unreachable.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	return s.trigger(ctx, TriggerExternal)
}

// SyncNow runs a pass and waits for its completion. Unlike background
// triggers it reports guard rejections to the caller.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !s.begin(TriggerManual) {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	defer s.end()
	return s.runSync(ctx, TriggerManual)
}

// SchedulerStatus is a snapshot of the scheduler and the work it drives.
type SchedulerStatus struct {
	IsRunning      bool               `json:"isRunning" yaml:"isRunning"`
	IsOnline       bool               `json:"isOnline" yaml:"isOnline"`
	LastSyncTime   *time.Time         `json:"lastSyncTime,omitempty" yaml:"lastSyncTime,omitempty"`
	LastTrigger    Trigger            `json:"lastTrigger,omitempty" yaml:"lastTrigger,omitempty"`
	SyncInProgress bool               `json:"syncInProgress" yaml:"syncInProgress"`
	EngineStatus   syncpkg.SyncStatus `json:"engineStatus" yaml:"engineStatus"`
	QueueStats     queue.Stats        `json:"queue" yaml:"queue"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.IsOnline(),
		LastTrigger:    s.lastTrigger,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.EngineStatus = s.engine.Status()
	if s.queue != nil {
		status.QueueStats = s.queue.Stats()
	}
	return status
}

// IsOnline returns whether the remote is believed reachable.
func (s *Scheduler) IsOnline() bool {
	if s.monitor == nil {
		return true
	}
	return s.monitor.Online()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

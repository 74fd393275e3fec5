package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/remote"
	"github.com/kimhsiao/tasksync/internal/replica"
	"github.com/kimhsiao/tasksync/internal/sync/conflict"
	"github.com/kimhsiao/tasksync/internal/sync/connectivity"
	"github.com/kimhsiao/tasksync/internal/sync/queue"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// SyncStatus represents the current sync state.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusFetching  SyncStatus = "fetching"
	SyncStatusMerging   SyncStatus = "merging"
	SyncStatusReplaying SyncStatus = "replaying"
)

// SyncEventType identifies an engine notification.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "sync.started"
	SyncEventStateChanged SyncEventType = "sync.state_changed"
	SyncEventCompleted    SyncEventType = "sync.completed"
	SyncEventFailed       SyncEventType = "sync.failed"
)

// SyncEvent is emitted to the engine's event handler.
type SyncEvent struct {
	Type      SyncEventType
	Status    SyncStatus
	Result    *SyncResult
	Error     error
	Timestamp time.Time
}

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime"`
	Duration   time.Duration `json:"duration"`
	Fetched    int           `json:"fetched"`
	Collisions int           `json:"collisions"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Parked     int           `json:"parked"`
	Deferred   int           `json:"deferred"`
	Error      string        `json:"error,omitempty"`
}

// SyncErrorEntry is one entry of the engine's error history.
type SyncErrorEntry struct {
	EntityID  string              `json:"entityId,omitempty"`
	Operation string              `json:"operation"`
	Code      apperrors.ErrorCode `json:"code"`
	Error     string              `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
}

const maxErrorHistory = 100

// Config tunes the engine.
type Config struct {
	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration
	// ReplayConcurrency caps how many entity pipelines replay at once.
	ReplayConcurrency int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    15 * time.Second,
		ReplayConcurrency: 4,
	}
}

// Engine reconciles the local replica with the remote system.
//
// A pass fetches the remote snapshot, merges it into the replica with local
// unsynced records taking precedence, then replays the operation queue.
// Only one pass runs at a time.
type Engine struct {
	store    *replica.Store
	queue    *queue.SyncQueue
	remote   remote.Client
	monitor  *connectivity.Monitor
	resolver *conflict.Resolver
	cfg      Config

	running atomic.Bool

	// commitMu serializes every replica and queue write made by a pass with
	// callers of Exclusive and Atomic. closed is guarded by it.
	commitMu sync.Mutex
	closed   bool

	mu       sync.RWMutex
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
	handler  SyncEventHandler
	cancel   context.CancelFunc

	historyMu    sync.Mutex
	errorHistory []SyncErrorEntry
}

// NewEngine creates an engine. monitor may be nil, in which case the remote
// is assumed reachable.
func NewEngine(store *replica.Store, q *queue.SyncQueue, client remote.Client, monitor *connectivity.Monitor, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ReplayConcurrency <= 0 {
		cfg.ReplayConcurrency = def.ReplayConcurrency
	}

	e := &Engine{
		store:    store,
		queue:    q,
		remote:   client,
		monitor:  monitor,
		resolver: conflict.NewResolver(),
		cfg:      cfg,
		status:   SyncStatusIdle,
	}
	if meta := store.Metadata(); meta.LastSyncTimestamp != nil {
		t := *meta.LastSyncTimestamp
		e.lastSync = &t
	}
	return e
}

// Status returns the current sync state.
func (e *Engine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns the completion time of the last pass.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSync == nil {
		return nil
	}
	t := *e.lastSync
	return &t
}

// PendingChanges returns the number of queued mutations.
func (e *Engine) PendingChanges() int {
	return e.queue.Len()
}

// LastError returns the error of the last pass, if any.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// InProgress reports whether a pass is running.
func (e *Engine) InProgress() bool {
	return e.running.Load()
}

// Exclusive runs fn while no merge or replay commit is in progress.
func (e *Engine) Exclusive(fn func() error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return fn()
}

// Atomic runs fn like Exclusive and makes its replica and queue writes one
// unit: they reach the medium in a single write, and if fn or that write
// fails both are restored to their state before fn. It fails with
// ErrSessionClosed after Close.
func (e *Engine) Atomic(fn func() error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if e.closed {
		return errClosed()
	}
	return e.atomicLocked(fn)
}

func (e *Engine) atomicLocked(fn func() error) error {
	batch := e.store.Medium()
	if err := batch.Begin(); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "begin replica batch", err)
	}
	storeCP, queueCP := e.store.Checkpoint(), e.queue.Checkpoint()

	err := fn()
	if err == nil {
		if cerr := batch.Commit(); cerr != nil {
			err = apperrors.Wrap(apperrors.ErrPersistence, "persist replica and queue", cerr)
		}
	} else {
		batch.Abort()
	}
	if err != nil {
		e.store.Rollback(storeCP)
		e.queue.Rollback(queueCP)
	}
	return err
}

func errClosed() error {
	return apperrors.New(apperrors.ErrSessionClosed, "sync engine is closed")
}

// Close stops the engine for good. A running pass is cancelled and can no
// longer write to the replica or the queue; later passes and Atomic calls
// fail with ErrSessionClosed. Exclusive keeps working so the owner can clear
// the durable area afterwards.
func (e *Engine) Close() {
	e.commitMu.Lock()
	e.closed = true
	e.commitMu.Unlock()

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) isClosed() bool {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.closed
}

// GetErrorHistory returns a copy of the recent replay and fetch errors,
// oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	history := make([]SyncErrorEntry, len(e.errorHistory))
	copy(history, e.errorHistory)
	return history
}

// ClearErrorHistory forgets recorded errors.
func (e *Engine) ClearErrorHistory() {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.errorHistory = nil
}

func (e *Engine) recordError(entityID, operation string, err error) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		EntityID:  entityID,
		Operation: operation,
		Code:      apperrors.CodeOf(err),
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	if n := len(e.errorHistory); n > maxErrorHistory {
		e.errorHistory = append([]SyncErrorEntry(nil), e.errorHistory[n-maxErrorHistory:]...)
	}
}

func (e *Engine) emitEvent(event SyncEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

func (e *Engine) setStatus(status SyncStatus) {
	e.mu.Lock()
	changed := e.status != status
	e.status = status
	e.mu.Unlock()

	if changed {
		e.emitEvent(SyncEvent{Type: SyncEventStateChanged, Status: status})
	}
}

// Sync runs one reconciliation pass. It fails fast with ErrOffline when the
// remote is known to be unreachable and with ErrSyncInProgress when another
// pass is running. A fetch or merge failure aborts the pass with the queue
// and replica untouched; replay failures are counted in the result and
// never abort the pass.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if e.isClosed() {
		return nil, errClosed()
	}
	if e.monitor != nil && !e.monitor.Online() {
		return nil, apperrors.New(apperrors.ErrOffline, "remote system unreachable")
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	result := &SyncResult{StartTime: time.Now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Status: e.Status()})

	err := e.run(ctx, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.setStatus(SyncStatusIdle)

	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		result.Error = err.Error()
		logging.ErrorWithCode("Sync pass aborted", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"pending": e.queue.Len()})
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Status: SyncStatusIdle, Result: result, Error: err})
		return result, err
	}

	logging.Info("Sync pass completed",
		map[string]interface{}{
			"fetched":     result.Fetched,
			"collisions":  result.Collisions,
			"succeeded":   result.Succeeded,
			"failed":      result.Failed,
			"parked":      result.Parked,
			"deferred":    result.Deferred,
			"duration_ms": result.Duration.Milliseconds(),
		})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Status: SyncStatusIdle, Result: result})
	return result, nil
}

func (e *Engine) run(ctx context.Context, result *SyncResult) error {
	e.setStatus(SyncStatusFetching)
	tasks, folders, err := e.fetch(ctx)
	if err != nil {
		e.recordError("", "fetch", err)
		return err
	}
	result.Fetched = len(tasks) + len(folders)

	e.setStatus(SyncStatusMerging)
	err = e.locked(func() error {
		return e.store.Merge(func(local replica.Snapshot) replica.Snapshot {
			merged := e.resolver.Merge(local, tasks, folders)
			result.Collisions = len(merged.Collisions)
			return merged.Snapshot
		})
	})
	if err != nil {
		e.recordError("", "merge", err)
		return err
	}

	e.setStatus(SyncStatusReplaying)
	e.replay(ctx, result)

	now := time.Now().UTC()
	if err := e.locked(func() error { return e.store.SetLastSync(now) }); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionClosed) {
			return err
		}
		logging.Error("Failed to record last sync time", err)
	}
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()
	return nil
}

// locked runs a pass's write under commitMu unless the engine was closed.
func (e *Engine) locked(fn func() error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if e.closed {
		return errClosed()
	}
	return fn()
}

func (e *Engine) fetch(ctx context.Context) ([]models.Task, []models.Folder, error) {
	var folders []models.Folder
	err := e.call(ctx, "fetch folders", func(ctx context.Context) error {
		var err error
		folders, err = e.remote.FetchFolders(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var tasks []models.Task
	err = e.call(ctx, "fetch tasks", func(ctx context.Context) error {
		var err error
		tasks, err = e.remote.FetchTasks(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tasks, folders, nil
}

// call runs one remote request under the per-call timeout and feeds its
// outcome to the connectivity monitor.
func (e *Engine) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.Wrap(apperrors.ErrNetwork, op, err)
		}
	}
	// An interrupted pass says nothing about reachability.
	if e.monitor != nil && ctx.Err() == nil {
		e.monitor.ReportCallOutcome(err)
	}
	return err
}

// =====================================================
// Replay
// =====================================================

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeParked
	outcomeDeferred
)

// pipeline is the ordered list of queued items of one entity.
type pipeline struct {
	entityID string
	items    []models.QueueItem
}

type tally struct {
	mu sync.Mutex

	succeeded, failed, parked, deferred int
}

func (t *tally) add(o outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeSucceeded:
		t.succeeded += n
	case outcomeFailed:
		t.failed += n
	case outcomeParked:
		t.parked += n
	case outcomeDeferred:
		t.deferred += n
	}
}

// group splits items into per-entity pipelines in order of first appearance.
func group(items []models.QueueItem, keep func(models.QueueItem) bool) []*pipeline {
	var out []*pipeline
	byID := make(map[string]*pipeline)
	for _, item := range items {
		if !keep(item) {
			continue
		}
		p, ok := byID[item.EntityID]
		if !ok {
			p = &pipeline{entityID: item.EntityID}
			byID[item.EntityID] = p
			out = append(out, p)
		}
		p.items = append(p.items, item)
	}
	return out
}

// replay submits a snapshot of the queue taken now. Folder creations and
// updates go first, then tasks, then folder deletions, so that no task is
// submitted against an unconfirmed folder and no folder is deleted while
// one of its tasks still has unconfirmed work.
func (e *Engine) replay(ctx context.Context, result *SyncResult) {
	items := e.queue.List()
	if len(items) == 0 {
		return
	}

	folderPipes := group(items, func(i models.QueueItem) bool { return i.Operation.IsFolder() && !i.Operation.IsDelete() })
	taskPipes := group(items, func(i models.QueueItem) bool { return !i.Operation.IsFolder() })
	deletePipes := group(items, func(i models.QueueItem) bool { return i.Operation.IsFolder() && i.Operation.IsDelete() })

	t := &tally{}
	blocked := make(map[string]bool)

	for _, p := range e.runPhase(ctx, folderPipes, t) {
		blocked[p.entityID] = true
	}
	if unfinished := e.runPhase(ctx, taskPipes, t); len(unfinished) > 0 {
		for _, id := range e.referencedFolders(unfinished) {
			blocked[id] = true
		}
	}

	var ready []*pipeline
	for _, p := range deletePipes {
		if blocked[p.entityID] || blocked[e.currentEntityID(p)] {
			logging.Debug("Deferring folder delete until its dependents settle",
				map[string]interface{}{"folder_id": p.entityID})
			t.add(outcomeDeferred, len(p.items))
			continue
		}
		ready = append(ready, p)
	}
	e.runPhase(ctx, ready, t)

	result.Succeeded = t.succeeded
	result.Failed = t.failed
	result.Parked = t.parked
	result.Deferred = t.deferred
}

// runPhase replays independent pipelines concurrently and returns those that
// did not complete.
func (e *Engine) runPhase(ctx context.Context, pipes []*pipeline, t *tally) []*pipeline {
	var (
		g          errgroup.Group
		mu         sync.Mutex
		unfinished []*pipeline
	)
	g.SetLimit(e.cfg.ReplayConcurrency)

	for _, p := range pipes {
		p := p
		g.Go(func() error {
			if !e.runPipeline(ctx, p, t) {
				mu.Lock()
				unfinished = append(unfinished, p)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return unfinished
}

// runPipeline replays one entity's items in order. The first item that does
// not succeed stops the pipeline; the rest wait for the next pass.
func (e *Engine) runPipeline(ctx context.Context, p *pipeline, t *tally) bool {
	for i, snap := range p.items {
		// Re-read: an earlier item may have rewritten ids, and the facade may
		// have squashed or cancelled the item since the snapshot.
		item, err := e.queue.Get(snap.ID)
		if err != nil {
			continue
		}

		o := e.process(ctx, item)
		t.add(o, 1)
		if o != outcomeSucceeded {
			if rest := len(p.items) - i - 1; rest > 0 {
				t.add(outcomeDeferred, rest)
			}
			return false
		}
	}
	return true
}

func (e *Engine) currentEntityID(p *pipeline) string {
	if len(p.items) == 0 {
		return p.entityID
	}
	item, err := e.queue.Get(p.items[0].ID)
	if err != nil {
		return p.entityID
	}
	return item.EntityID
}

// referencedFolders returns the folders referenced by tasks whose pipelines
// did not complete.
func (e *Engine) referencedFolders(pipes []*pipeline) []string {
	snap := e.store.Snapshot()
	current := make(map[string]string, len(snap.Tasks))
	for _, t := range snap.Tasks {
		current[t.ID] = t.FolderID
	}

	var ids []string
	for _, p := range pipes {
		for _, snapItem := range p.items {
			item, err := e.queue.Get(snapItem.ID)
			if err != nil {
				continue
			}
			if id := current[item.EntityID]; id != "" {
				ids = append(ids, id)
			}
			if id := payloadFolderID(item); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func payloadFolderID(item models.QueueItem) string {
	var ref struct {
		FolderID string `json:"folderId"`
	}
	if err := json.Unmarshal(item.Payload, &ref); err != nil {
		return ""
	}
	return ref.FolderID
}

// process submits one item and records its outcome on the queue.
func (e *Engine) process(ctx context.Context, item models.QueueItem) outcome {
	if item.Parked() {
		return outcomeParked
	}
	if ctx.Err() != nil {
		return outcomeDeferred
	}
	if reason := dependencyPending(item); reason != "" {
		logging.Debug("Deferring operation", map[string]interface{}{
			"item_id":   item.ID,
			"operation": string(item.Operation),
			"entity_id": item.EntityID,
			"reason":    reason,
		})
		return outcomeDeferred
	}

	e.queue.Begin(item.ID)
	defer e.queue.End(item.ID)

	remoteErr, commitErr := e.submit(ctx, item)
	if commitErr != nil {
		// The remote applied the change but the local bookkeeping failed.
		logging.ErrorWithCode("Failed to commit replayed operation", string(apperrors.CodeOf(commitErr)), commitErr,
			map[string]interface{}{"item_id": item.ID, "entity_id": item.EntityID})
		e.recordError(item.EntityID, string(item.Operation), commitErr)
		return outcomeFailed
	}
	if remoteErr == nil {
		return outcomeSucceeded
	}
	if ctx.Err() != nil {
		return outcomeDeferred
	}

	e.recordError(item.EntityID, string(item.Operation), remoteErr)
	err := e.locked(func() error {
		_, err := e.queue.IncrementRetry(item.ID, remoteErr)
		return err
	})
	if err != nil && !apperrors.Is(err, apperrors.ErrItemParked) {
		logging.Error("Failed to record retry", err, map[string]interface{}{"item_id": item.ID})
	}
	return outcomeFailed
}

// dependencyPending explains why item cannot be submitted yet, or returns "".
func dependencyPending(item models.QueueItem) string {
	if !item.Operation.IsCreate() && uuid.IsLocalID(item.EntityID) {
		return "entity not yet created remotely"
	}
	if item.Operation == models.OpCreateTask || item.Operation == models.OpUpdateTask {
		if uuid.IsLocalID(payloadFolderID(item)) {
			return "folder not yet created remotely"
		}
	}
	return ""
}

// submit performs the remote call for item and, on success, commits the
// result locally: the item leaves the queue, the entity is marked synced and
// a server-assigned id replaces the local one everywhere.
func (e *Engine) submit(ctx context.Context, item models.QueueItem) (remoteErr, commitErr error) {
	op := string(item.Operation)
	switch item.Operation {
	case models.OpCreateTask, models.OpUpdateTask:
		var task models.Task
		if err := json.Unmarshal(item.Payload, &task); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "decode task payload", err), nil
		}
		var server models.Task
		err := e.call(ctx, op, func(ctx context.Context) error {
			var err error
			if item.Operation == models.OpCreateTask {
				task.ID = ""
				server, err = e.remote.CreateTask(ctx, task)
				if err == nil && server.ID == "" {
					err = apperrors.New(apperrors.ErrRemote, "create returned no id")
				}
			} else {
				task.ID = item.EntityID
				server, err = e.remote.UpdateTask(ctx, task)
			}
			return err
		})
		if err != nil {
			return err, nil
		}
		if item.Operation == models.OpUpdateTask {
			server = models.Task{OwnerID: server.OwnerID}
		}
		return nil, e.commitTask(item, &server)

	case models.OpDeleteTask:
		if err := e.call(ctx, op, func(ctx context.Context) error {
			return e.remote.DeleteTask(ctx, item.EntityID)
		}); err != nil {
			return err, nil
		}
		return nil, e.commitTask(item, nil)

	case models.OpCreateFolder, models.OpUpdateFolder:
		var folder models.Folder
		if err := json.Unmarshal(item.Payload, &folder); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "decode folder payload", err), nil
		}
		var server models.Folder
		err := e.call(ctx, op, func(ctx context.Context) error {
			var err error
			if item.Operation == models.OpCreateFolder {
				folder.ID = ""
				server, err = e.remote.CreateFolder(ctx, folder)
				if err == nil && server.ID == "" {
					err = apperrors.New(apperrors.ErrRemote, "create returned no id")
				}
			} else {
				folder.ID = item.EntityID
				server, err = e.remote.UpdateFolder(ctx, folder)
			}
			return err
		})
		if err != nil {
			return err, nil
		}
		if item.Operation == models.OpUpdateFolder {
			server = models.Folder{OwnerID: server.OwnerID}
		}
		return nil, e.commitFolder(item, &server)

	case models.OpDeleteFolderOnly, models.OpDeleteFolderWithTasks:
		withTasks := item.Operation == models.OpDeleteFolderWithTasks
		if err := e.call(ctx, op, func(ctx context.Context) error {
			return e.remote.DeleteFolder(ctx, item.EntityID, withTasks)
		}); err != nil {
			return err, nil
		}
		return nil, e.commitFolder(item, nil)
	}
	return apperrors.Newf(apperrors.ErrValidation, "unknown operation %s", item.Operation), nil
}

// commitTask records a confirmed task mutation: the item leaves the queue,
// the task is marked synced and a server-assigned id replaces the local one.
// All of it lands in one write or none of it does.
func (e *Engine) commitTask(item models.QueueItem, server *models.Task) error {
	newID := ""
	if server != nil {
		newID = server.ID
	}
	return e.commit(item, newID, func(settled bool) error {
		_, err := e.store.MarkTaskSynced(item.EntityID, server, settled)
		return err
	})
}

func (e *Engine) commitFolder(item models.QueueItem, server *models.Folder) error {
	newID := ""
	if server != nil {
		newID = server.ID
	}
	return e.commit(item, newID, func(settled bool) error {
		_, err := e.store.MarkFolderSynced(item.EntityID, server, settled)
		return err
	})
}

func (e *Engine) commit(item models.QueueItem, newID string, mark func(settled bool) error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if e.closed {
		return errClosed()
	}

	return e.atomicLocked(func() error {
		if err := e.queue.Remove(item.ID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		settled := !e.queue.HasPending(item.EntityID)
		if err := mark(settled); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if newID != "" && newID != item.EntityID {
			if _, err := e.queue.RewriteEntityID(item.EntityID, newID); err != nil {
				return err
			}
		}
		return nil
	})
}

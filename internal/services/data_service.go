// Package services provides the data facade: the only entry point callers
// use to read and mutate the replica.
package services

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/events"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/replica"
	syncpkg "github.com/kimhsiao/tasksync/internal/sync"
	"github.com/kimhsiao/tasksync/internal/sync/connectivity"
	"github.com/kimhsiao/tasksync/internal/sync/queue"
)

// DataService turns caller intents into replica changes and queued
// mutations, and relays replica, sync and connectivity notifications to
// subscribers.
//
// Writes are applied optimistically: the replica changes immediately and
// the mutation is replayed against the remote by the engine. A write and
// its queued mutations are one unit; when any part fails nothing of it
// remains. Failures are reported in the Result, never returned as errors.
type DataService struct {
	store   *replica.Store
	queue   *queue.SyncQueue
	engine  *syncpkg.Engine
	monitor *connectivity.Monitor
	bus     *events.Bus

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewDataService wires the facade. It registers itself as the engine's
// event handler and relays connectivity transitions until Close.
func NewDataService(store *replica.Store, q *queue.SyncQueue, engine *syncpkg.Engine, monitor *connectivity.Monitor, bus *events.Bus) *DataService {
	s := &DataService{
		store:   store,
		queue:   q,
		engine:  engine,
		monitor: monitor,
		bus:     bus,
		stopCh:  make(chan struct{}),
	}

	engine.SetEventHandler(syncpkg.SyncEventHandlerFunc(s.onSyncEvent))

	if monitor != nil {
		transitions, cancel := monitor.Subscribe()
		s.wg.Add(1)
		go s.relayConnectivity(transitions, cancel)
	}
	return s
}

// Close stops relaying notifications. It does not close the bus.
func (s *DataService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.engine.SetEventHandler(nil)
	})
}

// Subscribe registers for change notifications.
func (s *DataService) Subscribe(buffer int) *events.Subscription {
	return s.bus.Subscribe(buffer)
}

func (s *DataService) offline() bool {
	return s.monitor != nil && !s.monitor.Online()
}

func (s *DataService) relayConnectivity(transitions <-chan connectivity.Transition, cancel func()) {
	defer s.wg.Done()
	defer cancel()

	for {
		select {
		case <-s.stopCh:
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			s.bus.Publish(events.Event{Type: events.ConnectivityChanged, Online: tr.Online, At: tr.At})
		}
	}
}

func (s *DataService) onSyncEvent(ev syncpkg.SyncEvent) {
	if ev.Type == syncpkg.SyncEventStarted {
		return
	}
	status := &events.SyncStatus{
		State:    string(ev.Status),
		Pending:  s.queue.Len(),
		LastSync: s.engine.LastSync(),
	}
	if ev.Result != nil {
		status.Succeeded = ev.Result.Succeeded
		status.Failed = ev.Result.Failed
		status.Parked = ev.Result.Parked
		status.Deferred = ev.Result.Deferred
	}
	if ev.Error != nil {
		status.Error = ev.Error.Error()
	}
	s.bus.Publish(events.Event{
		Type:   events.SyncStatusChanged,
		Sync:   status,
		Online: !s.offline(),
		At:     ev.Timestamp,
	})
}

// =====================================================
// Reads
// =====================================================

// ListTasks returns every active task.
func (s *DataService) ListTasks() Result[[]models.Task] {
	return ok(s.store.ListTasks(), s.offline())
}

// ListFolders returns every active folder.
func (s *DataService) ListFolders() Result[[]models.Folder] {
	return ok(s.store.ListFolders(), s.offline())
}

// GetTask returns one task.
func (s *DataService) GetTask(id string) Result[models.Task] {
	t, err := s.store.GetTask(id)
	if err != nil {
		return fail[models.Task](err, s.offline())
	}
	return ok(t, s.offline())
}

// GetFolder returns one folder.
func (s *DataService) GetFolder(id string) Result[models.Folder] {
	f, err := s.store.GetFolder(id)
	if err != nil {
		return fail[models.Folder](err, s.offline())
	}
	return ok(f, s.offline())
}

// TasksInFolder returns the active tasks of a folder.
func (s *DataService) TasksInFolder(folderID string) Result[[]models.Task] {
	if _, err := s.store.GetFolder(folderID); err != nil {
		return fail[[]models.Task](err, s.offline())
	}
	return ok(s.store.ListTasksInFolder(folderID), s.offline())
}

// =====================================================
// Task writes
// =====================================================

// CreateTask stores a new task and queues its creation.
func (s *DataService) CreateTask(in models.TaskInput) Result[models.Task] {
	if err := in.Validate(); err != nil {
		return fail[models.Task](err, s.offline())
	}
	in = in.Normalize()

	var created models.Task
	err := s.engine.Atomic(func() error {
		t, err := s.store.CreateTask(models.Task{
			Title:       in.Title,
			Description: in.Description,
			Status:      in.Status,
			Priority:    in.Priority,
			DueDate:     in.DueDate,
			FolderID:    in.FolderID,
		})
		if err != nil {
			return err
		}
		if _, err := s.queue.Enqueue(models.OpCreateTask, t.ID, t.Remote()); err != nil {
			return err
		}
		created = t
		return nil
	})
	return s.finishTask("Create task", events.EntityCreated, created, err)
}

// UpdateTask applies a patch and queues the resulting state. Consecutive
// unsubmitted updates of a task collapse into one.
func (s *DataService) UpdateTask(id string, patch models.TaskPatch) Result[models.Task] {
	if err := patch.Validate(); err != nil {
		return fail[models.Task](err, s.offline())
	}

	var updated models.Task
	err := s.engine.Atomic(func() error {
		t, err := s.store.UpdateTask(id, patch)
		if err != nil {
			return err
		}
		if err := s.enqueueUpdate(models.OpUpdateTask, t.ID, t.Remote()); err != nil {
			return err
		}
		updated = t
		return nil
	})
	return s.finishTask("Update task", events.EntityUpdated, updated, err)
}

// ToggleTaskStatus flips a task between pending and completed. A task in
// progress becomes completed.
func (s *DataService) ToggleTaskStatus(id string) Result[models.Task] {
	t, err := s.store.GetTask(id)
	if err != nil {
		return fail[models.Task](err, s.offline())
	}
	next := models.StatusCompleted
	if t.Status == models.StatusCompleted {
		next = models.StatusPending
	}
	return s.UpdateTask(id, models.TaskPatch{Status: &next})
}

// DeleteTask soft-deletes a task and queues its deletion. A task whose
// creation never reached the remote is dropped together with its queued
// work.
func (s *DataService) DeleteTask(id string) Result[models.Task] {
	var deleted models.Task
	err := s.engine.Atomic(func() error {
		t, err := s.store.DeleteTask(id)
		if err != nil {
			return err
		}
		if err := s.retireTask(t.ID); err != nil {
			return err
		}
		deleted = t
		return nil
	})
	return s.finishTask("Delete task", events.EntityDeleted, deleted, err)
}

// retireTask queues the remote deletion of a soft-deleted task, or cancels
// its unsubmitted creation. Callers run it inside Engine.Atomic.
func (s *DataService) retireTask(id string) error {
	cancelled, err := s.queue.CancelCreate(id)
	if err != nil {
		return err
	}
	if cancelled {
		return s.store.PurgeTask(id)
	}
	if _, err := s.queue.DropUpdates(id); err != nil {
		return err
	}
	_, err = s.queue.Enqueue(models.OpDeleteTask, id, models.DeletePayload{ID: id})
	return err
}

func (s *DataService) finishTask(action string, typ events.Type, t models.Task, err error) Result[models.Task] {
	offline := s.offline()
	if err != nil {
		logFailure(action, t.ID, err)
		return fail[models.Task](err, offline)
	}
	s.bus.Publish(events.TaskEvent(typ, t, offline))
	return ok(t, offline)
}

// =====================================================
// Folder writes
// =====================================================

// CreateFolder stores a new folder and queues its creation.
func (s *DataService) CreateFolder(in models.FolderInput) Result[models.Folder] {
	if err := in.Validate(); err != nil {
		return fail[models.Folder](err, s.offline())
	}

	var created models.Folder
	err := s.engine.Atomic(func() error {
		f, err := s.store.CreateFolder(models.Folder{Name: in.Name, Icon: in.Icon})
		if err != nil {
			return err
		}
		if _, err := s.queue.Enqueue(models.OpCreateFolder, f.ID, f.Remote()); err != nil {
			return err
		}
		created = f
		return nil
	})
	return s.finishFolder("Create folder", events.EntityCreated, created, err)
}

// UpdateFolder applies a patch and queues the resulting state.
func (s *DataService) UpdateFolder(id string, patch models.FolderPatch) Result[models.Folder] {
	if err := patch.Validate(); err != nil {
		return fail[models.Folder](err, s.offline())
	}

	var updated models.Folder
	err := s.engine.Atomic(func() error {
		f, err := s.store.UpdateFolder(id, patch)
		if err != nil {
			return err
		}
		if err := s.enqueueUpdate(models.OpUpdateFolder, f.ID, f.Remote()); err != nil {
			return err
		}
		updated = f
		return nil
	})
	return s.finishFolder("Update folder", events.EntityUpdated, updated, err)
}

// DeleteFolder soft-deletes a folder. With cascade its active tasks are
// deleted first, each with its own queued deletion, and the remote is asked
// to delete the folder with its tasks. Without cascade the folder must be
// empty.
func (s *DataService) DeleteFolder(id string, cascade bool) Result[models.Folder] {
	var (
		deleted  models.Folder
		children []models.Task
	)
	err := s.engine.Atomic(func() error {
		f, tasks, err := s.store.DeleteFolder(id, cascade)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := s.retireTask(t.ID); err != nil {
				return err
			}
		}

		cancelled, err := s.queue.CancelCreate(f.ID)
		if err != nil {
			return err
		}
		if cancelled {
			if err := s.store.PurgeFolder(f.ID); err != nil {
				return err
			}
		} else {
			if _, err := s.queue.DropUpdates(f.ID); err != nil {
				return err
			}
			op := models.OpDeleteFolderOnly
			if cascade {
				op = models.OpDeleteFolderWithTasks
			}
			if _, err := s.queue.Enqueue(op, f.ID, models.DeletePayload{ID: f.ID}); err != nil {
				return err
			}
		}
		deleted, children = f, tasks
		return nil
	})
	if err == nil {
		offline := s.offline()
		for _, t := range children {
			s.bus.Publish(events.TaskEvent(events.EntityDeleted, t, offline))
		}
	}
	return s.finishFolder("Delete folder", events.EntityDeleted, deleted, err)
}

func (s *DataService) finishFolder(action string, typ events.Type, f models.Folder, err error) Result[models.Folder] {
	offline := s.offline()
	if err != nil {
		logFailure(action, f.ID, err)
		return fail[models.Folder](err, offline)
	}
	s.bus.Publish(events.FolderEvent(typ, f, offline))
	return ok(f, offline)
}

// enqueueUpdate folds the new state into a trailing unsubmitted update of
// the entity, or queues a new one.
func (s *DataService) enqueueUpdate(op models.Operation, id string, payload interface{}) error {
	squashed, err := s.queue.SquashUpdate(id, payload)
	if err != nil || squashed {
		return err
	}
	_, err = s.queue.Enqueue(op, id, payload)
	return err
}

func logFailure(action, id string, err error) {
	code := apperrors.CodeOf(err)
	ctx := map[string]interface{}{"entity_id": id}
	switch code {
	case apperrors.ErrValidation, apperrors.ErrNotFound:
		ctx["error"] = err.Error()
		logging.Debug(action+" rejected", ctx)
	default:
		logging.ErrorWithCode(action+" failed", string(code), err, ctx)
	}
}

// =====================================================
// Sync
// =====================================================

// SyncStatus describes the synchronizer and the outbox.
type SyncStatus struct {
	State      syncpkg.SyncStatus `json:"state" yaml:"state"`
	Online     bool               `json:"online" yaml:"online"`
	InProgress bool               `json:"inProgress" yaml:"inProgress"`
	Queue      queue.Stats        `json:"queue" yaml:"queue"`
	LastSync   *time.Time         `json:"lastSync,omitempty" yaml:"lastSync,omitempty"`
	LastError  string             `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// ForceSync runs a reconciliation pass now and waits for it.
func (s *DataService) ForceSync(ctx context.Context) Result[*syncpkg.SyncResult] {
	result, err := s.engine.Sync(ctx)
	if err != nil {
		offline := s.offline() || apperrors.Is(err, apperrors.ErrNetwork)
		r := fail[*syncpkg.SyncResult](err, offline)
		r.Data = result
		return r
	}
	return ok(result, s.offline())
}

// SyncStatus returns the current synchronizer state.
func (s *DataService) SyncStatus() Result[SyncStatus] {
	status := SyncStatus{
		State:      s.engine.Status(),
		Online:     !s.offline(),
		InProgress: s.engine.InProgress(),
		Queue:      s.queue.Stats(),
		LastSync:   s.engine.LastSync(),
	}
	if err := s.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return ok(status, !status.Online)
}

// PendingOperations lists every queued mutation in replay order.
func (s *DataService) PendingOperations() Result[[]models.QueueItem] {
	return ok(s.queue.List(), s.offline())
}

// ParkedOperations lists the mutations that exhausted their retries.
func (s *DataService) ParkedOperations() Result[[]models.QueueItem] {
	return ok(s.queue.Parked(), s.offline())
}

// AcknowledgeParked discards a parked mutation. The local record keeps its
// unsynced state. Discarding a creation also discards the entity's later
// mutations, which can no longer reach the remote, and a record already
// deleted locally goes with them.
func (s *DataService) AcknowledgeParked(itemID string) Result[models.QueueItem] {
	var item models.QueueItem
	err := s.engine.Atomic(func() error {
		var err error
		item, err = s.queue.Acknowledge(itemID)
		if err != nil || !item.Operation.IsCreate() {
			return err
		}
		if _, err := s.queue.DropEntity(item.EntityID); err != nil {
			return err
		}
		return s.purgeIfDeleted(item)
	})
	if err != nil {
		return fail[models.QueueItem](err, s.offline())
	}
	return ok(item, s.offline())
}

func (s *DataService) purgeIfDeleted(item models.QueueItem) error {
	if s.queue.HasPending(item.EntityID) {
		return nil
	}
	if item.Operation.IsFolder() {
		if _, err := s.store.GetFolder(item.EntityID); apperrors.Is(err, apperrors.ErrNotFound) {
			if err := s.store.PurgeFolder(item.EntityID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return err
			}
		}
		return nil
	}
	if _, err := s.store.GetTask(item.EntityID); apperrors.Is(err, apperrors.ErrNotFound) {
		if err := s.store.PurgeTask(item.EntityID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return nil
}

// RequeueParked makes a parked mutation eligible for replay again.
func (s *DataService) RequeueParked(itemID string) Result[models.QueueItem] {
	var item models.QueueItem
	err := s.engine.Exclusive(func() error {
		cur, err := s.queue.Get(itemID)
		if err != nil {
			return err
		}
		if !cur.Parked() {
			return apperrors.Newf(apperrors.ErrValidation, "queue item %s is not parked", itemID)
		}
		item, err = s.queue.Requeue(itemID)
		return err
	})
	if err != nil {
		return fail[models.QueueItem](err, s.offline())
	}
	return ok(item, s.offline())
}

package replica

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// Snapshot is a full copy of the replica, tombstones and unsynced records
// included.
type Snapshot struct {
	Tasks   []models.Task
	Folders []models.Folder
}

// Store is the local replica of one user's tasks and folders.
//
// Every mutation is atomic: it is applied to copies of the entity maps,
// persisted, and only then swapped in. A persistence failure leaves both the
// medium and the in-memory state unchanged.
type Store struct {
	mu       sync.RWMutex
	blobs    *Batch
	userID   string
	tasks    map[string]models.Task
	folders  map[string]models.Folder
	lastSync *time.Time

	// now is swapped in tests.
	now func() time.Time
}

// Open loads the replica for userID from blobs. When the area belongs to a
// different user it is wiped before the new user is recorded.
func Open(blobs Blobs, userID string) (*Store, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	s := &Store{
		blobs:   NewBatch(blobs),
		userID:  userID,
		tasks:   make(map[string]models.Task),
		folders: make(map[string]models.Folder),
		now:     time.Now,
	}

	var stored string
	if err := readJSON(blobs, KeyUserID, &stored); err != nil {
		return nil, err
	}
	if stored != "" && stored != userID {
		logging.Info("Replica belongs to another user, resetting",
			map[string]interface{}{"previous_user": stored, "user": userID})
		if err := ResetArea(blobs); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "reset replica", err)
		}
	} else {
		if err := readJSON(blobs, KeyTasks, &s.tasks); err != nil {
			return nil, err
		}
		if err := readJSON(blobs, KeyFolders, &s.folders); err != nil {
			return nil, err
		}
		if err := readJSON(blobs, KeyLastSync, &s.lastSync); err != nil {
			return nil, err
		}
	}
	if s.tasks == nil {
		s.tasks = make(map[string]models.Task)
	}
	if s.folders == nil {
		s.folders = make(map[string]models.Folder)
	}

	if stored != userID {
		data, _ := json.Marshal(userID)
		if err := blobs.SetMany(map[string][]byte{KeyUserID: data}); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "record replica owner", err)
		}
	}

	return s, nil
}

func readJSON(blobs Blobs, key string, v interface{}) error {
	data, ok, err := blobs.Get(key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "read "+key, err)
	}
	if !ok || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "decode "+key, err)
	}
	return nil
}

// UserID returns the owner the replica is scoped to.
func (s *Store) UserID() string {
	return s.userID
}

// Medium returns the batch the replica writes through. Components whose
// writes must land together with replica writes share it.
func (s *Store) Medium() *Batch {
	return s.blobs
}

// Checkpoint captures the in-memory replica so Rollback can return to it.
type Checkpoint struct {
	tasks    map[string]models.Task
	folders  map[string]models.Folder
	lastSync *time.Time
}

// Checkpoint returns the current state. Committed maps are never mutated in
// place, so holding them is enough.
func (s *Store) Checkpoint() Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Checkpoint{tasks: s.tasks, folders: s.folders, lastSync: s.lastSync}
}

// Rollback restores the in-memory replica to cp without writing. It pairs
// with an aborted or failed Batch, whose writes never reached the medium.
func (s *Store) Rollback(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks, s.folders, s.lastSync = cp.tasks, cp.folders, cp.lastSync
}

// =====================================================
// Transactions
// =====================================================

// txn stages a mutation against copy-on-write views of the entity maps.
type txn struct {
	store         *Store
	tasks         map[string]models.Task
	folders       map[string]models.Folder
	tasksDirty    bool
	foldersDirty  bool
	lastSync      *time.Time
	lastSyncDirty bool
}

func (tx *txn) putTask(t models.Task) {
	if !tx.tasksDirty {
		tx.tasks = cloneTasks(tx.tasks)
		tx.tasksDirty = true
	}
	tx.tasks[t.ID] = t
}

func (tx *txn) removeTask(id string) {
	if !tx.tasksDirty {
		tx.tasks = cloneTasks(tx.tasks)
		tx.tasksDirty = true
	}
	delete(tx.tasks, id)
}

func (tx *txn) putFolder(f models.Folder) {
	if !tx.foldersDirty {
		tx.folders = cloneFolders(tx.folders)
		tx.foldersDirty = true
	}
	tx.folders[f.ID] = f
}

func (tx *txn) removeFolder(id string) {
	if !tx.foldersDirty {
		tx.folders = cloneFolders(tx.folders)
		tx.foldersDirty = true
	}
	delete(tx.folders, id)
}

// touch returns a timestamp not earlier than prev so UpdatedAt never moves
// backwards, even if the wall clock does.
func (tx *txn) touch(prev time.Time) time.Time {
	now := tx.store.now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

// update runs fn under the write lock and commits its staged changes.
func (s *Store) update(fn func(tx *txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{store: s, tasks: s.tasks, folders: s.folders, lastSync: s.lastSync}
	if err := fn(tx); err != nil {
		return err
	}

	blobs := make(map[string][]byte, 3)
	if tx.tasksDirty {
		data, err := json.Marshal(tx.tasks)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "encode tasks", err)
		}
		blobs[KeyTasks] = data
	}
	if tx.foldersDirty {
		data, err := json.Marshal(tx.folders)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "encode folders", err)
		}
		blobs[KeyFolders] = data
	}
	if tx.lastSyncDirty {
		data, err := json.Marshal(tx.lastSync)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, "encode lastSync", err)
		}
		blobs[KeyLastSync] = data
	}
	if len(blobs) == 0 {
		return nil
	}
	if err := s.blobs.SetMany(blobs); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "persist replica", err)
	}

	s.tasks = tx.tasks
	s.folders = tx.folders
	s.lastSync = tx.lastSync
	return nil
}

func cloneTasks(m map[string]models.Task) map[string]models.Task {
	c := make(map[string]models.Task, len(m)+1)
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneFolders(m map[string]models.Folder) map[string]models.Folder {
	c := make(map[string]models.Folder, len(m)+1)
	for k, v := range m {
		c[k] = v
	}
	return c
}

// =====================================================
// Reads
// =====================================================

func (s *Store) activeTask(t models.Task) bool {
	return !t.IsDeleted() && t.OwnerID == s.userID
}

func (s *Store) activeFolder(f models.Folder) bool {
	return !f.IsDeleted() && f.OwnerID == s.userID
}

// ListTasks returns all active tasks ordered by creation time.
func (s *Store) ListTasks() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if s.activeTask(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

// ListTasksInFolder returns the active tasks filed under folderID.
func (s *Store) ListTasksInFolder(folderID string) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Task
	for _, t := range s.tasks {
		if s.activeTask(t) && t.FolderID == folderID {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

// ListFolders returns all active folders ordered by creation time.
func (s *Store) ListFolders() []models.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		if s.activeFolder(f) {
			out = append(out, f.Clone())
		}
	}
	sortFolders(out)
	return out
}

// GetTask returns an active task.
func (s *Store) GetTask(id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok || !s.activeTask(t) {
		return models.Task{}, apperrors.NotFound("task", id)
	}
	return t.Clone(), nil
}

// GetFolder returns an active folder.
func (s *Store) GetFolder(id string) (models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok || !s.activeFolder(f) {
		return models.Folder{}, apperrors.NotFound("folder", id)
	}
	return f.Clone(), nil
}

// Snapshot returns copies of every record, tombstones included.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Tasks:   make([]models.Task, 0, len(s.tasks)),
		Folders: make([]models.Folder, 0, len(s.folders)),
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
	}
	for _, f := range s.folders {
		snap.Folders = append(snap.Folders, f.Clone())
	}
	sortTasks(snap.Tasks)
	sortFolders(snap.Folders)
	return snap
}

// Metadata returns the replica's sync metadata.
func (s *Store) Metadata() models.SyncMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta := models.SyncMetadata{UserID: s.userID}
	if s.lastSync != nil {
		t := *s.lastSync
		meta.LastSyncTimestamp = &t
	}
	return meta
}

func sortTasks(ts []models.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func sortFolders(fs []models.Folder) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].CreatedAt.Equal(fs[j].CreatedAt) {
			return fs[i].CreatedAt.Before(fs[j].CreatedAt)
		}
		return fs[i].ID < fs[j].ID
	})
}

// =====================================================
// Writes
// =====================================================

// CreateTask stores a new task. Without an id a local one is minted and the
// task is marked created and unsynced; a caller-supplied id (hydration) keeps
// the caller's sync state.
func (s *Store) CreateTask(t models.Task) (models.Task, error) {
	var created models.Task
	err := s.update(func(tx *txn) error {
		t = t.Clone()
		if t.ID == "" {
			t.ID = uuid.NewLocalID()
			t.Sync = models.SyncState{Created: true}
		} else if _, exists := tx.tasks[t.ID]; exists {
			return apperrors.Validation(fmt.Sprintf("task %s already exists", t.ID))
		}
		if t.OwnerID == "" {
			t.OwnerID = s.userID
		}
		if err := tx.requireFolder(t.FolderID); err != nil {
			return err
		}

		now := tx.touch(time.Time{})
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.Before(t.CreatedAt) {
			t.UpdatedAt = t.CreatedAt
		}
		tx.putTask(t)
		created = t.Clone()
		return nil
	})
	return created, err
}

// CreateFolder stores a new folder, minting a local id when none is given.
func (s *Store) CreateFolder(f models.Folder) (models.Folder, error) {
	var created models.Folder
	err := s.update(func(tx *txn) error {
		f = f.Clone()
		if f.ID == "" {
			f.ID = uuid.NewLocalID()
			f.Sync = models.SyncState{Created: true}
		} else if _, exists := tx.folders[f.ID]; exists {
			return apperrors.Validation(fmt.Sprintf("folder %s already exists", f.ID))
		}
		if f.OwnerID == "" {
			f.OwnerID = s.userID
		}

		now := tx.touch(time.Time{})
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if f.UpdatedAt.Before(f.CreatedAt) {
			f.UpdatedAt = f.CreatedAt
		}
		tx.putFolder(f)
		created = f.Clone()
		return nil
	})
	return created, err
}

// requireFolder enforces that a task points at a live folder. Folders still
// awaiting remote creation live in the replica under their local id, so they
// satisfy the check.
func (tx *txn) requireFolder(id string) error {
	f, ok := tx.folders[id]
	if !ok || f.IsDeleted() || f.OwnerID != tx.store.userID {
		return apperrors.Validation(fmt.Sprintf("folder %s does not exist", id))
	}
	return nil
}

// UpdateTask applies a patch. Status and priority transitions are appended
// to the task's history.
func (s *Store) UpdateTask(id string, patch models.TaskPatch) (models.Task, error) {
	var updated models.Task
	err := s.update(func(tx *txn) error {
		cur, ok := tx.tasks[id]
		if !ok || !s.activeTask(cur) {
			return apperrors.NotFound("task", id)
		}
		t := cur.Clone()
		now := tx.touch(t.UpdatedAt)

		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Status != nil && *patch.Status != t.Status {
			t.StatusHistory = append(t.StatusHistory, models.StatusChange{From: t.Status, To: *patch.Status, At: now})
			t.Status = *patch.Status
		}
		if patch.Priority != nil && *patch.Priority != t.Priority {
			t.PriorityHistory = append(t.PriorityHistory, models.PriorityChange{From: t.Priority, To: *patch.Priority, At: now})
			t.Priority = *patch.Priority
		}
		if patch.ClearDueDate {
			t.DueDate = nil
		} else if patch.DueDate != nil {
			due := *patch.DueDate
			t.DueDate = &due
		}
		if patch.FolderID != nil && *patch.FolderID != t.FolderID {
			if err := tx.requireFolder(*patch.FolderID); err != nil {
				return err
			}
			t.FolderID = *patch.FolderID
		}

		t.UpdatedAt = now
		t.Sync.Modified = true
		t.Sync.Synced = false
		tx.putTask(t)
		updated = t.Clone()
		return nil
	})
	return updated, err
}

// UpdateFolder applies a patch to a folder.
func (s *Store) UpdateFolder(id string, patch models.FolderPatch) (models.Folder, error) {
	var updated models.Folder
	err := s.update(func(tx *txn) error {
		cur, ok := tx.folders[id]
		if !ok || !s.activeFolder(cur) {
			return apperrors.NotFound("folder", id)
		}
		f := cur.Clone()
		if patch.Name != nil {
			f.Name = *patch.Name
		}
		if patch.Icon != nil {
			f.Icon = *patch.Icon
		}
		f.UpdatedAt = tx.touch(f.UpdatedAt)
		f.Sync.Modified = true
		f.Sync.Synced = false
		tx.putFolder(f)
		updated = f.Clone()
		return nil
	})
	return updated, err
}

func (tx *txn) softDeleteTask(t models.Task) models.Task {
	t = t.Clone()
	now := tx.touch(t.UpdatedAt)
	t.DeletedAt = &now
	t.UpdatedAt = now
	t.Sync.Modified = true
	t.Sync.Synced = false
	tx.putTask(t)
	return t
}

// DeleteTask soft-deletes a task, leaving a tombstone until the remote
// confirms the deletion.
func (s *Store) DeleteTask(id string) (models.Task, error) {
	var deleted models.Task
	err := s.update(func(tx *txn) error {
		cur, ok := tx.tasks[id]
		if !ok || !s.activeTask(cur) {
			return apperrors.NotFound("task", id)
		}
		deleted = tx.softDeleteTask(cur).Clone()
		return nil
	})
	return deleted, err
}

// DeleteFolder soft-deletes a folder. With cascade the folder's active tasks
// are soft-deleted first and returned; without it the delete is refused
// while active tasks still reference the folder.
func (s *Store) DeleteFolder(id string, cascade bool) (models.Folder, []models.Task, error) {
	var (
		deleted  models.Folder
		children []models.Task
	)
	err := s.update(func(tx *txn) error {
		cur, ok := tx.folders[id]
		if !ok || !s.activeFolder(cur) {
			return apperrors.NotFound("folder", id)
		}

		var live []models.Task
		for _, t := range tx.tasks {
			if s.activeTask(t) && t.FolderID == id {
				live = append(live, t)
			}
		}
		sortTasks(live)
		if len(live) > 0 && !cascade {
			return apperrors.Validation(fmt.Sprintf("folder %s still contains %d tasks", id, len(live)))
		}
		for _, t := range live {
			children = append(children, tx.softDeleteTask(t).Clone())
		}

		f := cur.Clone()
		now := tx.touch(f.UpdatedAt)
		f.DeletedAt = &now
		f.UpdatedAt = now
		f.Sync.Modified = true
		f.Sync.Synced = false
		tx.putFolder(f)
		deleted = f.Clone()
		return nil
	})
	return deleted, children, err
}

// PurgeTask physically removes a task. It is used once nothing remains for
// the remote to confirm: a settled delete, or a create cancelled before it
// was ever submitted.
func (s *Store) PurgeTask(id string) error {
	return s.update(func(tx *txn) error {
		if _, ok := tx.tasks[id]; !ok {
			return apperrors.NotFound("task", id)
		}
		tx.removeTask(id)
		return nil
	})
}

// PurgeFolder physically removes a folder.
func (s *Store) PurgeFolder(id string) error {
	return s.update(func(tx *txn) error {
		if _, ok := tx.folders[id]; !ok {
			return apperrors.NotFound("folder", id)
		}
		tx.removeFolder(id)
		return nil
	})
}

// =====================================================
// Sync bookkeeping
// =====================================================

func (s *Store) syncedState(settled bool, prev models.SyncState) models.SyncState {
	now := s.now().UTC()
	st := prev
	st.Created = false
	st.LastSyncAt = &now
	if settled {
		st.Modified = false
		st.Synced = true
	}
	return st
}

// MarkTaskSynced records that the remote applied a mutation of task id.
// When server carries a different id the task is migrated to it. settled
// reports that no further queued mutation exists for the task; only then is
// it flagged synced, and a settled tombstone is removed.
func (s *Store) MarkTaskSynced(id string, server *models.Task, settled bool) (models.Task, error) {
	var result models.Task
	err := s.update(func(tx *txn) error {
		cur, ok := tx.tasks[id]
		if !ok {
			return apperrors.NotFound("task", id)
		}
		t := cur.Clone()

		if server != nil && server.ID != "" && server.ID != id {
			tx.removeTask(id)
			t.ID = server.ID
		}
		if server != nil && server.OwnerID != "" {
			t.OwnerID = server.OwnerID
		}

		if t.IsDeleted() && settled {
			tx.removeTask(t.ID)
			result = t
			return nil
		}
		t.Sync = s.syncedState(settled, t.Sync)
		tx.putTask(t)
		result = t.Clone()
		return nil
	})
	return result, err
}

// MarkFolderSynced records that the remote applied a mutation of folder id.
// An id migration also rewrites every task that referenced the old id, so no
// task is left pointing at it.
func (s *Store) MarkFolderSynced(id string, server *models.Folder, settled bool) (models.Folder, error) {
	var result models.Folder
	err := s.update(func(tx *txn) error {
		cur, ok := tx.folders[id]
		if !ok {
			return apperrors.NotFound("folder", id)
		}
		f := cur.Clone()

		if server != nil && server.ID != "" && server.ID != id {
			tx.removeFolder(id)
			f.ID = server.ID
			for _, t := range tx.tasks {
				if t.FolderID == id {
					t = t.Clone()
					t.FolderID = f.ID
					tx.putTask(t)
				}
			}
			logging.Debug("Migrated folder id",
				map[string]interface{}{"from": id, "to": f.ID})
		}
		if server != nil && server.OwnerID != "" {
			f.OwnerID = server.OwnerID
		}

		if f.IsDeleted() && settled {
			tx.removeFolder(f.ID)
			result = f
			return nil
		}
		f.Sync = s.syncedState(settled, f.Sync)
		tx.putFolder(f)
		result = f.Clone()
		return nil
	})
	return result, err
}

// MergeFunc computes the replica's next contents from its current contents.
type MergeFunc func(local Snapshot) Snapshot

// Merge replaces the replica with the result of fn, evaluated against the
// replica as it is at commit time, under the write lock. Records the merge
// returns without an owner are stamped with the replica's user.
func (s *Store) Merge(fn MergeFunc) error {
	return s.update(func(tx *txn) error {
		next := fn(tx.store.snapshotLocked())

		tasks := make(map[string]models.Task, len(next.Tasks))
		for _, t := range next.Tasks {
			if t.OwnerID == "" {
				t.OwnerID = s.userID
			}
			tasks[t.ID] = t.Clone()
		}
		folders := make(map[string]models.Folder, len(next.Folders))
		for _, f := range next.Folders {
			if f.OwnerID == "" {
				f.OwnerID = s.userID
			}
			folders[f.ID] = f.Clone()
		}

		tx.tasks, tx.tasksDirty = tasks, true
		tx.folders, tx.foldersDirty = folders, true
		return nil
	})
}

// SetLastSync records the completion time of a reconciliation pass.
func (s *Store) SetLastSync(at time.Time) error {
	return s.update(func(tx *txn) error {
		t := at.UTC()
		tx.lastSync = &t
		tx.lastSyncDirty = true
		return nil
	})
}

// Reset clears the replica in memory and on the medium.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.DeleteMany(KeyTasks, KeyFolders, KeyLastSync); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "reset replica", err)
	}
	s.tasks = make(map[string]models.Task)
	s.folders = make(map[string]models.Folder)
	s.lastSync = nil
	return nil
}

package replica

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, *MemoryBlobs) {
	t.Helper()
	blobs := NewMemoryBlobs()
	s, err := Open(blobs, "user-1")
	require.NoError(t, err)
	return s, blobs
}

func createTestFolder(t *testing.T, s *Store, name string) models.Folder {
	t.Helper()
	f, err := s.CreateFolder(models.Folder{Name: name})
	require.NoError(t, err)
	return f
}

func createTestTask(t *testing.T, s *Store, folderID, title string) models.Task {
	t.Helper()
	task, err := s.CreateTask(models.Task{
		Title:    title,
		FolderID: folderID,
		Status:   models.StatusPending,
		Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

// =====================================================
// Open Tests
// =====================================================

// TestOpen_RequiresUser verifies an empty user id is rejected.
func TestOpen_RequiresUser(t *testing.T) {
	_, err := Open(NewMemoryBlobs(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

// TestOpen_ReloadsPersistedState verifies records survive a reopen.
func TestOpen_ReloadsPersistedState(t *testing.T) {
	s, blobs := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")
	require.NoError(t, s.SetLastSync(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	reopened, err := Open(blobs, "user-1")
	require.NoError(t, err)

	got, err := reopened.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Report", got.Title)
	assert.True(t, got.Sync.Created)
	require.NotNil(t, reopened.Metadata().LastSyncTimestamp)
	assert.Equal(t, 2026, reopened.Metadata().LastSyncTimestamp.Year())
}

// TestOpen_UserSwitchClearsArea verifies a different user never sees the
// previous user's records or queue.
func TestOpen_UserSwitchClearsArea(t *testing.T) {
	s, blobs := createTestStore(t)
	createTestFolder(t, s, "Work")
	require.NoError(t, blobs.SetMany(map[string][]byte{KeyQueue: []byte(`[{"id":"q1"}]`)}))

	other, err := Open(blobs, "user-2")
	require.NoError(t, err)

	assert.Empty(t, other.ListFolders())
	_, ok, err := blobs.Get(KeyQueue)
	require.NoError(t, err)
	assert.False(t, ok)

	data, ok, err := blobs.Get(KeyUserID)
	require.NoError(t, err)
	require.True(t, ok)
	var owner string
	require.NoError(t, json.Unmarshal(data, &owner))
	assert.Equal(t, "user-2", owner)
}

// =====================================================
// Create Tests
// =====================================================

// TestCreateTask_AssignsLocalID verifies local id minting and sync flags.
func TestCreateTask_AssignsLocalID(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	assert.True(t, uuid.IsLocalID(task.ID))
	assert.Equal(t, "user-1", task.OwnerID)
	assert.True(t, task.Sync.Created)
	assert.False(t, task.Sync.Synced)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

// TestCreateTask_UnknownFolder verifies the folder reference is enforced.
func TestCreateTask_UnknownFolder(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.CreateTask(models.Task{Title: "Orphan", FolderID: "missing"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, s.ListTasks())
}

// TestCreateTask_DeletedFolder verifies a tombstoned folder cannot be used.
func TestCreateTask_DeletedFolder(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	_, _, err := s.DeleteFolder(f.ID, false)
	require.NoError(t, err)

	_, err = s.CreateTask(models.Task{Title: "Late", FolderID: f.ID})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

// TestCreateTask_PersistenceFailure verifies nothing changes when the write
// fails.
func TestCreateTask_PersistenceFailure(t *testing.T) {
	s, blobs := createTestStore(t)
	f := createTestFolder(t, s, "Work")

	blobs.SetFailWrites(errors.New("disk full"))
	_, err := s.CreateTask(models.Task{Title: "Report", FolderID: f.ID})
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))
	assert.Empty(t, s.ListTasks())

	blobs.SetFailWrites(nil)
	reopened, err := Open(blobs, "user-1")
	require.NoError(t, err)
	assert.Empty(t, reopened.ListTasks())
}

// =====================================================
// Read Tests
// =====================================================

// TestListTasks_ExcludesTombstonesAndOtherOwners verifies active reads.
func TestListTasks_ExcludesTombstonesAndOtherOwners(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	keep := createTestTask(t, s, f.ID, "Keep")
	gone := createTestTask(t, s, f.ID, "Gone")
	_, err := s.DeleteTask(gone.ID)
	require.NoError(t, err)
	_, err = s.CreateTask(models.Task{ID: "foreign", Title: "Theirs", FolderID: f.ID, OwnerID: "user-9"})
	require.NoError(t, err)

	tasks := s.ListTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, keep.ID, tasks[0].ID)

	_, err = s.GetTask(gone.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = s.GetTask("foreign")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	assert.Len(t, s.Snapshot().Tasks, 3)
}

// TestListTasks_OrderedByCreation verifies the listing order.
func TestListTasks_OrderedByCreation(t *testing.T) {
	s, _ := createTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := createTestFolder(t, s, "Work")
	for i, id := range []string{"c", "a", "b"} {
		_, err := s.CreateTask(models.Task{ID: id, Title: id, FolderID: f.ID, CreatedAt: base.Add(time.Duration(2-i) * time.Minute)})
		require.NoError(t, err)
	}

	tasks := s.ListTasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
}

// TestGetTask_ReturnsCopy verifies callers cannot mutate the replica.
func TestGetTask_ReturnsCopy(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	got.Title = "Changed"

	again, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Report", again.Title)
}

// =====================================================
// Update Tests
// =====================================================

// TestUpdateTask_AppendsHistory verifies status and priority history.
func TestUpdateTask_AppendsHistory(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	updated, err := s.UpdateTask(task.ID, models.TaskPatch{
		Status:   ptr(models.StatusCompleted),
		Priority: ptr(models.PriorityHigh),
	})
	require.NoError(t, err)

	require.Len(t, updated.StatusHistory, 1)
	assert.Equal(t, models.StatusPending, updated.StatusHistory[0].From)
	assert.Equal(t, models.StatusCompleted, updated.StatusHistory[0].To)
	require.Len(t, updated.PriorityHistory, 1)
	assert.Equal(t, models.PriorityHigh, updated.PriorityHistory[0].To)
	assert.True(t, updated.Sync.Modified)

	// Same status again adds nothing.
	updated, err = s.UpdateTask(task.ID, models.TaskPatch{Status: ptr(models.StatusCompleted)})
	require.NoError(t, err)
	assert.Len(t, updated.StatusHistory, 1)
}

// TestUpdateTask_MonotonicUpdatedAt verifies a clock going backwards does
// not move UpdatedAt back.
func TestUpdateTask_MonotonicUpdatedAt(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	s.now = func() time.Time { return task.UpdatedAt.Add(-time.Hour) }
	updated, err := s.UpdateTask(task.ID, models.TaskPatch{Title: ptr("Earlier clock")})
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(task.UpdatedAt))
}

// TestUpdateTask_MoveFolder verifies the new folder must exist.
func TestUpdateTask_MoveFolder(t *testing.T) {
	s, _ := createTestStore(t)
	work := createTestFolder(t, s, "Work")
	home := createTestFolder(t, s, "Home")
	task := createTestTask(t, s, work.ID, "Report")

	_, err := s.UpdateTask(task.ID, models.TaskPatch{FolderID: ptr("missing")})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	moved, err := s.UpdateTask(task.ID, models.TaskPatch{FolderID: ptr(home.ID)})
	require.NoError(t, err)
	assert.Equal(t, home.ID, moved.FolderID)
	assert.Len(t, s.ListTasksInFolder(home.ID), 1)
	assert.Empty(t, s.ListTasksInFolder(work.ID))
}

// TestUpdateTask_Deleted verifies tombstones cannot be updated.
func TestUpdateTask_Deleted(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")
	_, err := s.DeleteTask(task.ID)
	require.NoError(t, err)

	_, err = s.UpdateTask(task.ID, models.TaskPatch{Title: ptr("Zombie")})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = s.DeleteTask(task.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestUpdateFolder verifies folder patches.
func TestUpdateFolder(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")

	updated, err := s.UpdateFolder(f.ID, models.FolderPatch{Icon: ptr("briefcase")})
	require.NoError(t, err)
	assert.Equal(t, "Work", updated.Name)
	assert.Equal(t, "briefcase", updated.Icon)
	assert.True(t, updated.Sync.Modified)
}

// =====================================================
// Delete Tests
// =====================================================

// TestDeleteFolder_RefusedWithTasks verifies the non-cascading delete is
// rejected while tasks reference the folder.
func TestDeleteFolder_RefusedWithTasks(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	createTestTask(t, s, f.ID, "Report")

	_, _, err := s.DeleteFolder(f.ID, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = s.GetFolder(f.ID)
	assert.NoError(t, err)
}

// TestDeleteFolder_Cascade verifies children are tombstoned with the folder.
func TestDeleteFolder_Cascade(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	a := createTestTask(t, s, f.ID, "A")
	b := createTestTask(t, s, f.ID, "B")

	deleted, children, err := s.DeleteFolder(f.ID, true)
	require.NoError(t, err)

	assert.True(t, deleted.IsDeleted())
	require.Len(t, children, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{children[0].ID, children[1].ID})
	assert.Empty(t, s.ListTasks())
	assert.Empty(t, s.ListFolders())
}

// TestPurge verifies physical removal.
func TestPurge(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	require.NoError(t, s.PurgeTask(task.ID))
	assert.Empty(t, s.Snapshot().Tasks)
	assert.True(t, apperrors.Is(s.PurgeTask(task.ID), apperrors.ErrNotFound))

	require.NoError(t, s.PurgeFolder(f.ID))
	assert.Empty(t, s.Snapshot().Folders)
}

// =====================================================
// Sync Bookkeeping Tests
// =====================================================

// TestMarkFolderSynced_MigratesID verifies the id swap rewrites task
// references.
func TestMarkFolderSynced_MigratesID(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	synced, err := s.MarkFolderSynced(f.ID, &models.Folder{ID: "F1"}, true)
	require.NoError(t, err)

	assert.Equal(t, "F1", synced.ID)
	assert.True(t, synced.Sync.Synced)
	assert.False(t, synced.Sync.Created)
	assert.NotNil(t, synced.Sync.LastSyncAt)

	_, err = s.GetFolder(f.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "F1", got.FolderID)
}

// TestMarkTaskSynced_Unsettled verifies later queued edits keep the task
// unsynced.
func TestMarkTaskSynced_Unsettled(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	synced, err := s.MarkTaskSynced(task.ID, &models.Task{ID: "T1"}, false)
	require.NoError(t, err)

	assert.Equal(t, "T1", synced.ID)
	assert.False(t, synced.Sync.Created)
	assert.False(t, synced.Sync.Synced)
}

// TestMarkTaskSynced_SettledTombstone verifies confirmed deletes are purged.
func TestMarkTaskSynced_SettledTombstone(t *testing.T) {
	s, _ := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")
	_, err := s.DeleteTask(task.ID)
	require.NoError(t, err)

	_, err = s.MarkTaskSynced(task.ID, nil, true)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Tasks)
}

// TestMarkSynced_PersistenceFailure verifies a failed migration leaves the
// old id in place.
func TestMarkSynced_PersistenceFailure(t *testing.T) {
	s, blobs := createTestStore(t)
	f := createTestFolder(t, s, "Work")
	task := createTestTask(t, s, f.ID, "Report")

	blobs.SetFailWrites(errors.New("io error"))
	_, err := s.MarkFolderSynced(f.ID, &models.Folder{ID: "F1"}, true)
	require.Error(t, err)

	_, err = s.GetFolder(f.ID)
	assert.NoError(t, err)
	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.FolderID)
}

// TestMerge_ReplacesContents verifies merge results are committed.
func TestMerge_ReplacesContents(t *testing.T) {
	s, _ := createTestStore(t)
	createTestFolder(t, s, "Local")

	err := s.Merge(func(local Snapshot) Snapshot {
		assert.Len(t, local.Folders, 1)
		return Snapshot{Folders: []models.Folder{{ID: "F9", Name: "Remote", Sync: models.SyncState{Synced: true}}}}
	})
	require.NoError(t, err)

	folders := s.ListFolders()
	require.Len(t, folders, 1)
	assert.Equal(t, "F9", folders[0].ID)
	assert.Equal(t, "user-1", folders[0].OwnerID)
}

// TestReset verifies the replica is emptied.
func TestReset(t *testing.T) {
	s, blobs := createTestStore(t)
	createTestFolder(t, s, "Work")
	require.NoError(t, s.SetLastSync(time.Now()))

	require.NoError(t, s.Reset())
	assert.Empty(t, s.Snapshot().Folders)
	assert.Nil(t, s.Metadata().LastSyncTimestamp)

	_, ok, err := blobs.Get(KeyFolders)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Package conflict provides unit tests for merge precedence.
package conflict

import (
	"testing"
	"time"

	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/replica"
)

func findTask(tasks []models.Task, id string) (models.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

func findFolder(folders []models.Folder, id string) (models.Folder, bool) {
	for _, f := range folders {
		if f.ID == id {
			return f, true
		}
	}
	return models.Folder{}, false
}

// TestMergeLocalUnsyncedWins tests that an unsynced local edit survives a
// remote record with the same id, regardless of timestamps.
func TestMergeLocalUnsyncedWins(t *testing.T) {
	resolver := NewResolver()
	now := time.Now()

	local := replica.Snapshot{
		Folders: []models.Folder{{ID: "F1", Name: "Work", Sync: models.SyncState{Synced: true}}},
		Tasks: []models.Task{{
			ID: "T1", Title: "Local edit", FolderID: "F1",
			UpdatedAt: now.Add(-time.Hour),
			Sync:      models.SyncState{Modified: true},
		}},
	}
	remoteTasks := []models.Task{{ID: "T1", Title: "Remote edit", FolderID: "F1", UpdatedAt: now}}
	remoteFolders := []models.Folder{{ID: "F1", Name: "Work"}}

	result := resolver.Merge(local, remoteTasks, remoteFolders)

	task, ok := findTask(result.Snapshot.Tasks, "T1")
	if !ok {
		t.Fatal("Expected T1 in merged snapshot")
	}
	if task.Title != "Local edit" {
		t.Errorf("Expected local edit to win, got %q", task.Title)
	}
	if task.Sync.Synced {
		t.Error("Local winner must stay unsynced")
	}
	if len(result.Collisions) != 1 || result.Collisions[0].Resolution != ResolutionLocalWins {
		t.Errorf("Expected one local_wins collision, got %+v", result.Collisions)
	}
	if resolver.Strategy() != ResolutionStrategyLocalUnsyncedWins {
		t.Errorf("Unexpected strategy %s", resolver.Strategy())
	}
}

// TestMergeRemoteReplacesSynced tests that confirmed records follow the
// remote snapshot.
func TestMergeRemoteReplacesSynced(t *testing.T) {
	resolver := NewResolver()

	local := replica.Snapshot{
		Folders: []models.Folder{
			{ID: "F1", Name: "Old name", Sync: models.SyncState{Synced: true}},
			{ID: "F2", Name: "Deleted remotely", Sync: models.SyncState{Synced: true}},
		},
	}
	remoteFolders := []models.Folder{{ID: "F1", Name: "New name"}, {ID: "F3", Name: "Added remotely"}}

	result := resolver.Merge(local, nil, remoteFolders)

	f1, _ := findFolder(result.Snapshot.Folders, "F1")
	if f1.Name != "New name" || !f1.Sync.Synced || f1.Sync.LastSyncAt == nil {
		t.Errorf("Expected remote F1 marked synced, got %+v", f1)
	}
	if _, ok := findFolder(result.Snapshot.Folders, "F2"); ok {
		t.Error("Synced record missing remotely must be dropped")
	}
	if _, ok := findFolder(result.Snapshot.Folders, "F3"); !ok {
		t.Error("Expected remote-only record to be added")
	}
	if len(result.Collisions) != 0 {
		t.Errorf("Expected no collisions, got %d", len(result.Collisions))
	}
}

// TestMergeKeepsLocalOnlyAndTombstones tests that pending creations and
// unconfirmed deletions survive a merge.
func TestMergeKeepsLocalOnlyAndTombstones(t *testing.T) {
	resolver := NewResolver()
	deletedAt := time.Now()

	local := replica.Snapshot{
		Folders: []models.Folder{{ID: "offline_f", Name: "New", Sync: models.SyncState{Created: true}}},
		Tasks: []models.Task{
			{ID: "offline_t", FolderID: "offline_f", Sync: models.SyncState{Created: true}},
			{ID: "T2", FolderID: "F1", DeletedAt: &deletedAt, Sync: models.SyncState{Modified: true}},
		},
	}
	remoteTasks := []models.Task{{ID: "T2", FolderID: "F1"}}
	remoteFolders := []models.Folder{{ID: "F1"}}

	result := resolver.Merge(local, remoteTasks, remoteFolders)

	if _, ok := findFolder(result.Snapshot.Folders, "offline_f"); !ok {
		t.Error("Expected pending folder to be kept")
	}
	if _, ok := findTask(result.Snapshot.Tasks, "offline_t"); !ok {
		t.Error("Expected pending task to be kept")
	}
	t2, _ := findTask(result.Snapshot.Tasks, "T2")
	if !t2.IsDeleted() {
		t.Error("Unconfirmed local delete must win over the remote record")
	}
}

// TestMergeRetainsReferencedFolder tests that a folder dropped remotely is
// kept while an unsynced task still points at it.
func TestMergeRetainsReferencedFolder(t *testing.T) {
	resolver := NewResolver()

	local := replica.Snapshot{
		Folders: []models.Folder{{ID: "F1", Name: "Work", Sync: models.SyncState{Synced: true}}},
		Tasks:   []models.Task{{ID: "offline_t", FolderID: "F1", Sync: models.SyncState{Created: true}}},
	}

	result := resolver.Merge(local, nil, nil)

	if _, ok := findFolder(result.Snapshot.Folders, "F1"); !ok {
		t.Fatal("Expected referenced folder to be retained")
	}
	if len(result.Collisions) != 1 || result.Collisions[0].Resolution != ResolutionRetainedReference {
		t.Errorf("Expected retained_for_reference collision, got %+v", result.Collisions)
	}
}

// TestMergeIdempotent tests that merging the same remote snapshot twice
// yields the same contents.
func TestMergeIdempotent(t *testing.T) {
	resolver := NewResolver()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return fixed }

	local := replica.Snapshot{
		Tasks: []models.Task{{ID: "offline_t", FolderID: "F1", Sync: models.SyncState{Created: true}}},
	}
	remoteTasks := []models.Task{{ID: "T1", FolderID: "F1"}}
	remoteFolders := []models.Folder{{ID: "F1"}}

	first := resolver.Merge(local, remoteTasks, remoteFolders)
	second := resolver.Merge(first.Snapshot, remoteTasks, remoteFolders)

	if len(first.Snapshot.Tasks) != len(second.Snapshot.Tasks) ||
		len(first.Snapshot.Folders) != len(second.Snapshot.Folders) {
		t.Fatalf("Merge not idempotent: %+v vs %+v", first.Snapshot, second.Snapshot)
	}
	for _, task := range first.Snapshot.Tasks {
		other, ok := findTask(second.Snapshot.Tasks, task.ID)
		if !ok || other.Sync.Synced != task.Sync.Synced || other.Title != task.Title {
			t.Errorf("Task %s differs after second merge", task.ID)
		}
	}
}

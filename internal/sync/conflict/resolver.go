// Package conflict provides the merge precedence rule used when a fetched
// remote snapshot meets the local replica.
package conflict

import (
	"reflect"
	"time"

	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/replica"
)

// ResolutionStrategy defines how collisions are resolved.
type ResolutionStrategy string

const (
	// ResolutionStrategyLocalUnsyncedWins keeps every local record that has
	// not been confirmed by the remote, replacing everything else with the
	// remote snapshot.
	ResolutionStrategyLocalUnsyncedWins ResolutionStrategy = "local_unsynced_wins"
)

// Resolutions recorded on MergeCollision.
const (
	ResolutionLocalWins         = "local_wins"
	ResolutionRetainedReference = "retained_for_reference"
)

// Resolver merges remote snapshots into the replica.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		strategy: ResolutionStrategyLocalUnsyncedWins,
		now:      time.Now,
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// MergeResult is the outcome of one merge.
type MergeResult struct {
	Snapshot   replica.Snapshot
	Collisions []models.MergeCollision
}

// Merge computes the next replica contents.
//
// Remote records are taken as synced. Local records with Synced=false
// (creations, edits and tombstones awaiting confirmation) are overlaid on
// top and win on id collision. Local synced records missing from the remote
// snapshot are dropped, except for a folder still referenced by a kept
// unsynced task, which is retained so the reference stays valid.
func (r *Resolver) Merge(local replica.Snapshot, remoteTasks []models.Task, remoteFolders []models.Folder) MergeResult {
	now := r.now().UTC()
	var result MergeResult

	syncedFolders := make(map[string]models.Folder, len(local.Folders))
	for _, f := range local.Folders {
		if f.Sync.Synced {
			syncedFolders[f.ID] = f
		}
	}
	syncedTasks := make(map[string]models.Task, len(local.Tasks))
	for _, t := range local.Tasks {
		if t.Sync.Synced {
			syncedTasks[t.ID] = t
		}
	}

	folders := make(map[string]models.Folder, len(remoteFolders)+len(local.Folders))
	folderOrder := make([]string, 0, len(remoteFolders)+len(local.Folders))
	for _, f := range remoteFolders {
		if prev, ok := syncedFolders[f.ID]; ok && sameFolder(prev, f) {
			f = prev.Clone()
		} else {
			f = f.Clone()
			f.Sync = syncedState(now)
		}
		if _, dup := folders[f.ID]; !dup {
			folderOrder = append(folderOrder, f.ID)
		}
		folders[f.ID] = f
	}
	for _, f := range local.Folders {
		if f.Sync.Synced {
			continue
		}
		if remote, ok := folders[f.ID]; ok {
			result.Collisions = append(result.Collisions, r.collision(f.ID, "folder", f.UpdatedAt, remote.UpdatedAt, ResolutionLocalWins, now))
		} else {
			folderOrder = append(folderOrder, f.ID)
		}
		folders[f.ID] = f.Clone()
	}

	tasks := make(map[string]models.Task, len(remoteTasks)+len(local.Tasks))
	taskOrder := make([]string, 0, len(remoteTasks)+len(local.Tasks))
	for _, t := range remoteTasks {
		if prev, ok := syncedTasks[t.ID]; ok && sameTask(prev, t) {
			t = prev.Clone()
		} else {
			t = t.Clone()
			t.Sync = syncedState(now)
		}
		if _, dup := tasks[t.ID]; !dup {
			taskOrder = append(taskOrder, t.ID)
		}
		tasks[t.ID] = t
	}
	for _, t := range local.Tasks {
		if t.Sync.Synced {
			continue
		}
		if remote, ok := tasks[t.ID]; ok {
			result.Collisions = append(result.Collisions, r.collision(t.ID, "task", t.UpdatedAt, remote.UpdatedAt, ResolutionLocalWins, now))
		} else {
			taskOrder = append(taskOrder, t.ID)
		}
		tasks[t.ID] = t.Clone()
	}

	localFolders := make(map[string]models.Folder, len(local.Folders))
	for _, f := range local.Folders {
		localFolders[f.ID] = f
	}
	for _, id := range taskOrder {
		t := tasks[id]
		if t.Sync.Synced || t.IsDeleted() {
			continue
		}
		if _, ok := folders[t.FolderID]; ok {
			continue
		}
		f, ok := localFolders[t.FolderID]
		if !ok {
			continue
		}
		folders[f.ID] = f.Clone()
		folderOrder = append(folderOrder, f.ID)
		result.Collisions = append(result.Collisions, r.collision(f.ID, "folder", f.UpdatedAt, time.Time{}, ResolutionRetainedReference, now))
	}

	result.Snapshot.Folders = make([]models.Folder, 0, len(folderOrder))
	for _, id := range folderOrder {
		result.Snapshot.Folders = append(result.Snapshot.Folders, folders[id])
	}
	result.Snapshot.Tasks = make([]models.Task, 0, len(taskOrder))
	for _, id := range taskOrder {
		result.Snapshot.Tasks = append(result.Snapshot.Tasks, tasks[id])
	}

	if len(result.Collisions) > 0 {
		logging.Debug("Merge kept unsynced local records over remote",
			map[string]interface{}{
				"collisions": len(result.Collisions),
				"strategy":   string(r.strategy),
			})
	}
	return result
}

func (r *Resolver) collision(id, kind string, local, remote time.Time, resolution string, at time.Time) models.MergeCollision {
	return models.MergeCollision{
		EntityID:        id,
		Kind:            kind,
		LocalUpdatedAt:  local,
		RemoteUpdatedAt: remote,
		Resolution:      resolution,
		DetectedAt:      at,
	}
}

// sameTask reports whether a confirmed local record already matches the
// remote one, in which case it is kept untouched.
func sameTask(local, remote models.Task) bool {
	a, b := local.Remote(), remote.Remote()
	if b.OwnerID == "" {
		b.OwnerID = a.OwnerID
	}
	return reflect.DeepEqual(normalizeTask(a), normalizeTask(b))
}

func sameFolder(local, remote models.Folder) bool {
	a, b := local.Remote(), remote.Remote()
	if b.OwnerID == "" {
		b.OwnerID = a.OwnerID
	}
	a.CreatedAt, b.CreatedAt = a.CreatedAt.UTC(), b.CreatedAt.UTC()
	a.UpdatedAt, b.UpdatedAt = a.UpdatedAt.UTC(), b.UpdatedAt.UTC()
	return reflect.DeepEqual(a, b)
}

func normalizeTask(t models.Task) models.Task {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}
	if len(t.StatusHistory) == 0 {
		t.StatusHistory = nil
	}
	if len(t.PriorityHistory) == 0 {
		t.PriorityHistory = nil
	}
	return t
}

func syncedState(at time.Time) models.SyncState {
	t := at
	return models.SyncState{Synced: true, LastSyncAt: &t}
}

package models

import (
	"strings"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// Folder groups tasks.
type Folder struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon"`
	OwnerID   string     `json:"ownerId"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Sync      SyncState  `json:"syncState"`
}

// IsDeleted reports whether the folder is a tombstone.
func (f *Folder) IsDeleted() bool {
	return f.DeletedAt != nil
}

// Clone returns a deep copy of the folder.
func (f Folder) Clone() Folder {
	c := f
	c.DeletedAt = cloneTime(f.DeletedAt)
	c.Sync.LastSyncAt = cloneTime(f.Sync.LastSyncAt)
	return c
}

// Remote returns a copy stripped of local sync bookkeeping.
func (f Folder) Remote() Folder {
	c := f.Clone()
	c.Sync = SyncState{}
	return c
}

// FolderInput carries the fields accepted when creating a folder.
type FolderInput struct {
	Name string
	Icon string
}

// Validate rejects malformed folder input.
func (in FolderInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("folder name is required")
	}
	return nil
}

// FolderPatch is a typed partial update. Nil fields are left unchanged.
type FolderPatch struct {
	Name *string
	Icon *string
}

// IsEmpty reports whether the patch changes nothing.
func (p FolderPatch) IsEmpty() bool {
	return p.Name == nil && p.Icon == nil
}

// Validate rejects malformed patches.
func (p FolderPatch) Validate() error {
	if p.IsEmpty() {
		return apperrors.Validation("folder patch is empty")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperrors.Validation("folder name cannot be empty")
	}
	return nil
}

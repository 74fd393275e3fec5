// Package models provides data model definitions for the task replica.
package models

import (
	"strings"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// StatusChange is one entry of a task's append-only status history.
type StatusChange struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// PriorityChange is one entry of a task's append-only priority history.
type PriorityChange struct {
	From Priority  `json:"from"`
	To   Priority  `json:"to"`
	At   time.Time `json:"at"`
}

// Task is a unit of work filed under a folder.
type Task struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Status          Status           `json:"status"`
	Priority        Priority         `json:"priority"`
	DueDate         *time.Time       `json:"dueDate,omitempty"`
	FolderID        string           `json:"folderId"`
	OwnerID         string           `json:"ownerId"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	StatusHistory   []StatusChange   `json:"statusHistory,omitempty"`
	PriorityHistory []PriorityChange `json:"priorityHistory,omitempty"`
	Sync            SyncState        `json:"syncState"`
}

// IsDeleted reports whether the task is a tombstone.
func (t *Task) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.DueDate = cloneTime(t.DueDate)
	c.DeletedAt = cloneTime(t.DeletedAt)
	c.Sync.LastSyncAt = cloneTime(t.Sync.LastSyncAt)
	if t.StatusHistory != nil {
		c.StatusHistory = append([]StatusChange(nil), t.StatusHistory...)
	}
	if t.PriorityHistory != nil {
		c.PriorityHistory = append([]PriorityChange(nil), t.PriorityHistory...)
	}
	return c
}

// Remote returns a copy stripped of local sync bookkeeping, suitable for
// submission to the remote system.
func (t Task) Remote() Task {
	c := t.Clone()
	c.Sync = SyncState{}
	return c
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
	FolderID    string
}

// Normalize fills defaults for omitted enum fields.
func (in TaskInput) Normalize() TaskInput {
	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = StatusPending
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	return in
}

// Validate rejects malformed task input.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return apperrors.Validation("task title is required")
	}
	if in.FolderID == "" {
		return apperrors.Validation("task folder is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return apperrors.Validation("invalid task status: " + string(in.Status))
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return apperrors.Validation("invalid task priority: " + string(in.Priority))
	}
	return nil
}

// TaskPatch is a typed partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
	FolderID     *string
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate && p.FolderID == nil
}

// Validate rejects malformed patches.
func (p TaskPatch) Validate() error {
	if p.IsEmpty() {
		return apperrors.Validation("task patch is empty")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return apperrors.Validation("task title cannot be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return apperrors.Validation("invalid task status: " + string(*p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return apperrors.Validation("invalid task priority: " + string(*p.Priority))
	}
	if p.FolderID != nil && *p.FolderID == "" {
		return apperrors.Validation("task folder cannot be empty")
	}
	if p.DueDate != nil && p.ClearDueDate {
		return apperrors.Validation("due date cannot be both set and cleared")
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

package models

import (
	"encoding/json"
	"time"
)

// Operation names a queued mutation.
type Operation string

const (
	OpCreateTask            Operation = "CREATE_TASK"
	OpUpdateTask            Operation = "UPDATE_TASK"
	OpDeleteTask            Operation = "DELETE_TASK"
	OpCreateFolder          Operation = "CREATE_FOLDER"
	OpUpdateFolder          Operation = "UPDATE_FOLDER"
	OpDeleteFolderOnly      Operation = "DELETE_FOLDER_ONLY"
	OpDeleteFolderWithTasks Operation = "DELETE_FOLDER_WITH_TASKS"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreateTask, OpUpdateTask, OpDeleteTask,
		OpCreateFolder, OpUpdateFolder, OpDeleteFolderOnly, OpDeleteFolderWithTasks:
		return true
	}
	return false
}

// IsFolder reports whether op targets a folder.
func (op Operation) IsFolder() bool {
	switch op {
	case OpCreateFolder, OpUpdateFolder, OpDeleteFolderOnly, OpDeleteFolderWithTasks:
		return true
	}
	return false
}

// IsCreate reports whether op creates an entity.
func (op Operation) IsCreate() bool {
	return op == OpCreateTask || op == OpCreateFolder
}

// IsUpdate reports whether op updates an entity.
func (op Operation) IsUpdate() bool {
	return op == OpUpdateTask || op == OpUpdateFolder
}

// IsDelete reports whether op deletes an entity.
func (op Operation) IsDelete() bool {
	switch op {
	case OpDeleteTask, OpDeleteFolderOnly, OpDeleteFolderWithTasks:
		return true
	}
	return false
}

// QueueItem is a mutation waiting for remote confirmation.
type QueueItem struct {
	ID         string          `json:"id"`
	Operation  Operation       `json:"operation"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	LastError  string          `json:"lastError,omitempty"`
}

// Parked reports whether the item exhausted its retries. Parked items are
// kept until explicitly acknowledged or requeued.
func (q *QueueItem) Parked() bool {
	return q.MaxRetries > 0 && q.RetryCount >= q.MaxRetries
}

// Clone returns a deep copy of the item.
func (q QueueItem) Clone() QueueItem {
	c := q
	if q.Payload != nil {
		c.Payload = append(json.RawMessage(nil), q.Payload...)
	}
	return c
}

// DeletePayload is the payload of every delete operation.
type DeletePayload struct {
	ID string `json:"id"`
}

// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// =====================================================
// Enum Tests
// =====================================================

// TestStatus_Valid verifies the status set.
func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusInProgress.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("done").Valid())
}

// TestPriority_Valid verifies the priority set.
func TestPriority_Valid(t *testing.T) {
	assert.True(t, PriorityLow.Valid())
	assert.True(t, PriorityHigh.Valid())
	assert.False(t, Priority("urgent").Valid())
}

// TestOperation_classification verifies operation helpers.
func TestOperation_classification(t *testing.T) {
	assert.True(t, OpCreateFolder.IsFolder())
	assert.True(t, OpDeleteFolderWithTasks.IsFolder())
	assert.False(t, OpDeleteTask.IsFolder())
	assert.True(t, OpCreateTask.IsCreate())
	assert.True(t, OpUpdateFolder.IsUpdate())
	assert.True(t, OpDeleteFolderOnly.IsDelete())
	assert.False(t, Operation("UPSERT").Valid())
}

// =====================================================
// Input and Patch Validation Tests
// =====================================================

// TestTaskInput_Validate verifies required fields.
func TestTaskInput_Validate(t *testing.T) {
	tests := []struct {
		name  string
		input TaskInput
		ok    bool
	}{
		{"valid", TaskInput{Title: "Report", FolderID: "F1"}, true},
		{"missing title", TaskInput{Title: "  ", FolderID: "F1"}, false},
		{"missing folder", TaskInput{Title: "Report"}, false},
		{"bad status", TaskInput{Title: "Report", FolderID: "F1", Status: "done"}, false},
		{"bad priority", TaskInput{Title: "Report", FolderID: "F1", Priority: "urgent"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		})
	}
}

// TestTaskInput_Normalize verifies defaults.
func TestTaskInput_Normalize(t *testing.T) {
	in := TaskInput{Title: "  Report  ", FolderID: "F1"}.Normalize()

	assert.Equal(t, "Report", in.Title)
	assert.Equal(t, StatusPending, in.Status)
	assert.Equal(t, PriorityMedium, in.Priority)
}

// TestTaskPatch_Validate verifies patch rules.
func TestTaskPatch_Validate(t *testing.T) {
	bad := Status("archived")
	due := time.Now()

	assert.Error(t, TaskPatch{}.Validate())
	assert.Error(t, TaskPatch{Title: strPtr("")}.Validate())
	assert.Error(t, TaskPatch{Status: &bad}.Validate())
	assert.Error(t, TaskPatch{FolderID: strPtr("")}.Validate())
	assert.Error(t, TaskPatch{DueDate: &due, ClearDueDate: true}.Validate())
	assert.NoError(t, TaskPatch{Title: strPtr("New")}.Validate())
	assert.NoError(t, TaskPatch{ClearDueDate: true}.Validate())
}

// TestFolderPatch_Validate verifies patch rules.
func TestFolderPatch_Validate(t *testing.T) {
	assert.Error(t, FolderPatch{}.Validate())
	assert.Error(t, FolderPatch{Name: strPtr(" ")}.Validate())
	assert.NoError(t, FolderPatch{Icon: strPtr("briefcase")}.Validate())
	assert.Error(t, FolderInput{}.Validate())
	assert.NoError(t, FolderInput{Name: "Work"}.Validate())
}

// =====================================================
// Copy Semantics Tests
// =====================================================

// TestTask_Clone verifies clones share no mutable state.
func TestTask_Clone(t *testing.T) {
	due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	orig := Task{
		ID:            "t1",
		DueDate:       &due,
		StatusHistory: []StatusChange{{From: StatusPending, To: StatusCompleted}},
	}

	c := orig.Clone()
	*c.DueDate = due.Add(time.Hour)
	c.StatusHistory[0].To = StatusInProgress

	assert.Equal(t, due, *orig.DueDate)
	assert.Equal(t, StatusCompleted, orig.StatusHistory[0].To)
}

// TestTask_Remote verifies sync bookkeeping is stripped.
func TestTask_Remote(t *testing.T) {
	now := time.Now()
	task := Task{ID: "t1", Sync: SyncState{Created: true, LastSyncAt: &now}}

	assert.Equal(t, SyncState{}, task.Remote().Sync)
	assert.True(t, task.Sync.Created)
}

// TestTask_JSONFieldNames verifies the wire names used by the remote system.
func TestTask_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Task{ID: "t1", FolderID: "F1", OwnerID: "u1"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "F1", fields["folderId"])
	assert.Equal(t, "u1", fields["ownerId"])
	assert.Contains(t, fields, "syncState")
	assert.NotContains(t, fields, "deletedAt")
}

// TestQueueItem_Parked verifies the retry cap.
func TestQueueItem_Parked(t *testing.T) {
	item := QueueItem{MaxRetries: 3}
	assert.False(t, item.Parked())

	item.RetryCount = 3
	assert.True(t, item.Parked())
}

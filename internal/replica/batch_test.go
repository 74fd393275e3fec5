package replica

import (
	"errors"
	"testing"

	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBatch_WritesThroughWhenClosed verifies writes outside Begin go
// straight to the medium.
func TestBatch_WritesThroughWhenClosed(t *testing.T) {
	base := NewMemoryBlobs()
	b := NewBatch(base)

	require.NoError(t, b.SetMany(map[string][]byte{"a": []byte("1")}))
	data, ok, err := base.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(data))

	require.NoError(t, b.DeleteMany("a"))
	_, ok, _ = base.Get("a")
	assert.False(t, ok)

	assert.Same(t, b, NewBatch(b))
}

// TestBatch_CommitIsOneWrite verifies held writes become visible through
// the batch at once and reach the medium together on Commit.
func TestBatch_CommitIsOneWrite(t *testing.T) {
	base := NewMemoryBlobs()
	b := NewBatch(base)

	require.NoError(t, b.Begin())
	assert.Error(t, b.Begin(), "nested batches are refused")

	require.NoError(t, b.SetMany(map[string][]byte{"tasks": []byte("t")}))
	require.NoError(t, b.SetMany(map[string][]byte{"syncQueue": []byte("q")}))
	assert.Error(t, b.DeleteMany("tasks"))

	_, ok, _ := base.Get("tasks")
	assert.False(t, ok, "nothing reaches the medium before Commit")
	data, ok, err := b.Get("syncQueue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q", string(data))

	require.NoError(t, b.Commit())
	for _, key := range []string{"tasks", "syncQueue"} {
		_, ok, _ := base.Get(key)
		assert.True(t, ok, key)
	}
}

// TestBatch_FailedCommitWritesNothing verifies a failing medium leaves every
// held key unwritten and the batch closed.
func TestBatch_FailedCommitWritesNothing(t *testing.T) {
	base := NewMemoryBlobs()
	b := NewBatch(base)

	require.NoError(t, b.Begin())
	require.NoError(t, b.SetMany(map[string][]byte{"tasks": []byte("t"), "syncQueue": []byte("q")}))
	base.SetFailWrites(errors.New("disk full"))
	assert.Error(t, b.Commit())
	base.SetFailWrites(nil)

	_, ok, _ := base.Get("tasks")
	assert.False(t, ok)
	require.NoError(t, b.Begin(), "a failed commit closes the batch")
	b.Abort()
}

// TestStore_CheckpointRollback verifies Rollback restores records changed
// inside an aborted batch.
func TestStore_CheckpointRollback(t *testing.T) {
	s, blobs := createTestStore(t)
	folder := createTestFolder(t, s, "Work")
	cp := s.Checkpoint()

	require.NoError(t, s.Medium().Begin())
	_, err := s.UpdateFolder(folder.ID, models.FolderPatch{Name: ptr("Renamed")})
	require.NoError(t, err)
	createTestFolder(t, s, "Other")
	s.Medium().Abort()
	s.Rollback(cp)

	got, err := s.GetFolder(folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "Work", got.Name)
	assert.Len(t, s.ListFolders(), 1)

	reopened, err := Open(blobs, "user-1")
	require.NoError(t, err)
	assert.Len(t, reopened.ListFolders(), 1)
}

// Package db tests for the namespaced blob repository.
package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, namespace string) *Repository {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	repo := NewRepository(db.DB, namespace)
	t.Cleanup(func() {
		repo.Close()
		db.Close()
	})
	return repo
}

// TestRepository_GetMissing verifies absent keys are reported without error.
func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t, "user-1")

	data, ok, err := repo.Get("tasks")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

// TestRepository_SetManyAndGet verifies blobs round-trip and overwrite.
func TestRepository_SetManyAndGet(t *testing.T) {
	repo := newTestRepository(t, "user-1")

	require.NoError(t, repo.SetMany(map[string][]byte{
		"tasks":   []byte(`{"a":1}`),
		"folders": []byte(`{}`),
	}))
	require.NoError(t, repo.SetMany(map[string][]byte{"tasks": []byte(`{"a":2}`)}))

	data, ok, err := repo.Get("tasks")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":2}`, string(data))

	keys, err := repo.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"folders", "tasks"}, keys)
}

// TestRepository_namespaceIsolation verifies namespaces never see each other's keys.
func TestRepository_namespaceIsolation(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	a := NewRepository(db.DB, "a")
	b := NewRepository(db.DB, "b")

	require.NoError(t, a.SetMany(map[string][]byte{"tasks": []byte("A")}))

	_, ok, err := b.Get("tasks")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRepository_DeleteMany verifies keys are removed.
func TestRepository_DeleteMany(t *testing.T) {
	repo := newTestRepository(t, "user-1")
	require.NoError(t, repo.SetMany(map[string][]byte{"tasks": []byte("x"), "lastSync": []byte("y")}))

	require.NoError(t, repo.DeleteMany("tasks", "lastSync", "missing"))

	keys, err := repo.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

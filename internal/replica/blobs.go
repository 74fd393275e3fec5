// Package replica provides the local replica store: a durable, per-user copy
// of tasks and folders that stays readable and writable while offline.
package replica

import (
	"fmt"
	"sync"
)

// Keys of the durable area. The replica owns tasks, folders, lastSync and
// userId; the operation queue owns syncQueue.
const (
	KeyTasks    = "tasks"
	KeyFolders  = "folders"
	KeyQueue    = "syncQueue"
	KeyLastSync = "lastSync"
	KeyUserID   = "userId"
)

// AreaKeys lists every key of the durable area.
var AreaKeys = []string{KeyTasks, KeyFolders, KeyQueue, KeyLastSync, KeyUserID}

// Blobs is the physical medium: get/set of opaque blobs per key inside one
// namespace. SetMany must be atomic across all keys it receives.
type Blobs interface {
	Get(key string) ([]byte, bool, error)
	SetMany(blobs map[string][]byte) error
	DeleteMany(keys ...string) error
}

// ResetArea removes every key of the durable area.
func ResetArea(b Blobs) error {
	if err := b.DeleteMany(AreaKeys...); err != nil {
		return fmt.Errorf("failed to reset durable area: %w", err)
	}
	return nil
}

// MemoryBlobs is an in-process Blobs implementation.
type MemoryBlobs struct {
	mu         sync.Mutex
	data       map[string][]byte
	failWrites error
}

// NewMemoryBlobs creates an empty in-memory medium.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{data: make(map[string][]byte)}
}

// Get implements Blobs.
func (m *MemoryBlobs) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// SetMany implements Blobs.
func (m *MemoryBlobs) SetMany(blobs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}
	for k, v := range blobs {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}

// DeleteMany implements Blobs.
func (m *MemoryBlobs) DeleteMany(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// SetFailWrites makes every subsequent write fail with err; nil clears it.
func (m *MemoryBlobs) SetFailWrites(err error) {
	m.mu.Lock()
	m.failWrites = err
	m.mu.Unlock()
}

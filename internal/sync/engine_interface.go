// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync performs one reconciliation pass: fetch, merge, replay.
	// Returns the sync result with statistics or an error if the pass aborted.
	Sync(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	// The handler receives events during sync operations.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync state.
	Status() SyncStatus

	// LastSync returns the timestamp of the last completed pass.
	LastSync() *time.Time

	// PendingChanges returns the number of queued mutations.
	PendingChanges() int

	// LastError returns the last error that occurred during sync.
	LastError() error
}

// SyncEventHandler receives engine notifications. Handlers are called
// synchronously, in emission order, and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent implements SyncEventHandler.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

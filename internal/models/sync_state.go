package models

import "time"

// SyncState is the per-entity sync bookkeeping kept by the replica.
type SyncState struct {
	Created    bool       `json:"created"`
	Modified   bool       `json:"modified"`
	Synced     bool       `json:"synced"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// SyncMetadata scopes the whole replica to one user.
type SyncMetadata struct {
	LastSyncTimestamp *time.Time `json:"lastSync,omitempty"`
	UserID            string     `json:"userId"`
}

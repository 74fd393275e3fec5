package models

import "time"

// MergeCollision records an id present both in the fetched snapshot and as an
// unsynced local record. Collisions are resolved silently; the record exists
// for logging and the sync result.
type MergeCollision struct {
	EntityID        string    `json:"entityId"`
	Kind            string    `json:"kind"` // task, folder
	LocalUpdatedAt  time.Time `json:"localUpdatedAt"`
	RemoteUpdatedAt time.Time `json:"remoteUpdatedAt"`
	Resolution      string    `json:"resolution"`
	DetectedAt      time.Time `json:"detectedAt"`
}

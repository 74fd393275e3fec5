// Package uuid provides identifier generation for replica entities and queue
// items.
//
// Locally created entities carry a namespaced id (LocalPrefix followed by a
// UUID v4) so that merge and replay can tell unconfirmed records apart from
// ids assigned by the remote system.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks ids minted on this device that the remote has not yet
// confirmed.
const LocalPrefix = "offline_"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewLocalID generates a namespaced id for an entity created locally.
func NewLocalID() string {
	return LocalPrefix + uuid.New().String()
}

// IsLocalID reports whether id was minted locally and is still awaiting a
// server-assigned replacement.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}

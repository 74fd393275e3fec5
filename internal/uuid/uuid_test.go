// Package uuid provides unit tests for identifier generation.
package uuid

import (
	"strings"
	"testing"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()

	if id == "" {
		t.Fatal("Expected non-empty UUID string")
	}

	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := NewLocalID()
		if ids[id] {
			t.Errorf("Duplicate id generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewLocalID verifies local ids are namespaced and recognised.
func TestNewLocalID(t *testing.T) {
	id := NewLocalID()

	if !strings.HasPrefix(id, LocalPrefix) {
		t.Fatalf("local id %q missing prefix %q", id, LocalPrefix)
	}
	if !IsValid(strings.TrimPrefix(id, LocalPrefix)) {
		t.Errorf("local id suffix is not a UUID v4: %s", id)
	}
	if !IsLocalID(id) {
		t.Error("IsLocalID() = false for a freshly minted local id")
	}
}

// TestIsLocalID verifies server ids are never mistaken for local ones.
func TestIsLocalID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"offline_x", true},
		{"F1", false},
		{New(), false},
		{"", false},
		{"xoffline_", false},
	}

	for _, tt := range tests {
		if got := IsLocalID(tt.id); got != tt.want {
			t.Errorf("IsLocalID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// TestValidate tests validation error reporting.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate() on generated UUID returned %v", err)
	}
	if err := Validate("not-a-uuid"); err == nil {
		t.Error("Validate() accepted an invalid UUID")
	}
}

// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	return entry
}

// =====================================================
// Level Tests
// =====================================================

// TestParseLevel verifies configuration strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"warning", LevelWarn},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

// TestLogger_levelFiltering verifies messages below the minimum are dropped.
func TestLogger_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Info("ignored")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

// =====================================================
// Logging Tests
// =====================================================

// TestLogger_Debug verifies debug logging with context fields.
func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("test message", map[string]interface{}{"key": "value"})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "test message", entry["message"])
	assert.Equal(t, "value", entry["key"])
	assert.NotEmpty(t, entry["timestamp"])
}

// TestLogger_Error verifies the error text is attached.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("replay failed", errors.New("boom"), map[string]interface{}{"item_id": "q1"})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "q1", entry["item_id"])
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("fetch failed", "NETWORK_ERROR", errors.New("refused"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "NETWORK_ERROR", entry["error_code"])
	assert.Equal(t, "refused", entry["error"])
}

// TestLogger_mergesContexts verifies multiple context maps are merged.
func TestLogger_mergesContexts(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("merged", map[string]interface{}{"a": 1}, map[string]interface{}{"b": "two"})

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(1), entry["a"])
	assert.Equal(t, "two", entry["b"])
}

// =====================================================
// Global Logger Tests
// =====================================================

// TestInit_output verifies the global logger honours Options.Output.
func TestInit_output(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Init(Options{Level: LevelInfo}) })

	Info("global message", map[string]interface{}{"pass": 3})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "global message", entry["message"])
	assert.Equal(t, float64(3), entry["pass"])
}

// TestInit_file verifies file output is created through the rotating writer.
func TestInit_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync.log")
	Init(Options{Level: LevelInfo, File: path})
	t.Cleanup(func() { Init(Options{Level: LevelInfo}) })

	Info("to file")

	assert.FileExists(t, path)
}

// TestGet_default verifies Get never returns nil.
func TestGet_default(t *testing.T) {
	assert.NotNil(t, Get())
}

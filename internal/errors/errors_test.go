// Package errors tests for the error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrValidation, ErrNotFound, ErrPersistence,
		ErrSessionClosed,
		ErrNetwork, ErrRemote, ErrOffline, ErrSyncInProgress, ErrItemParked,
	}

	for _, code := range codes {
		assert.NotEmpty(t, string(code))
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrNetwork, Message: "fetch tasks", Err: errors.New("connection refused")},
			want:     "[NETWORK_ERROR] fetch tasks: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

// TestIs_walksChain verifies codes are found through fmt wrapping and nested AppErrors.
func TestIs_walksChain(t *testing.T) {
	inner := Wrap(ErrNetwork, "post task", errors.New("timeout"))
	outer := Wrap(ErrInternal, "replay", inner)
	wrapped := fmt.Errorf("pass failed: %w", outer)

	assert.True(t, Is(wrapped, ErrInternal))
	assert.True(t, Is(wrapped, ErrNetwork))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(errors.New("plain"), ErrInternal))
	assert.False(t, Is(nil, ErrInternal))
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, CodeOf(NotFound("task", "t1")))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrValidation, CodeOf(fmt.Errorf("x: %w", Validation("title is required"))))
}

// TestIsRetryable verifies only transport and remote failures are retryable.
func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrNetwork, "down")))
	assert.True(t, IsRetryable(New(ErrRemote, "503")))
	assert.False(t, IsRetryable(New(ErrValidation, "bad")))
	assert.False(t, IsRetryable(NotFound("folder", "f1")))
}

// TestUnwrap verifies the underlying error is reachable via errors.Is.
func TestUnwrap(t *testing.T) {
	sentinel := errors.New("disk full")
	err := Wrap(ErrPersistence, "save tasks", sentinel)

	assert.True(t, errors.Is(err, sentinel))
}

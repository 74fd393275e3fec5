// Package errors provides the error taxonomy shared by the replica, the
// synchronizer and the data service.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrPersistence ErrorCode = "PERSISTENCE_ERROR"

	// Session errors
	ErrSessionClosed ErrorCode = "SESSION_CLOSED"

	// Sync errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrRemote         ErrorCode = "REMOTE_ERROR"
	ErrOffline        ErrorCode = "OFFLINE"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrItemParked     ErrorCode = "QUEUE_ITEM_PARKED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether err, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in the chain, or
// ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsRetryable reports whether err is a transient failure that leaves queued
// work in place for a later pass.
func IsRetryable(err error) bool {
	return Is(err, ErrNetwork) || Is(err, ErrRemote)
}

// NotFound is a shorthand for the unknown-id error returned by the replica.
func NotFound(kind, id string) *AppError {
	return Newf(ErrNotFound, "%s %s not found", kind, id)
}

// Validation is a shorthand for rejected input.
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

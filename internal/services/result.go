package services

import (
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// ResultError is the error half of a Result.
type ResultError struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// Error implements error.
func (e *ResultError) Error() string {
	return e.Message
}

// Result is the uniform envelope returned by every DataService method.
// Offline reports that the remote was unreachable when the call returned;
// an offline write still succeeds and is replayed later.
type Result[T any] struct {
	Success bool         `json:"success"`
	Data    T            `json:"data,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
	Offline bool         `json:"offline"`
}

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return r.Error
}

func ok[T any](data T, offline bool) Result[T] {
	return Result[T]{Success: true, Data: data, Offline: offline}
}

func fail[T any](err error, offline bool) Result[T] {
	return Result[T]{
		Error: &ResultError{
			Code:    apperrors.CodeOf(err),
			Message: err.Error(),
		},
		Offline: offline,
	}
}

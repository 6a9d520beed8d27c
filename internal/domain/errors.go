// Package domain defines core types, interfaces, and errors for the
// tableforge mutation engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UndoUnavailableError indicates that undo for a history entry is
// permanently unavailable — its snapshot was evicted or the entry sits
// behind a materialization boundary. It is an expected, non-retryable
// outcome, not a failure of the operation that produced it.
type UndoUnavailableError struct {
	Message string
}

func (e *UndoUnavailableError) Error() string { return e.Message }

// DataSafeError indicates the live working copy could not be rebuilt but
// the original persisted shard set is intact. The caller recovers by
// reloading the table from persistent storage.
type DataSafeError struct {
	Message string
}

func (e *DataSafeError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrUndoUnavailable creates an UndoUnavailableError with a formatted message.
func ErrUndoUnavailable(format string, args ...interface{}) *UndoUnavailableError {
	return &UndoUnavailableError{Message: fmt.Sprintf(format, args...)}
}

// ErrDataSafe creates a DataSafeError with a formatted message.
func ErrDataSafe(format string, args ...interface{}) *DataSafeError {
	return &DataSafeError{Message: fmt.Sprintf(format, args...)}
}

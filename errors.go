package clipqueue

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("clipqueue: no store configured")
	ErrStoreClosed = errors.New("clipqueue: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("clipqueue: job not found")
	ErrBatchNotFound = errors.New("clipqueue: batch not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("clipqueue: job already exists")
	ErrStateConflict    = errors.New("clipqueue: job state changed concurrently")

	// State errors.
	ErrInvalidTransition = errors.New("clipqueue: invalid state transition")

	// Input errors.
	ErrValidation     = errors.New("clipqueue: validation failed")
	ErrUnknownJobType = errors.New("clipqueue: unknown job type")

	// Notifier errors.
	ErrNotifierFull   = errors.New("clipqueue: notifier buffer full")
	ErrNotifierClosed = errors.New("clipqueue: notifier closed")
)

// ValidationError reports malformed input to an enqueue call. It is never
// retried automatically.
type ValidationError struct {
	Field  string
	Reason string
	// Err optionally names a more specific sentinel such as
	// ErrUnknownJobType.
	Err error
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("clipqueue: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Unwrap returns the specific cause, if any.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError for the named field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a persistence failure surfaced by a queue operation.
// Callers should treat it as retryable; the queue never retries its own
// storage calls.
type StorageError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("clipqueue: storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err in a StorageError for op. A nil err stays nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

package storemesh

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors.
	ErrNoStore = errors.New("storemesh: no store configured")

	// Primary path errors, surfaced to the caller.
	ErrValidation           = errors.New("storemesh: validation failed")
	ErrTransientStore       = errors.New("storemesh: store temporarily unavailable")
	ErrSerializationTimeout = errors.New("storemesh: write slot not acquired in time")

	// ErrCacheUnavailable is never surfaced by Query; it triggers a degraded
	// direct read instead.
	ErrCacheUnavailable = errors.New("storemesh: cache unavailable")

	// Store lookups.
	ErrNotFound     = errors.New("storemesh: not found")
	ErrDuplicate    = errors.New("storemesh: duplicate id")
	ErrTaskNotFound = errors.New("storemesh: task not found")

	// Background path errors.
	ErrTaskHandler   = errors.New("storemesh: task handler failed")
	ErrInvalidState  = errors.New("storemesh: invalid task state transition")
	ErrStaleDelivery = errors.New("storemesh: task was redelivered since it was claimed")
	ErrNoHandler     = errors.New("storemesh: no handler registered")
)

// ValidationError reports caller input that can never succeed as given.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "storemesh: invalid input: " + e.Reason
	}
	return fmt.Sprintf("storemesh: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Transient wraps err as a TransientStoreError for op.
func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
}

// IsRetryable reports whether err is worth retrying at the call site.
// Validation failures, duplicates and missing entities are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate):
		return false
	}
	return true
}

package notice

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a notice id does not exist.
var ErrNotFound = errors.New("notice not found")

// ValidationError is returned when caller input is rejected before any
// store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientStoreError wraps a store failure that may succeed on retry
// (connection loss, timeout, lock contention).
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: transient store error: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// UpstreamFetchError is one failed (date, stage) fetch.
type UpstreamFetchError struct {
	Stage string
	Date  string
	Err   error
}

func (e *UpstreamFetchError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("fetch %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("fetch %s for %s: %v", e.Stage, e.Date, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// InvariantViolation reports a store state that should be impossible.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Detail
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is or wraps a *TransientStoreError.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

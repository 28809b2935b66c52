package errors

import (
	"fmt"
	"time"
)

// OverflowError indicates a publish could not find room on a bus before its
// backpressure timeout elapsed. The caller decides whether to drop or retry.
type OverflowError struct {
	SessionID string
	Source    string
	Waited    time.Duration
	Retained  int
	Bytes     int64
	Err       error
}

// Error implements the error interface.
func (e *OverflowError) Error() string {
	return fmt.Sprintf("bus overflow for %s in session %s after %s (retained %d envelopes, %d bytes)",
		e.Source, e.SessionID, e.Waited, e.Retained, e.Bytes)
}

// Unwrap returns the underlying sentinel, if any.
func (e *OverflowError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// SetupError indicates a component could not be brought up at all, such as
// a capture device that is unavailable.
type SetupError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// InvariantError reports a broken ordering invariant. It is always fatal to
// the session and is never corrected silently.
type InvariantError struct {
	SessionID string
	Invariant string
	Detail    string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %q violated in session %s: %s", e.Invariant, e.SessionID, e.Detail)
}

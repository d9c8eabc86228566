package scanner

import (
	"errors"
	"fmt"
)

// InvocationError means the tool could not be reached or started. Transient;
// the worker pool retries these with backoff.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("scanner invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ExecutionError means the tool ran but reported a fatal internal fault.
// Not retried.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("scanner execution failed (exit %d): %s", e.ExitCode, e.Stderr)
}

// RefreshError means a definition-database download/update cycle failed.
// Fatal for that cycle only; the previous definition version stays active.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("definition refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsTransient reports whether the error category is retryable.
func IsTransient(err error) bool {
	var inv *InvocationError
	return errors.As(err, &inv)
}

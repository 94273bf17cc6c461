package gateway

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed request field. No process is spawned
// when Run returns it.
type ValidationError struct {
	// Field is the wire name of the offending field (e.g. "host", "extra_opts").
	Field string

	// Reason describes which rule failed. It never echoes filesystem paths.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SpawnError reports that the ssh client could not be started.
type SpawnError struct {
	Err error
}

// Error omits the binary path and the underlying error text. Use Unwrap
// for logs.
func (e *SpawnError) Error() string {
	return "failed to start ssh client"
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the command exceeded its timeout and was killed.
// Result holds whatever output was captured before termination.
type TimeoutError struct {
	Timeout time.Duration
	Result  *Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Timeout)
}

// CanceledError reports that the caller's context was canceled while the
// command was running. The process was terminated the same way as on timeout.
type CanceledError struct {
	Err    error
	Result *Result
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("command canceled: %v", e.Err)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}

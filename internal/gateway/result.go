package gateway

import "time"

// Result holds the outcome of a single ssh invocation.
type Result struct {
	// ExitCode is the ssh client's exit status. It is -1 when the process
	// was killed by the gateway.
	ExitCode int

	// Stdout and Stderr hold at most Config.MaxOutputBytes bytes each.
	Stdout []byte
	Stderr []byte

	StdoutTruncated bool
	StderrTruncated bool

	// TimedOut is set on the partial result carried by a TimeoutError.
	TimedOut bool

	// Duration is the wall-clock time from spawn to completion.
	Duration time.Duration
}

// DurationMillis returns Duration in whole milliseconds.
func (r *Result) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}

// Truncated reports whether either stream hit the output cap.
func (r *Result) Truncated() bool {
	return r.StdoutTruncated || r.StderrTruncated
}

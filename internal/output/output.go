// Package output renders gateway results for a terminal.
package output

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// RunStart prints the target and command (debug mode only).
func (o *Output) RunStart(host, command string) {
	if !o.debug {
		return
	}
	o.printf("%s %s %s %s\n", o.color(colorBold, "RUN"), host, o.color(colorGray, "|"), command)
}

// RunResult prints a single status line for a completed run.
// Format: [indicator] host exit=N (duration) [truncated streams]
func (o *Output) RunResult(host string, res *gateway.Result) {
	indicator, statusColor := "✓", colorGreen
	if res.ExitCode != 0 {
		indicator, statusColor = "✗", colorRed
	}

	o.printf("%s %s %s %s%s\n",
		o.color(statusColor, indicator),
		host,
		o.color(statusColor, fmt.Sprintf("exit=%d", res.ExitCode)),
		o.color(colorGray, fmt.Sprintf("(%.2fs)", res.Duration.Seconds())),
		o.truncation(res))

	if o.debug {
		o.streams(res)
	}
}

// RunFailed prints a run that produced no regular result. Partial output
// of a timed-out or canceled run is shown in debug mode.
func (o *Output) RunFailed(host string, err error) {
	var (
		verr *gateway.ValidationError
		terr *gateway.TimeoutError
		cerr *gateway.CanceledError
	)

	status := "FAILED"
	var partial *gateway.Result
	switch {
	case errors.As(err, &verr):
		status = "INVALID"
	case errors.As(err, &terr):
		status = "TIMEOUT"
		partial = terr.Result
	case errors.As(err, &cerr):
		status = "CANCELED"
		partial = cerr.Result
	}

	o.printf("%s %s %s %s\n",
		o.color(colorRed, "✗"),
		host,
		o.color(colorRed, status),
		err.Error())

	if o.debug && partial != nil {
		o.streams(partial)
	}
}

// Hosts prints configured ssh host patterns.
func (o *Output) Hosts(path string, patterns []string) {
	if len(patterns) == 0 {
		o.printf("No hosts configured.\n")
		return
	}

	o.printf("%s %s\n\n", o.color(colorBold, "HOSTS"), o.color(colorGray, path))
	for _, p := range patterns {
		marker := "-"
		if strings.ContainsAny(p, "*?") {
			marker = o.color(colorCyan, "~")
		}
		o.printf("  %s %s\n", marker, p)
	}
	o.printf("\nTotal: %d\n", len(patterns))
}

func (o *Output) truncation(res *gateway.Result) string {
	var streams []string
	if res.StdoutTruncated {
		streams = append(streams, "stdout")
	}
	if res.StderrTruncated {
		streams = append(streams, "stderr")
	}
	if len(streams) == 0 {
		return ""
	}
	return " " + o.color(colorYellow, "truncated: "+strings.Join(streams, ","))
}

func (o *Output) streams(res *gateway.Result) {
	for _, s := range []struct {
		name string
		data []byte
	}{{"stdout", res.Stdout}, {"stderr", res.Stderr}} {
		text := strings.TrimSpace(string(s.data))
		if text == "" {
			continue
		}
		o.printf("    %s\n", o.color(colorGray, s.name+":"))
		for _, line := range strings.Split(text, "\n") {
			o.printf("      %s\n", line)
		}
	}
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

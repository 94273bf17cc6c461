package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

func TestNewOutput(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)

	if o == nil {
		t.Fatal("expected non-nil Output")
	}
	if o.w != &buf {
		t.Error("writer not set correctly")
	}
	if !o.useColor {
		t.Error("expected useColor to be true by default")
	}
}

func TestSetColor(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)

	o.SetColor(false)
	if o.useColor {
		t.Error("expected useColor to be false")
	}

	o.SetColor(true)
	if !o.useColor {
		t.Error("expected useColor to be true")
	}
}

func TestSetDebug(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)

	o.SetDebug(true)
	if !o.debug {
		t.Error("expected debug to be true")
	}

	o.SetDebug(false)
	if o.debug {
		t.Error("expected debug to be false")
	}
}

func TestColorOutput(t *testing.T) {
	t.Run("color enabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(true)

		result := o.color(colorGreen, "test")
		if !strings.Contains(result, "\033[32m") {
			t.Error("expected color code in output")
		}
		if !strings.Contains(result, "\033[0m") {
			t.Error("expected reset code in output")
		}
	})

	t.Run("color disabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)

		result := o.color(colorGreen, "test")
		if result != "test" {
			t.Errorf("expected plain 'test', got %q", result)
		}
	})
}

func TestRunResult(t *testing.T) {
	tests := []struct {
		name    string
		res     *gateway.Result
		debug   bool
		wantIn  []string
		wantOut []string
	}{
		{
			name:    "success",
			res:     &gateway.Result{ExitCode: 0, Duration: 1500 * time.Millisecond},
			wantIn:  []string{"✓", "web-1", "exit=0", "(1.50s)"},
			wantOut: []string{"truncated"},
		},
		{
			name:   "non-zero exit",
			res:    &gateway.Result{ExitCode: 3},
			wantIn: []string{"✗", "web-1", "exit=3"},
		},
		{
			name:   "truncated streams",
			res:    &gateway.Result{StdoutTruncated: true, StderrTruncated: true},
			wantIn: []string{"truncated: stdout,stderr"},
		},
		{
			name:   "debug shows output",
			res:    &gateway.Result{Stdout: []byte("line one\nline two\n"), Stderr: []byte("warn\n")},
			debug:  true,
			wantIn: []string{"stdout:", "      line one", "      line two", "stderr:", "      warn"},
		},
		{
			name:    "output hidden without debug",
			res:     &gateway.Result{Stdout: []byte("secret")},
			wantOut: []string{"secret", "stdout:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := New(&buf)
			o.SetColor(false)
			o.SetDebug(tt.debug)

			o.RunResult("web-1", tt.res)

			output := buf.String()
			for _, want := range tt.wantIn {
				if !strings.Contains(output, want) {
					t.Errorf("expected output to contain %q, got %q", want, output)
				}
			}
			for _, unwanted := range tt.wantOut {
				if strings.Contains(output, unwanted) {
					t.Errorf("expected output not to contain %q, got %q", unwanted, output)
				}
			}
		})
	}
}

func TestRunFailed(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		debug  bool
		wantIn []string
	}{
		{
			name:   "validation",
			err:    &gateway.ValidationError{Field: "host", Reason: "must not be empty"},
			wantIn: []string{"✗", "db", "INVALID", "invalid host: must not be empty"},
		},
		{
			name:   "timeout with partial output",
			err:    &gateway.TimeoutError{Timeout: time.Second, Result: &gateway.Result{ExitCode: -1, Stdout: []byte("started")}},
			debug:  true,
			wantIn: []string{"TIMEOUT", "timed out after 1s", "started"},
		},
		{
			name:   "canceled",
			err:    &gateway.CanceledError{Err: errors.New("context canceled")},
			wantIn: []string{"CANCELED"},
		},
		{
			name:   "spawn",
			err:    &gateway.SpawnError{Err: errors.New("not found")},
			wantIn: []string{"FAILED", "failed to start ssh client"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := New(&buf)
			o.SetColor(false)
			o.SetDebug(tt.debug)

			o.RunFailed("db", tt.err)

			output := buf.String()
			for _, want := range tt.wantIn {
				if !strings.Contains(output, want) {
					t.Errorf("expected output to contain %q, got %q", want, output)
				}
			}
		})
	}
}

func TestRunStart(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.RunStart("web-1", "uptime")
	if buf.Len() != 0 {
		t.Errorf("expected no output without debug, got %q", buf.String())
	}

	o.SetDebug(true)
	o.RunStart("web-1", "uptime")
	if !strings.Contains(buf.String(), "RUN web-1 | uptime") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestInfo(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.Info("test %s %d", "message", 42)

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("expected INFO prefix")
	}
	if !strings.Contains(output, "test message 42") {
		t.Errorf("expected formatted message, got %q", output)
	}
}

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.Warn("warning %s", "here")

	output := buf.String()
	if !strings.Contains(output, "WARN") {
		t.Error("expected WARN prefix")
	}
	if !strings.Contains(output, "warning here") {
		t.Errorf("expected formatted message, got %q", output)
	}
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.Error("error: %v", "failed")

	output := buf.String()
	if !strings.Contains(output, "ERROR") {
		t.Error("expected ERROR prefix")
	}
	if !strings.Contains(output, "error: failed") {
		t.Errorf("expected formatted message, got %q", output)
	}
}

func TestDebugOutput(t *testing.T) {
	t.Run("debug enabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)
		o.SetDebug(true)

		o.Debug("debug %s", "info")

		output := buf.String()
		if !strings.Contains(output, "DEBUG") {
			t.Error("expected DEBUG prefix when debug enabled")
		}
	})

	t.Run("debug disabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)
		o.SetDebug(false)

		o.Debug("debug %s", "info")

		output := buf.String()
		if output != "" {
			t.Errorf("expected empty output when debug disabled, got %q", output)
		}
	})
}

func TestHosts(t *testing.T) {
	t.Run("patterns", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)

		o.Hosts("/home/ops/.ssh/config", []string{"db-primary", "web-*"})

		output := buf.String()
		for _, want := range []string{"HOSTS", "/home/ops/.ssh/config", "- db-primary", "~ web-*", "Total: 2"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got %q", want, output)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.Hosts("", nil)

		if !strings.Contains(buf.String(), "No hosts configured.") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})
}

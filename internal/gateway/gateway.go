// Package gateway runs commands on remote hosts by invoking the OpenSSH
// client as a subprocess.
//
// Every request field reaches ssh as a discrete argument; nothing is ever
// passed through a local shell. Each call enforces a timeout, bounds the
// captured output, and guarantees the child has exited before returning.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
)

// Run outcomes reported to a Recorder.
const (
	OutcomeOK         = "ok"
	OutcomeNonZero    = "nonzero_exit"
	OutcomeTimeout    = "timeout"
	OutcomeCanceled   = "canceled"
	OutcomeSpawnError = "spawn_error"
	OutcomeInvalid    = "invalid"
)

// Config holds the operator-controlled settings of a Gateway.
type Config struct {
	// Binary is the ssh client executable, resolved through PATH if relative.
	Binary string

	// DefaultUser is used when a request does not name a user.
	DefaultUser string

	// SSHDir is the default ssh directory. If it contains a "config" file,
	// ssh is invoked with -F pointing at it.
	SSHDir string

	// AllowedSSHDirRoots limits per-request ssh directories. Defaults to
	// the current user's home directory and SSHDir.
	AllowedSSHDirRoots []string

	// StrictHostKeyChecking is the default mode for requests that omit it.
	StrictHostKeyChecking string

	// EphemeralKnownHosts discards learned host keys (UserKnownHostsFile=/dev/null).
	EphemeralKnownHosts bool

	// ExtraOptionPatterns is the allow-list for passthrough options.
	ExtraOptionPatterns []string

	DefaultTimeoutSeconds int
	MaxTimeoutSeconds     int

	// ConnectTimeoutSeconds caps ssh's ConnectTimeout. The effective value
	// never exceeds the request timeout.
	ConnectTimeoutSeconds int

	// MaxOutputBytes caps each captured stream.
	MaxOutputBytes int

	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Binary:                "ssh",
		SSHDir:                "~/.ssh",
		StrictHostKeyChecking: HostKeyCheckingAcceptNew,
		ExtraOptionPatterns:   DefaultExtraOptionPatterns,
		DefaultTimeoutSeconds: 60,
		MaxTimeoutSeconds:     120,
		ConnectTimeoutSeconds: 10,
		MaxOutputBytes:        1 << 20,
		KillGrace:             2 * time.Second,
	}
}

// Recorder receives run lifecycle events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// InFlight adjusts the number of running ssh processes by delta.
	InFlight(delta int)

	// RunFinished is called once per Run call. res is nil for outcomes
	// that never produced a process.
	RunFinished(outcome string, elapsed time.Duration, res *Result)
}

type nopRecorder struct{}

func (nopRecorder) InFlight(int)                               {}
func (nopRecorder) RunFinished(string, time.Duration, *Result) {}

// Gateway executes requests. It holds no per-request state and is safe for
// concurrent use.
type Gateway struct {
	cfg       Config
	binary    string
	sshDir    string
	roots     []string
	allow     *allowList
	sshConfig *SSHConfig
	log       logrus.FieldLogger
	rec       Recorder

	// start launches the prepared command; replaced in tests.
	start func(*exec.Cmd) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used for per-run log lines.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		g.rec = r
	}
}

// New creates a Gateway. It fails if the allow-list patterns do not compile
// or the configured ssh config file cannot be parsed.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.StrictHostKeyChecking == "" {
		cfg.StrictHostKeyChecking = def.StrictHostKeyChecking
	}
	if !IsValidHostKeyChecking(cfg.StrictHostKeyChecking) {
		return nil, fmt.Errorf("invalid strict host key checking mode %q", cfg.StrictHostKeyChecking)
	}
	if cfg.ExtraOptionPatterns == nil {
		cfg.ExtraOptionPatterns = def.ExtraOptionPatterns
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = def.MaxTimeoutSeconds
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = def.DefaultTimeoutSeconds
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}

	allow, err := compileAllowList(cfg.ExtraOptionPatterns)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:    cfg,
		binary: cfg.Binary,
		allow:  allow,
		log:    logrus.StandardLogger(),
		rec:    nopRecorder{},
		start:  (*exec.Cmd).Start,
	}

	if cfg.SSHDir != "" {
		dir, err := homedir.Expand(cfg.SSHDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand ssh dir: %w", err)
		}
		g.sshDir = dir
	}

	g.roots = append([]string(nil), cfg.AllowedSSHDirRoots...)
	if len(g.roots) == 0 {
		if home, err := homedir.Dir(); err == nil {
			g.roots = append(g.roots, home)
		}
		if g.sshDir != "" {
			g.roots = append(g.roots, g.sshDir)
		}
	}
	for i, r := range g.roots {
		if expanded, err := homedir.Expand(r); err == nil {
			g.roots[i] = expanded
		}
	}

	g.sshConfig, err = LoadSSHConfig(g.sshDir)
	if err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Config returns the effective configuration after defaults were applied.
func (g *Gateway) Config() Config {
	return g.cfg
}

// SSHConfig returns the parsed default ssh config, or nil if there is none.
func (g *Gateway) SSHConfig() *SSHConfig {
	return g.sshConfig
}

// Run validates req, executes it, and waits for the ssh client to exit.
//
// A non-zero remote exit code is a successful result. Errors are one of
// *ValidationError, *SpawnError, *TimeoutError or *CanceledError.
func (g *Gateway) Run(ctx context.Context, req Request) (*Result, error) {
	log := g.log.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"host":       req.Host,
	})

	inv, err := g.prepare(req)
	if err != nil {
		log.WithError(err).Warn("Request rejected")
		g.rec.RunFinished(OutcomeInvalid, 0, nil)
		return nil, err
	}

	log = log.WithFields(logrus.Fields{
		"resolved_host": g.sshConfig.HostName(inv.host),
		"port":          inv.port,
		"timeout":       inv.timeout.String(),
	})
	log.WithField("command", abbreviate(inv.command, 50)).Debug("Executing SSH command")

	if err := ctx.Err(); err != nil {
		g.rec.RunFinished(OutcomeCanceled, 0, nil)
		return nil, &CanceledError{Err: err}
	}

	cmd := exec.Command(g.binary, g.buildArgs(inv)...)
	stdout := newCappedBuffer(g.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(g.cfg.MaxOutputBytes)
	cmd.Stdin = nil
	setProcessGroup(cmd)

	pipes, err := attachPipes(cmd)
	if err != nil {
		log.WithError(err).Error("Failed to create output pipes")
		g.rec.RunFinished(OutcomeSpawnError, 0, nil)
		return nil, &SpawnError{Err: err}
	}

	start := time.Now()
	if err := g.start(cmd); err != nil {
		pipes.abort()
		log.WithError(err).Error("Failed to start SSH client")
		g.rec.RunFinished(OutcomeSpawnError, 0, nil)
		return nil, &SpawnError{Err: err}
	}
	g.rec.InFlight(1)
	defer g.rec.InFlight(-1)

	drained := pipes.drain(stdout, stderr)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(inv.timeout)
	defer timer.Stop()

	var waitErr, ctxErr error
	var timedOut bool
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = g.terminate(cmd, done)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		timedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		waitErr = g.terminate(cmd, done)
	}

	// Anything the client left running in its group (ProxyCommand helpers,
	// backgrounded jobs) dies with the call.
	if err := killGroup(cmd.Process); err != nil && !isNoSuchProcess(err) {
		log.WithError(err).Debug("Failed to kill SSH process group")
	}
	if !pipes.wait(drained, g.cfg.KillGrace) {
		log.Debug("Output pipes still open after exit; closed them")
	}

	res := &Result{
		ExitCode:        exitCode(cmd),
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        time.Since(start),
	}

	log = log.WithFields(logrus.Fields{
		"duration_ms":      res.DurationMillis(),
		"stdout_truncated": res.StdoutTruncated,
		"stderr_truncated": res.StderrTruncated,
	})

	if waitErr != nil && !isExitError(waitErr) {
		log.WithError(waitErr).Debug("SSH client wait returned an error")
	}

	switch {
	case timedOut:
		res.ExitCode = -1
		res.TimedOut = true
		log.Warn("SSH command timed out")
		g.rec.RunFinished(OutcomeTimeout, res.Duration, res)
		return nil, &TimeoutError{Timeout: inv.timeout, Result: res}

	case ctxErr != nil:
		res.ExitCode = -1
		log.Warn("SSH command canceled")
		g.rec.RunFinished(OutcomeCanceled, res.Duration, res)
		return nil, &CanceledError{Err: ctxErr, Result: res}
	}

	log = log.WithField("exit_code", res.ExitCode)
	if res.ExitCode == 0 {
		log.Info("SSH command succeeded")
		g.rec.RunFinished(OutcomeOK, res.Duration, res)
	} else {
		log.Warn("SSH command exited non-zero")
		g.rec.RunFinished(OutcomeNonZero, res.Duration, res)
	}
	return res, nil
}

// terminate stops the child's process group: SIGTERM first, SIGKILL after
// the grace period. It returns only once Wait has returned.
func (g *Gateway) terminate(cmd *exec.Cmd, done <-chan error) error {
	select {
	case err := <-done:
		return err
	default:
	}

	_ = terminateGroup(cmd.Process)

	grace := time.NewTimer(g.cfg.KillGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
		_ = killGroup(cmd.Process)
		return <-done
	}
}

// outputPipes connects the child's stdout and stderr to pipes owned by the
// gateway. Wait then returns as soon as the child exits, independent of who
// else still holds the write ends.
type outputPipes struct {
	outR, outW *os.File
	errR, errW *os.File
}

func attachPipes(cmd *exec.Cmd) (*outputPipes, error) {
	p := &outputPipes{}
	var err error
	if p.outR, p.outW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if p.errR, p.errW, err = os.Pipe(); err != nil {
		p.outR.Close()
		p.outW.Close()
		return nil, err
	}
	cmd.Stdout = p.outW
	cmd.Stderr = p.errW
	return p, nil
}

// abort releases all pipe ends when the child never started.
func (p *outputPipes) abort() {
	for _, f := range []*os.File{p.outR, p.outW, p.errR, p.errW} {
		f.Close()
	}
}

// drain closes the parent's write ends and copies both streams until EOF.
// The returned channel is closed once both copies finish.
func (p *outputPipes) drain(stdout, stderr io.Writer) <-chan struct{} {
	p.outW.Close()
	p.errW.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stdout, p.outR)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stderr, p.errR)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// wait blocks until both streams hit EOF or grace elapses. On expiry the
// read ends are closed to unblock the copies. It reports whether the
// streams ended on their own.
func (p *outputPipes) wait(drained <-chan struct{}, grace time.Duration) bool {
	t := time.NewTimer(grace)
	defer t.Stop()

	clean := true
	select {
	case <-drained:
	case <-t.C:
		clean = false
	}
	p.outR.Close()
	p.errR.Close()
	<-drained
	return clean
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eugenetaranov/sshgate/internal/gateway"
	"github.com/eugenetaranov/sshgate/internal/output"
	"github.com/eugenetaranov/sshgate/internal/wire"
)

// Exit statuses for runs that produced no remote exit code.
const (
	exitInvalid = 2
	exitTimeout = 124
	exitFailed  = 255
)

// runCmd executes one command
var runCmd = &cobra.Command{
	Use:   "run <host> -- <command>",
	Short: "Run a command on a remote host",
	Long: `Execute a single command through the gateway and print its output.

The remote stdout and stderr are copied to the local stdout and stderr, and
sshgate exits with the remote exit code. A timeout exits with 124, an
invalid request with 2, and other failures with 255.

Examples:
  sshgate run web-1 -- uptime
  sshgate run 10.0.0.5 -l deploy -p 2222 --timeout 30 -- systemctl status nginx
  sshgate run db -J bastion -o "-o ServerAliveInterval=15" --json -- df -h`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRemote,
}

func init() {
	runCmd.Flags().StringP("user", "l", "", "Remote user")
	runCmd.Flags().IntP("port", "p", 0, "Remote port (default 22)")
	runCmd.Flags().Int("timeout", 0, "Timeout in seconds (default from config)")
	runCmd.Flags().String("ssh-dir", "", "ssh directory to use for this run")
	runCmd.Flags().String("strict-host-key-checking", "", "yes, no or accept-new")
	runCmd.Flags().StringP("proxy-jump", "J", "", "Jump host(s), [user@]host[:port][,...]")
	runCmd.Flags().BoolP("tty", "t", false, "Force pseudo-terminal allocation")
	runCmd.Flags().StringArrayP("opt", "o", nil, "Extra ssh option from the allow-list (repeatable)")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
}

func runRemote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The per-run log lines duplicate the rendered result.
	if !debug {
		cfg.Log.Level = "warn"
	}

	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg.Gateway(), gateway.WithLogger(log))
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	req := gateway.Request{
		Host:    args[0],
		Command: strings.Join(args[1:], " "),
	}
	req.User, _ = flags.GetString("user")
	req.Port, _ = flags.GetInt("port")
	req.TimeoutSeconds, _ = flags.GetInt("timeout")
	req.SSHDir, _ = flags.GetString("ssh-dir")
	req.StrictHostKeyChecking, _ = flags.GetString("strict-host-key-checking")
	req.ProxyJump, _ = flags.GetString("proxy-jump")
	req.AllocateTTY, _ = flags.GetBool("tty")
	req.ExtraOptions, _ = flags.GetStringArray("opt")
	asJSON, _ := flags.GetBool("json")

	out := output.New(cmd.ErrOrStderr())
	out.SetColor(!noColor)
	out.SetDebug(debug)
	out.RunStart(req.Host, req.Command)

	ctx, cancel := signalContext()
	defer cancel()

	res, runErr := gw.Run(ctx, req)

	if asJSON {
		if err := writeJSON(cmd, res, runErr); err != nil {
			return err
		}
	} else if runErr != nil {
		out.RunFailed(req.Host, runErr)
	} else {
		_, _ = cmd.OutOrStdout().Write(res.Stdout)
		_, _ = cmd.ErrOrStderr().Write(res.Stderr)
		out.RunResult(req.Host, res)
	}

	if code := exitStatus(res, runErr); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func writeJSON(cmd *cobra.Command, res *gateway.Result, runErr error) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if runErr == nil {
		return enc.Encode(wire.FromResult(res))
	}

	body := wire.ErrorBody{Error: runErr.Error()}
	var (
		verr *gateway.ValidationError
		terr *gateway.TimeoutError
		cerr *gateway.CanceledError
	)
	switch {
	case errors.As(runErr, &verr):
		body.Field = verr.Field
	case errors.As(runErr, &terr):
		body.Result = wire.FromResult(terr.Result)
	case errors.As(runErr, &cerr):
		body.Result = wire.FromResult(cerr.Result)
	}
	return enc.Encode(body)
}

func exitStatus(res *gateway.Result, err error) int {
	var (
		verr *gateway.ValidationError
		terr *gateway.TimeoutError
	)
	switch {
	case err == nil:
		return res.ExitCode
	case errors.As(err, &verr):
		return exitInvalid
	case errors.As(err, &terr):
		return exitTimeout
	default:
		return exitFailed
	}
}

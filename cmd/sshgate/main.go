// Package main is the entrypoint for the sshgate CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eugenetaranov/sshgate/internal/config"
	"github.com/eugenetaranov/sshgate/internal/gateway"
	"github.com/eugenetaranov/sshgate/internal/logging"
	"github.com/eugenetaranov/sshgate/internal/output"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	cfgFile string
	debug   bool
	noColor bool
)

// exitCodeError carries a process exit status out of a command.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sshgate",
	Short: "sshgate - Remote command execution gateway over OpenSSH",
	Long: `sshgate runs non-interactive commands on remote hosts through the
OpenSSH client. Requests are validated, every value is passed to ssh as a
separate argument, and each run is bounded by a timeout and an output cap.

It can serve an HTTP API, act as an MCP tool server on stdio, or run a
single command from the terminal.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment. --debug forces the
// debug log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*logrus.Logger, error) {
	return logging.New(w, cfg.Log.Level, cfg.Log.Format)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// hostsCmd lists the Host patterns of the configured ssh config
var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List hosts from the ssh config",
	Long: `Display the Host patterns declared in the config file of the
configured ssh directory (ssh.dir / SSH_DIR).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}

		gw, err := gateway.New(cfg.Gateway(), gateway.WithLogger(log))
		if err != nil {
			return err
		}

		out := output.New(cmd.OutOrStdout())
		out.SetColor(!noColor)
		sc := gw.SSHConfig()
		if sc == nil {
			out.Hosts("", nil)
			return nil
		}
		out.Hosts(sc.Path, sc.Hosts())
		return nil
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sshgate %s\n", rootCmd.Version)
	},
}

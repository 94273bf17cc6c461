package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/eugenetaranov/sshgate/internal/gateway"
	"github.com/eugenetaranov/sshgate/internal/httpapi"
	"github.com/eugenetaranov/sshgate/internal/mcp"
	"github.com/eugenetaranov/sshgate/internal/metrics"
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Start the HTTP API.

Endpoints:
  POST /run      execute a command (requires an API key)
  GET  /healthz  liveness check
  GET  /metrics  Prometheus metrics

Examples:
  API_KEYS=secret sshgate serve
  sshgate serve --addr 127.0.0.1:9000 --config sshgate.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw, err := gateway.New(cfg.Gateway(),
		gateway.WithLogger(log),
		gateway.WithRecorder(metrics.New(reg)),
	)
	if err != nil {
		return err
	}

	srv := httpapi.New(gw, httpapi.Config{
		APIKeys:         cfg.Server.APIKeys,
		MaxConcurrent:   cfg.Server.MaxConcurrent,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	}, httpapi.WithLogger(log), httpapi.WithMetrics(reg))

	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// Running commands get their full timeout plus the kill grace period.
	grace := time.Duration(cfg.Limits.MaxTimeoutSeconds)*time.Second + 2*cfg.Limits.KillGrace
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	log.Info("Shutting down HTTP API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// mcpCmd runs the MCP stdio server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ssh tool over MCP on stdio",
	Long: `Run a Model Context Protocol server speaking newline-delimited
JSON-RPC 2.0 on stdin/stdout. It exposes one tool, "ssh". Logs are written
to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
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

	srv := mcp.New(gw,
		mcp.WithLogger(log),
		mcp.WithVersion(version),
		mcp.WithMaxConcurrent(cfg.Server.MaxConcurrent),
		mcp.WithMaxLineBytes(int(cfg.Server.MaxRequestBytes)),
	)

	ctx, cancel := signalContext()
	defer cancel()

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

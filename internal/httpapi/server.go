// Package httpapi serves the gateway over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

// Runner executes a gateway request. *gateway.Gateway implements it.
type Runner interface {
	Run(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Config holds the HTTP server settings.
type Config struct {
	// APIKeys are accepted in the X-API-Key header or as
	// "Authorization: ApiKey <key>". With no keys configured every /run
	// request is rejected.
	APIKeys []string

	// MaxConcurrent bounds the number of commands running at once. Further
	// requests wait until a slot frees or the client goes away.
	MaxConcurrent int

	// MaxRequestBytes caps the request body.
	MaxRequestBytes int64
}

// Server is the HTTP front end of a gateway.
type Server struct {
	echo    *echo.Echo
	runner  Runner
	keys    [][]byte
	sem     *semaphore.Weighted
	log     logrus.FieldLogger
	metrics prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for access and error logs.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics exposes the gatherer's metrics on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = g
	}
}

// New builds the server and its routes.
func New(runner Runner, cfg Config, opts ...Option) *Server {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 16
	}
	if cfg.MaxRequestBytes < 1 {
		cfg.MaxRequestBytes = 1 << 20
	}

	s := &Server{
		echo:   echo.New(),
		runner: runner,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:    logrus.StandardLogger(),
	}
	for _, k := range cfg.APIKeys {
		s.keys = append(s.keys, []byte(k))
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:     true,
		LogURI:        true,
		LogStatus:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: s.logRequest,
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'",
	}))
	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxRequestBytes, 10)))

	e.GET("/healthz", s.handleHealth)
	e.POST("/run", s.handleRun, s.keyAuth())
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	}

	if len(s.keys) == 0 {
		s.log.Warn("No API keys configured, /run will reject every request")
	}

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until the server stops. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("HTTP API listening")
	return s.echo.Start(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) keyAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:X-API-Key,header:" + echo.HeaderAuthorization + ":ApiKey ",
		Validator: func(key string, c echo.Context) (bool, error) {
			return s.validKey(key), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			s.log.WithField("remote_ip", c.RealIP()).Warn("Unauthorized request")
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	})
}

// validKey compares against every configured key in constant time.
func (s *Server) validKey(key string) bool {
	if key == "" {
		return false
	}
	match := 0
	for _, k := range s.keys {
		match |= subtle.ConstantTimeCompare([]byte(key), k)
	}
	return match == 1
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	entry := s.log.WithFields(logrus.Fields{
		"method":     v.Method,
		"uri":        v.URI,
		"status":     v.Status,
		"latency_ms": v.Latency.Milliseconds(),
		"remote_ip":  v.RemoteIP,
	})
	switch {
	case v.Status >= 500:
		entry.Error("HTTP request")
	case v.Status >= 400:
		entry.Warn("HTTP request")
	default:
		entry.Info("HTTP request")
	}
	return nil
}

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
	} else {
		s.log.WithError(err).Error("Unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": msg})
	}
	if err != nil {
		s.log.WithError(err).Debug("Failed to write error response")
	}
}

func isJSON(contentType string) bool {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mt), echo.MIMEApplicationJSON)
}

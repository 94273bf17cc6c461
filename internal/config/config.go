// Package config loads sshgate settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

// Config is the complete runtime configuration.
type Config struct {
	SSH    SSH    `yaml:"ssh"`
	Limits Limits `yaml:"limits"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

// SSH controls how the ssh client is invoked.
type SSH struct {
	Binary                string   `yaml:"binary"`
	DefaultUser           string   `yaml:"default_user"`
	Dir                   string   `yaml:"dir"`
	AllowedDirRoots       []string `yaml:"allowed_dir_roots"`
	StrictHostKeyChecking string   `yaml:"strict_host_key_checking"`
	EphemeralKnownHosts   bool     `yaml:"ephemeral_known_hosts"`
	ExtraOptionPatterns   []string `yaml:"extra_option_patterns"`
}

// Limits bounds a single execution.
type Limits struct {
	DefaultTimeoutSeconds int           `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds     int           `yaml:"max_timeout_seconds"`
	ConnectTimeoutSeconds int           `yaml:"connect_timeout_seconds"`
	MaxOutputBytes        int           `yaml:"max_output_bytes"`
	KillGrace             time.Duration `yaml:"kill_grace"`
}

// Server configures the HTTP API and the MCP server.
type Server struct {
	Addr            string   `yaml:"addr"`
	APIKeys         []string `yaml:"api_keys"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	MaxRequestBytes int64    `yaml:"max_request_bytes"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	gw := gateway.DefaultConfig()
	return &Config{
		SSH: SSH{
			Binary:                gw.Binary,
			Dir:                   gw.SSHDir,
			StrictHostKeyChecking: gw.StrictHostKeyChecking,
			ExtraOptionPatterns:   append([]string(nil), gw.ExtraOptionPatterns...),
		},
		Limits: Limits{
			DefaultTimeoutSeconds: gw.DefaultTimeoutSeconds,
			MaxTimeoutSeconds:     gw.MaxTimeoutSeconds,
			ConnectTimeoutSeconds: gw.ConnectTimeoutSeconds,
			MaxOutputBytes:        gw.MaxOutputBytes,
			KillGrace:             gw.KillGrace,
		},
		Server: Server{
			Addr:            ":8090",
			MaxConcurrent:   16,
			MaxRequestBytes: 1 << 20,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key, sep string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v, sep)
		}
	}

	var errs []error
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: not an integer", key))
			return
		}
		*dst = n
	}

	str("SSHGATE_SSH_BIN", &c.SSH.Binary)
	str("SSHGATE_DEFAULT_USER", &c.SSH.DefaultUser)
	str("SSH_DIR", &c.SSH.Dir)
	list("SSHGATE_ALLOWED_DIR_ROOTS", ",", &c.SSH.AllowedDirRoots)
	str("SSHGATE_STRICT_HOST_KEY_CHECKING", &c.SSH.StrictHostKeyChecking)
	list("SSHGATE_EXTRA_OPTION_PATTERNS", "\n", &c.SSH.ExtraOptionPatterns)

	if v, ok := lookup("SSHGATE_EPHEMERAL_KNOWN_HOSTS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SSHGATE_EPHEMERAL_KNOWN_HOSTS: not a boolean"))
		} else {
			c.SSH.EphemeralKnownHosts = b
		}
	}

	integer("SSHGATE_DEFAULT_TIMEOUT", &c.Limits.DefaultTimeoutSeconds)
	integer("SSHGATE_MAX_TIMEOUT", &c.Limits.MaxTimeoutSeconds)
	integer("SSHGATE_CONNECT_TIMEOUT", &c.Limits.ConnectTimeoutSeconds)
	integer("SSHGATE_MAX_OUTPUT_BYTES", &c.Limits.MaxOutputBytes)
	integer("SSHGATE_MAX_CONCURRENT", &c.Server.MaxConcurrent)

	if v, ok := lookup("SSHGATE_KILL_GRACE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SSHGATE_KILL_GRACE: not a duration"))
		} else {
			c.Limits.KillGrace = d
		}
	}

	if v, ok := lookup("API_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("API_PORT: not a valid port"))
		} else {
			c.Server.Addr = ":" + strconv.Itoa(port)
		}
	}
	str("SSHGATE_ADDR", &c.Server.Addr)
	list("API_KEYS", ",", &c.Server.APIKeys)

	str("SSHGATE_LOG_LEVEL", &c.Log.Level)
	str("SSHGATE_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate checks ranges and enumerations. Patterns and directories are
// checked when the gateway is built.
func (c *Config) Validate() error {
	var errs []error

	if c.SSH.Binary == "" {
		errs = append(errs, errors.New("ssh.binary must not be empty"))
	}
	if !gateway.IsValidHostKeyChecking(c.SSH.StrictHostKeyChecking) {
		errs = append(errs, fmt.Errorf("ssh.strict_host_key_checking must be one of yes, no, accept-new"))
	}
	if c.Limits.MaxTimeoutSeconds < 1 {
		errs = append(errs, errors.New("limits.max_timeout_seconds must be at least 1"))
	}
	if c.Limits.DefaultTimeoutSeconds < 1 {
		errs = append(errs, errors.New("limits.default_timeout_seconds must be at least 1"))
	} else if c.Limits.DefaultTimeoutSeconds > c.Limits.MaxTimeoutSeconds {
		errs = append(errs, errors.New("limits.default_timeout_seconds must not exceed limits.max_timeout_seconds"))
	}
	if c.Limits.ConnectTimeoutSeconds < 1 {
		errs = append(errs, errors.New("limits.connect_timeout_seconds must be at least 1"))
	}
	if c.Limits.MaxOutputBytes < 1 {
		errs = append(errs, errors.New("limits.max_output_bytes must be positive"))
	}
	if c.Limits.KillGrace <= 0 {
		errs = append(errs, errors.New("limits.kill_grace must be positive"))
	}
	if c.Server.MaxConcurrent < 1 {
		errs = append(errs, errors.New("server.max_concurrent must be at least 1"))
	}
	if c.Server.MaxRequestBytes < 1 {
		errs = append(errs, errors.New("server.max_request_bytes must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Gateway converts the configuration into gateway settings.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		Binary:                c.SSH.Binary,
		DefaultUser:           c.SSH.DefaultUser,
		SSHDir:                c.SSH.Dir,
		AllowedSSHDirRoots:    c.SSH.AllowedDirRoots,
		StrictHostKeyChecking: c.SSH.StrictHostKeyChecking,
		EphemeralKnownHosts:   c.SSH.EphemeralKnownHosts,
		ExtraOptionPatterns:   c.SSH.ExtraOptionPatterns,
		DefaultTimeoutSeconds: c.Limits.DefaultTimeoutSeconds,
		MaxTimeoutSeconds:     c.Limits.MaxTimeoutSeconds,
		ConnectTimeoutSeconds: c.Limits.ConnectTimeoutSeconds,
		MaxOutputBytes:        c.Limits.MaxOutputBytes,
		KillGrace:             c.Limits.KillGrace,
	}
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

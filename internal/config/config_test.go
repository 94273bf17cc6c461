package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sshgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ssh", cfg.SSH.Binary)
	assert.Equal(t, "~/.ssh", cfg.SSH.Dir)
	assert.Equal(t, gateway.HostKeyCheckingAcceptNew, cfg.SSH.StrictHostKeyChecking)
	assert.Equal(t, 60, cfg.Limits.DefaultTimeoutSeconds)
	assert.Equal(t, 120, cfg.Limits.MaxTimeoutSeconds)
	assert.Equal(t, 10, cfg.Limits.ConnectTimeoutSeconds)
	assert.Equal(t, 1<<20, cfg.Limits.MaxOutputBytes)
	assert.Equal(t, 2*time.Second, cfg.Limits.KillGrace)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 16, cfg.Server.MaxConcurrent)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxRequestBytes)
}

func TestDefaultPatternsAreACopy(t *testing.T) {
	cfg := Default()
	cfg.SSH.ExtraOptionPatterns[0] = "changed"
	assert.NotEqual(t, "changed", gateway.DefaultExtraOptionPatterns[0])
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
ssh:
  binary: /usr/local/bin/ssh
  default_user: deploy
  strict_host_key_checking: "yes"
  ephemeral_known_hosts: true
  extra_option_patterns:
    - "-v"
limits:
  default_timeout_seconds: 30
  max_timeout_seconds: 300
  kill_grace: 5s
server:
  addr: 127.0.0.1:9000
  api_keys: [one, two]
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/ssh", cfg.SSH.Binary)
	assert.Equal(t, "deploy", cfg.SSH.DefaultUser)
	assert.Equal(t, "yes", cfg.SSH.StrictHostKeyChecking)
	assert.True(t, cfg.SSH.EphemeralKnownHosts)
	assert.Equal(t, []string{"-v"}, cfg.SSH.ExtraOptionPatterns)
	assert.Equal(t, 30, cfg.Limits.DefaultTimeoutSeconds)
	assert.Equal(t, 300, cfg.Limits.MaxTimeoutSeconds)
	assert.Equal(t, 5*time.Second, cfg.Limits.KillGrace)
	assert.Equal(t, 10, cfg.Limits.ConnectTimeoutSeconds, "unset keys keep defaults")
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"one", "two"}, cfg.Server.APIKeys)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "ssh:\n  binray: ssh\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().SSH, cfg.SSH)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"SSHGATE_SSH_BIN":                  "/opt/ssh",
		"SSHGATE_DEFAULT_USER":             "ops",
		"SSH_DIR":                          "/srv/keys",
		"SSHGATE_ALLOWED_DIR_ROOTS":        "/srv, /home ,",
		"SSHGATE_STRICT_HOST_KEY_CHECKING": "no",
		"SSHGATE_EPHEMERAL_KNOWN_HOSTS":    "true",
		"SSHGATE_EXTRA_OPTION_PATTERNS":    "-v\n-o ?Compression=(yes|no)\n",
		"SSHGATE_DEFAULT_TIMEOUT":          "15",
		"SSHGATE_MAX_TIMEOUT":              "90",
		"SSHGATE_CONNECT_TIMEOUT":          "3",
		"SSHGATE_MAX_OUTPUT_BYTES":         "4096",
		"SSHGATE_KILL_GRACE":               "750ms",
		"SSHGATE_MAX_CONCURRENT":           "4",
		"API_PORT":                         "9100",
		"API_KEYS":                         "k1,k2",
		"SSHGATE_LOG_LEVEL":                "warn",
		"SSHGATE_LOG_FORMAT":               "json",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/opt/ssh", cfg.SSH.Binary)
	assert.Equal(t, "ops", cfg.SSH.DefaultUser)
	assert.Equal(t, "/srv/keys", cfg.SSH.Dir)
	assert.Equal(t, []string{"/srv", "/home"}, cfg.SSH.AllowedDirRoots)
	assert.Equal(t, "no", cfg.SSH.StrictHostKeyChecking)
	assert.True(t, cfg.SSH.EphemeralKnownHosts)
	assert.Equal(t, []string{"-v", "-o ?Compression=(yes|no)"}, cfg.SSH.ExtraOptionPatterns)
	assert.Equal(t, 15, cfg.Limits.DefaultTimeoutSeconds)
	assert.Equal(t, 90, cfg.Limits.MaxTimeoutSeconds)
	assert.Equal(t, 3, cfg.Limits.ConnectTimeoutSeconds)
	assert.Equal(t, 4096, cfg.Limits.MaxOutputBytes)
	assert.Equal(t, 750*time.Millisecond, cfg.Limits.KillGrace)
	assert.Equal(t, 4, cfg.Server.MaxConcurrent)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestApplyEnvAddrWinsOverPort(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"API_PORT":     "9100",
		"SSHGATE_ADDR": "127.0.0.1:7000",
	})))
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"SSHGATE_MAX_TIMEOUT":           "soon",
		"SSHGATE_KILL_GRACE":            "2",
		"SSHGATE_EPHEMERAL_KNOWN_HOSTS": "sure",
		"API_PORT":                      "99999",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSHGATE_MAX_TIMEOUT")
	assert.Contains(t, err.Error(), "SSHGATE_KILL_GRACE")
	assert.Contains(t, err.Error(), "SSHGATE_EPHEMERAL_KNOWN_HOSTS")
	assert.Contains(t, err.Error(), "API_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty binary", func(c *Config) { c.SSH.Binary = "" }},
		{"bad host key mode", func(c *Config) { c.SSH.StrictHostKeyChecking = "maybe" }},
		{"zero max timeout", func(c *Config) { c.Limits.MaxTimeoutSeconds = 0 }},
		{"default above max", func(c *Config) { c.Limits.DefaultTimeoutSeconds = 500 }},
		{"zero connect timeout", func(c *Config) { c.Limits.ConnectTimeoutSeconds = 0 }},
		{"zero output cap", func(c *Config) { c.Limits.MaxOutputBytes = 0 }},
		{"zero kill grace", func(c *Config) { c.Limits.KillGrace = 0 }},
		{"zero concurrency", func(c *Config) { c.Server.MaxConcurrent = 0 }},
		{"zero request limit", func(c *Config) { c.Server.MaxRequestBytes = 0 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGatewayConversion(t *testing.T) {
	cfg := Default()
	cfg.SSH.DefaultUser = "deploy"
	cfg.Limits.KillGrace = time.Second

	gw := cfg.Gateway()
	assert.Equal(t, "ssh", gw.Binary)
	assert.Equal(t, "deploy", gw.DefaultUser)
	assert.Equal(t, 60, gw.DefaultTimeoutSeconds)
	assert.Equal(t, time.Second, gw.KillGrace)
	assert.Equal(t, gateway.DefaultExtraOptionPatterns, gw.ExtraOptionPatterns)
}

package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArgsGateway(t *testing.T, mutate ...func(*Config)) *Gateway {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Binary = "/usr/bin/ssh"
	cfg.SSHDir = t.TempDir()
	for _, m := range mutate {
		m(&cfg)
	}
	g, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	return g
}

func TestBuildArgsDefaults(t *testing.T) {
	g := newArgsGateway(t)

	inv, err := g.prepare(Request{Host: "web-1.internal", Command: "uptime"})
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, inv.timeout)
	assert.Equal(t, []string{
		"-p", "22",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "LogLevel=ERROR",
		"web-1.internal", "--", "uptime",
	}, g.buildArgs(inv))
}

func TestBuildArgsAllFields(t *testing.T) {
	g := newArgsGateway(t, func(c *Config) {
		c.EphemeralKnownHosts = true
	})
	cfgPath := filepath.Join(g.sshDir, "config")
	require.NoError(t, os.WriteFile(cfgPath, []byte("Host *\n  ServerAliveInterval 30\n"), 0o600))

	inv, err := g.prepare(Request{
		Host:                  "10.0.0.5",
		User:                  "ops",
		Port:                  2222,
		Command:               "systemctl status nginx",
		TimeoutSeconds:        5,
		StrictHostKeyChecking: HostKeyCheckingNo,
		ProxyJump:             "jump@bastion.example.com:2200",
		AllocateTTY:           true,
		ExtraOptions:          []string{"-oCompression=yes", "-4"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-p", "2222",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=5",
		"-o", "StrictHostKeyChecking=no",
		"-o", "LogLevel=ERROR",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "CheckHostIP=no",
		"-F", cfgPath,
		"-J", "jump@bastion.example.com:2200",
		"-t",
		"-o", "Compression=yes",
		"-4",
		"ops@10.0.0.5", "--", "systemctl status nginx",
	}, g.buildArgs(inv))
}

func TestPrepareTimeouts(t *testing.T) {
	tests := []struct {
		name        string
		cfg         func(*Config)
		seconds     int
		wantTimeout time.Duration
		wantConnect int
		wantErr     bool
	}{
		{name: "default", seconds: 0, wantTimeout: 60 * time.Second, wantConnect: 10},
		{name: "minimum", seconds: 1, wantTimeout: time.Second, wantConnect: 1},
		{name: "maximum", seconds: 120, wantTimeout: 120 * time.Second, wantConnect: 10},
		{name: "above maximum", seconds: 121, wantErr: true},
		{name: "negative", seconds: -1, wantErr: true},
		{
			name:        "default capped by maximum",
			cfg:         func(c *Config) { c.MaxTimeoutSeconds = 30 },
			seconds:     0,
			wantTimeout: 30 * time.Second,
			wantConnect: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*Config)
			if tt.cfg != nil {
				mutate = append(mutate, tt.cfg)
			}
			g := newArgsGateway(t, mutate...)

			inv, err := g.prepare(Request{Host: "h", Command: "true", TimeoutSeconds: tt.seconds})
			if tt.wantErr {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "timeout", verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, inv.timeout)
			assert.Equal(t, tt.wantConnect, inv.connectTimeout)
		})
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		host  string
		valid bool
	}{
		{"example.com", true},
		{"web_1", true},
		{"10.1.2.3", true},
		{"::1", true},
		{"2001:db8::42", true},
		{"my-alias", true},
		{"", false},
		{"-oProxyCommand=id", false},
		{"host name", false},
		{"host;id", false},
		{"$(id)", false},
		{"`id`", false},
		{"host|cat", false},
		{"user@host", false},
		{"[::1]", false},
		{"fe80::1%eth0", false},
		{"host.", false},
		{"host\x00", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := validateHost("host", tt.host)
			if tt.valid {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}
}

func TestValidateProxyJump(t *testing.T) {
	tests := []struct {
		jump  string
		valid bool
	}{
		{"bastion", true},
		{"ops@bastion:2222", true},
		{"a.example.com,b.example.com:22", true},
		{"[2001:db8::1]:22", true},
		{"bastion:ssh", false},
		{"bastion:0", false},
		{"-oProxyCommand=id", false},
		{"bad user@bastion", false},
		{"a,,b", false},
	}

	for _, tt := range tests {
		t.Run(tt.jump, func(t *testing.T) {
			err := validateProxyJump(tt.jump)
			if tt.valid {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}
}

func TestValidateUser(t *testing.T) {
	assert.Nil(t, validateUser("user", "deploy"))
	assert.Nil(t, validateUser("user", "svc_backup-01"))
	assert.Nil(t, validateUser("user", "machine$"))
	assert.NotNil(t, validateUser("user", "-l"))
	assert.NotNil(t, validateUser("user", "root@evil"))
	assert.NotNil(t, validateUser("user", "a b"))
	assert.NotNil(t, validateUser("user", "averyveryveryverylongusernamethatexceeds"))
}

func TestResolveSSHDir(t *testing.T) {
	root := t.TempDir()
	allowed := filepath.Join(root, "keys")
	require.NoError(t, os.Mkdir(allowed, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(allowed, "config"), []byte("Host x\n"), 0o600))

	g := newArgsGateway(t, func(c *Config) {
		c.AllowedSSHDirRoots = []string{root}
	})

	t.Run("default dir", func(t *testing.T) {
		dir, err := g.resolveSSHDir("")
		require.NoError(t, err)
		assert.Equal(t, g.sshDir, dir)
	})

	t.Run("allowed dir adds -F", func(t *testing.T) {
		inv, err := g.prepare(Request{Host: "h", Command: "true", SSHDir: allowed})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(allowed, "config"), inv.configPath)
	})

	rejected := []struct {
		name string
		dir  string
	}{
		{"outside roots", t.TempDir()},
		{"traversal", allowed + "/../.."},
		{"relative", "keys"},
		{"missing", filepath.Join(root, "missing")},
		{"control characters", allowed + "\n"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.resolveSSHDir(tt.dir)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "ssh_dir", verr.Field)
			assert.NotContains(t, verr.Error(), root, "error must not echo the path")
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{ExtraOptionPatterns: []string{"("}, SSHDir: t.TempDir()})
	assert.Error(t, err)

	_, err = New(Config{StrictHostKeyChecking: "sometimes", SSHDir: t.TempDir()})
	assert.Error(t, err)
}

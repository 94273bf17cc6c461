package gateway

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// invocation is a validated, fully defaulted request ready to be turned
// into an argument vector.
type invocation struct {
	host           string
	user           string
	port           int
	command        string
	timeout        time.Duration
	connectTimeout int
	hostKeyCheck   string
	configPath     string
	proxyJump      string
	tty            bool
	extra          []string
}

// prepare validates req and applies configured defaults.
func (g *Gateway) prepare(req Request) (*invocation, error) {
	if err := validateHost("host", req.Host); err != nil {
		return nil, err
	}
	if err := validateCommand(req.Command); err != nil {
		return nil, err
	}

	inv := &invocation{
		host:    req.Host,
		user:    req.User,
		port:    req.Port,
		command: req.Command,
		tty:     req.AllocateTTY,
	}

	if inv.user == "" {
		inv.user = g.cfg.DefaultUser
	}
	if inv.user != "" {
		if err := validateUser("user", inv.user); err != nil {
			return nil, err
		}
	}

	if inv.port == 0 {
		inv.port = DefaultPort
	}
	if err := validatePort("port", inv.port); err != nil {
		return nil, err
	}

	seconds := req.TimeoutSeconds
	if seconds == 0 {
		seconds = min(g.cfg.DefaultTimeoutSeconds, g.cfg.MaxTimeoutSeconds)
	}
	if seconds < 1 || seconds > g.cfg.MaxTimeoutSeconds {
		return nil, invalid("timeout", "must be between 1 and %d seconds", g.cfg.MaxTimeoutSeconds)
	}
	inv.timeout = time.Duration(seconds) * time.Second
	inv.connectTimeout = seconds
	if g.cfg.ConnectTimeoutSeconds > 0 {
		inv.connectTimeout = min(seconds, g.cfg.ConnectTimeoutSeconds)
	}

	inv.hostKeyCheck = req.StrictHostKeyChecking
	if inv.hostKeyCheck == "" {
		inv.hostKeyCheck = g.cfg.StrictHostKeyChecking
	}
	if !IsValidHostKeyChecking(inv.hostKeyCheck) {
		return nil, invalid("strict_host_key_checking", "must be one of: yes, no, accept-new")
	}

	if req.ProxyJump != "" {
		if err := validateProxyJump(req.ProxyJump); err != nil {
			return nil, err
		}
		inv.proxyJump = req.ProxyJump
	}

	extra, err := g.allow.expand(req.ExtraOptions)
	if err != nil {
		return nil, err
	}
	inv.extra = extra

	dir, err := g.resolveSSHDir(req.SSHDir)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		cfgPath := filepath.Join(dir, "config")
		if fi, err := os.Stat(cfgPath); err == nil && fi.Mode().IsRegular() {
			inv.configPath = cfgPath
		}
	}

	return inv, nil
}

// resolveSSHDir returns the ssh directory for a request. A requested
// directory must live under one of the allowed roots and exist; the
// configured directory is used as-is.
func (g *Gateway) resolveSSHDir(requested string) (string, error) {
	if requested == "" {
		return g.sshDir, nil
	}
	if len(requested) > MaxSSHDirLength {
		return "", invalid("ssh_dir", "exceeds %d characters", MaxSSHDirLength)
	}
	if hasControl(requested) {
		return "", invalid("ssh_dir", "contains control characters")
	}
	for _, part := range strings.Split(filepath.ToSlash(requested), "/") {
		if part == ".." {
			return "", invalid("ssh_dir", "must not contain '..'")
		}
	}

	dir, err := homedir.Expand(requested)
	if err != nil {
		return "", invalid("ssh_dir", "cannot be expanded")
	}
	if !filepath.IsAbs(dir) {
		return "", invalid("ssh_dir", "must be absolute or start with '~'")
	}
	dir = filepath.Clean(dir)

	if !g.underAllowedRoot(dir) {
		return "", invalid("ssh_dir", "is not under an allowed directory")
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", invalid("ssh_dir", "does not exist")
	}
	return dir, nil
}

func (g *Gateway) underAllowedRoot(dir string) bool {
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

// buildArgs builds the ssh argument vector. The remote command is always
// the last element, preceded by "--" so it can never be parsed as an option.
func (g *Gateway) buildArgs(inv *invocation) []string {
	args := []string{
		"-p", strconv.Itoa(inv.port),
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(inv.connectTimeout),
		"-o", "StrictHostKeyChecking=" + inv.hostKeyCheck,
		"-o", "LogLevel=ERROR",
	}

	if g.cfg.EphemeralKnownHosts {
		args = append(args,
			"-o", "UserKnownHostsFile=/dev/null",
			"-o", "CheckHostIP=no",
		)
	}
	if inv.configPath != "" {
		args = append(args, "-F", inv.configPath)
	}
	if inv.proxyJump != "" {
		args = append(args, "-J", inv.proxyJump)
	}
	if inv.tty {
		args = append(args, "-t")
	}
	args = append(args, inv.extra...)

	return append(args, inv.destination(), "--", inv.command)
}

func (inv *invocation) destination() string {
	if inv.user == "" {
		return inv.host
	}
	return inv.user + "@" + inv.host
}

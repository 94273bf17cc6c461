package gateway

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Limits on request fields.
const (
	MaxHostLength    = 253
	MaxUserLength    = 32
	MaxCommandLength = 8192
	MaxSSHDirLength  = 4096
	DefaultPort      = 22
)

// Strict host key checking modes accepted by the gateway.
const (
	HostKeyCheckingYes       = "yes"
	HostKeyCheckingNo        = "no"
	HostKeyCheckingAcceptNew = "accept-new"
)

var (
	hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_.-]*[A-Za-z0-9_])?$`)
	userPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*\$?$`)
)

// Request describes one remote command execution.
type Request struct {
	// Host is the target hostname, address, or ssh config alias.
	Host string

	// User defaults to Config.DefaultUser when empty.
	User string

	// Port defaults to 22 when zero.
	Port int

	// Command is passed to the remote shell as a single argument.
	Command string

	// TimeoutSeconds defaults to Config.DefaultTimeoutSeconds when zero.
	TimeoutSeconds int

	// StrictHostKeyChecking is one of yes, no, accept-new. Empty uses the
	// configured default.
	StrictHostKeyChecking string

	// ExtraOptions are passthrough ssh flags checked against the allow-list.
	ExtraOptions []string

	// ProxyJump is a comma-separated list of [user@]host[:port] hops.
	ProxyJump string

	// AllocateTTY requests a pseudo-terminal on the remote side.
	AllocateTTY bool

	// SSHDir overrides the configured ssh directory for this request.
	SSHDir string
}

// IsValidHostKeyChecking reports whether v is an accepted mode.
func IsValidHostKeyChecking(v string) bool {
	switch v {
	case HostKeyCheckingYes, HostKeyCheckingNo, HostKeyCheckingAcceptNew:
		return true
	}
	return false
}

func validateHost(field, host string) *ValidationError {
	if strings.TrimSpace(host) == "" {
		return invalid(field, "must not be empty")
	}
	if len(host) > MaxHostLength {
		return invalid(field, "exceeds %d characters", MaxHostLength)
	}
	if strings.HasPrefix(host, "-") {
		return invalid(field, "must not start with '-'")
	}
	if strings.Contains(host, ":") {
		if net.ParseIP(host) == nil {
			return invalid(field, "is not a valid IPv6 address")
		}
		return nil
	}
	if !hostnamePattern.MatchString(host) {
		return invalid(field, "contains characters not allowed in a hostname")
	}
	return nil
}

func validateUser(field, user string) *ValidationError {
	if len(user) > MaxUserLength {
		return invalid(field, "exceeds %d characters", MaxUserLength)
	}
	if !userPattern.MatchString(user) {
		return invalid(field, "contains characters not allowed in a user name")
	}
	return nil
}

func validatePort(field string, port int) *ValidationError {
	if port < 1 || port > 65535 {
		return invalid(field, "must be between 1 and 65535")
	}
	return nil
}

func validateCommand(cmd string) *ValidationError {
	if strings.TrimSpace(cmd) == "" {
		return invalid("command", "must not be empty")
	}
	if len(cmd) > MaxCommandLength {
		return invalid("command", "exceeds %d characters", MaxCommandLength)
	}
	if strings.IndexByte(cmd, 0) >= 0 {
		return invalid("command", "must not contain NUL bytes")
	}
	return nil
}

// validateProxyJump checks each [user@]host[:port] hop.
func validateProxyJump(jump string) *ValidationError {
	if len(jump) > MaxHostLength {
		return invalid("proxy_jump", "exceeds %d characters", MaxHostLength)
	}
	for _, hop := range strings.Split(jump, ",") {
		if user, rest, ok := strings.Cut(hop, "@"); ok {
			if err := validateUser("proxy_jump", user); err != nil {
				return err
			}
			hop = rest
		}

		host := hop
		if h, p, err := net.SplitHostPort(hop); err == nil {
			port, convErr := strconv.Atoi(p)
			if convErr != nil {
				return invalid("proxy_jump", "port must be numeric")
			}
			if err := validatePort("proxy_jump", port); err != nil {
				return err
			}
			host = h
		}
		if err := validateHost("proxy_jump", host); err != nil {
			return err
		}
	}
	return nil
}

package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kevinburke/ssh_config"
)

// SSHConfig is a parsed ssh client configuration file.
type SSHConfig struct {
	// Path is the location of the file that was parsed.
	Path string

	cfg *ssh_config.Config
}

// LoadSSHConfig parses <dir>/config. It returns nil and no error when the
// file does not exist.
func LoadSSHConfig(dir string) (*SSHConfig, error) {
	if dir == "" {
		return nil, nil
	}
	path := filepath.Join(dir, "config")

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		// The decoder error quotes file contents, which may include key paths.
		return nil, fmt.Errorf("failed to parse ssh config %s", path)
	}
	return &SSHConfig{Path: path, cfg: cfg}, nil
}

// HostName returns the HostName configured for alias, or alias itself.
func (c *SSHConfig) HostName(alias string) string {
	if c == nil {
		return alias
	}
	v, err := c.cfg.Get(alias, "HostName")
	if err != nil || v == "" {
		return alias
	}
	return v
}

// Hosts returns the explicit Host patterns defined in the file, sorted.
func (c *SSHConfig) Hosts() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var hosts []string
	for _, h := range c.cfg.Hosts {
		for _, p := range h.Patterns {
			s := p.String()
			if s == "*" || seen[s] {
				continue
			}
			seen[s] = true
			hosts = append(hosts, s)
		}
	}
	sort.Strings(hosts)
	return hosts
}

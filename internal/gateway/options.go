package gateway

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxExtraOptions     = 32
	maxExtraOptionBytes = 256
)

// DefaultExtraOptionPatterns is the allow-list used when none is configured.
// Each pattern must match a whole extra option entry.
var DefaultExtraOptionPatterns = []string{
	`-v{1,3}`,
	`-[46CqTx]`,
	`-o ?(ServerAliveInterval|ServerAliveCountMax|ConnectionAttempts|Compression|IdentitiesOnly|TCPKeepAlive|AddressFamily|PreferredAuthentications)=[A-Za-z0-9_.,:+-]+`,
}

// allowList validates passthrough ssh options against anchored patterns.
type allowList struct {
	patterns []*regexp.Regexp
}

func compileAllowList(patterns []string) (*allowList, error) {
	a := &allowList{}
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("invalid extra option pattern %q: %w", p, err)
		}
		a.patterns = append(a.patterns, re)
	}
	return a, nil
}

func (a *allowList) allowed(opt string) bool {
	for _, re := range a.patterns {
		if re.MatchString(opt) {
			return true
		}
	}
	return false
}

// expand validates opts and returns them as discrete argv tokens.
// "-o Key=Value" and "-oKey=Value" both become ["-o", "Key=Value"].
func (a *allowList) expand(opts []string) ([]string, error) {
	if len(opts) > maxExtraOptions {
		return nil, invalid("extra_opts", "at most %d entries are allowed", maxExtraOptions)
	}

	var args []string
	for i, opt := range opts {
		if len(opt) > maxExtraOptionBytes {
			return nil, invalid("extra_opts", "entry %d exceeds %d characters", i, maxExtraOptionBytes)
		}
		if !strings.HasPrefix(opt, "-") || hasControl(opt) {
			return nil, invalid("extra_opts", "entry %d is not an option flag", i)
		}
		if !a.allowed(opt) {
			return nil, invalid("extra_opts", "entry %d is not in the allow-list", i)
		}

		if strings.HasPrefix(opt, "-o") && len(opt) > 2 {
			args = append(args, "-o", strings.TrimSpace(opt[2:]))
			continue
		}
		args = append(args, opt)
	}
	return args, nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

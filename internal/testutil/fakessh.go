// Package testutil provides stand-ins for the ssh client used by tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeSSHScript skips every argument up to "--" and runs the next one
// with the local shell, which is what the remote side of ssh would do.
const fakeSSHScript = `#!/bin/sh
while [ "$#" -gt 0 ]; do
	if [ "$1" = "--" ]; then
		shift
		break
	fi
	shift
done
exec /bin/sh -c "$1"
`

// argvScript writes each argument to stdout followed by a NUL byte.
const argvScript = `#!/bin/sh
for a in "$@"; do
	printf '%s\0' "$a"
done
`

// FakeSSH writes an executable that behaves like ssh connecting to the
// local machine and returns its path.
func FakeSSH(t testing.TB) string {
	t.Helper()
	return writeScript(t, "ssh", fakeSSHScript)
}

// ArgvSSH writes an executable that prints the argument vector it received,
// NUL-separated, and returns its path.
func ArgvSSH(t testing.TB) string {
	t.Helper()
	return writeScript(t, "ssh-argv", argvScript)
}

// SkipIfNoShell skips tests that need a POSIX shell.
func SkipIfNoShell(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func writeScript(t testing.TB, name, body string) string {
	t.Helper()
	SkipIfNoShell(t)

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// WriteKeyPair generates an ed25519 key, writes the private half in
// OpenSSH format to dir/name and returns its path and the public key.
func WriteKeyPair(t testing.TB, dir, name string) (string, gossh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "sshgate test key")
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert public key: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write private key: %v", err)
	}
	if err := os.WriteFile(path+".pub", gossh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		t.Fatalf("failed to write public key: %v", err)
	}
	return path, sshPub
}

// SSHServer starts an in-process SSH server on a loopback port that accepts
// only the given key and runs each session's command with /bin/sh -c.
// It returns the port.
func SSHServer(t testing.TB, authorized gossh.PublicKey) int {
	t.Helper()
	SkipIfNoShell(t)

	srv := &ssh.Server{
		Handler: func(s ssh.Session) {
			cmd := exec.CommandContext(s.Context(), "/bin/sh", "-c", s.RawCommand())
			cmd.Stdout = s
			cmd.Stderr = s.Stderr()

			code := 0
			if err := cmd.Run(); err != nil {
				code = 255
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
					code = exitErr.ExitCode()
				}
			}
			_ = s.Exit(code)
		},
		PublicKeyHandler: func(ctx ssh.Context, key ssh.PublicKey) bool {
			return ssh.KeysEqual(key, authorized)
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	return ln.Addr().(*net.TCPAddr).Port
}

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/calvinalkan/bead/internal/testutil"
)

// CLI runs bead commands in tests against a throwaway git repository.
type CLI struct {
	t   *testing.T
	Dir string
}

// NewCLI creates a test CLI backed by a fresh repository with one commit
// on main.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{t: t, Dir: testutil.InitRepo(t)}
}

// Run executes the CLI with the given args and returns stdout, stderr, and
// exit code. Args should not include "bead" or "--cwd" - those are added
// automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"bead", "--cwd", r.Dir}, args...)
	code := Run(context.Background(), &outBuf, &errBuf, fullArgs)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns
// non-zero. Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// AssertContains fails the test when got does not contain want.
func AssertContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Errorf("output %q does not contain %q", got, want)
	}
}

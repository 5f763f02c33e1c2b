// Package testutil provides git-backed fixtures for integration tests.
package testutil

import (
	"os/exec"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// Git runs a git command in dir and fails the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	out, err := TryGit(dir, args...)
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}

	return out
}

// TryGit runs a git command in dir, returning combined output.
func TryGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()

	return strings.TrimSpace(string(out)), err
}

// InitRepo initializes a git repository with identity configured and one
// commit on branch main, and returns its path.
func InitRepo(t *testing.T) string {
	t.Helper()
	RequireGit(t)

	dir := t.TempDir()

	Git(t, dir, "init", "--quiet", "-b", "main")
	Git(t, dir, "config", "user.name", "bead test")
	Git(t, dir, "config", "user.email", "bead@test.invalid")
	Git(t, dir, "commit", "--allow-empty", "-m", "initial commit")

	return dir
}

// InitBareRemote creates a bare repository and wires it up as remote
// "origin" of repo.
func InitBareRemote(t *testing.T, repo string) string {
	t.Helper()

	remote := t.TempDir()

	Git(t, remote, "init", "--quiet", "--bare", "-b", "main")
	Git(t, repo, "remote", "add", "origin", remote)

	return remote
}

// CloneRepo clones src into a new directory with identity configured.
func CloneRepo(t *testing.T, src string) string {
	t.Helper()
	RequireGit(t)

	dir := t.TempDir()

	Git(t, dir, "clone", "--quiet", src, ".")
	Git(t, dir, "config", "user.name", "bead clone")
	Git(t, dir, "config", "user.email", "bead-clone@test.invalid")

	return dir
}

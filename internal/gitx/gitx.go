// Package gitx shells out to the user's git binary.
//
// All coordination in the sync protocol rides on git primitives (commits,
// branches, worktrees, push rejection), so the runner deliberately uses the
// same git the user uses rather than a reimplementation: worktree metadata,
// credential helpers and transport config behave identically to manual git.
package gitx

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Git runs git commands rooted at a working directory.
type Git struct {
	dir string
}

// New creates a runner rooted at dir.
func New(dir string) *Git {
	return &Git{dir: dir}
}

// Dir returns the runner's working directory.
func (g *Git) Dir() string {
	return g.dir
}

// At returns a runner for a different directory (e.g. the sync worktree).
func (g *Git) At(dir string) *Git {
	return &Git{dir: dir}
}

// Run executes git with the given arguments and returns trimmed stdout.
// On failure the returned error carries the command and its stderr.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr strings.Builder

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", &CommandError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether dir is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.Run(ctx, "rev-parse", "--is-inside-work-tree")

	return err == nil && out == "true"
}

// Root returns the repository top level.
func (g *Git) Root(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "--show-toplevel")
}

// CurrentBranch returns the checked-out branch name, or an error when HEAD
// is detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return "", fmt.Errorf("HEAD is detached: %w", err)
	}

	return out, nil
}

// RefExists reports whether a ref (e.g. refs/heads/bead-sync) resolves.
func (g *Git) RefExists(ctx context.Context, ref string) bool {
	_, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", ref)

	return err == nil
}

// RevParse resolves a revision to a commit hash.
func (g *Git) RevParse(ctx context.Context, rev string) (string, error) {
	return g.Run(ctx, "rev-parse", rev)
}

// AheadBehind counts commits on branch not on upstream and vice versa.
func (g *Git) AheadBehind(ctx context.Context, branch, upstream string) (ahead, behind int, err error) {
	out, err := g.Run(ctx, "rev-list", "--left-right", "--count", branch+"..."+upstream)
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}

	ahead, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}

	behind, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}

	return ahead, behind, nil
}

// HasRemote reports whether the named remote is configured.
func (g *Git) HasRemote(ctx context.Context, remote string) bool {
	_, err := g.Run(ctx, "remote", "get-url", remote)

	return err == nil
}

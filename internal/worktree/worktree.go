// Package worktree manages the secondary checkout bound to the sync branch.
//
// The worktree is a cache of the sync branch's committed state, never a
// source of truth. Everything here is a state machine over that checkout:
// detect what git thinks of it, and repair it back to healthy.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/bead/internal/gitx"
)

// State describes the worktree's relationship to the sync branch.
//
// The enum is closed on purpose: every state carries an explicit verdict on
// whether automatic repair is safe, instead of ad hoc conditionals at the
// call sites.
type State int

const (
	// StateHealthy means the directory exists, git recognizes it, and HEAD
	// is attached to the sync branch.
	StateHealthy State = iota

	// StateMissing means git has no record of the worktree and the
	// directory does not exist (e.g. a fresh clone). Creating it loses
	// nothing, so a normal sync repairs it implicitly.
	StateMissing

	// StatePrunable means git still records the worktree but its directory
	// was deleted externally. Recreation needs an explicit fix because the
	// deletion was an unexpected external change.
	StatePrunable

	// StateDetached means the checkout exists with a valid commit but HEAD
	// is not attached to the sync branch ref, typically left behind by an
	// older version of the tool. Commits made in this state silently fail
	// to advance the branch, which breaks push, so HEAD is re-attached
	// before any further commit.
	StateDetached

	// StateCorrupted means the directory is present but git metadata is
	// inconsistent. Recreation from the branch tip needs an explicit fix.
	StateCorrupted
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateMissing:
		return "missing"
	case StatePrunable:
		return "prunable"
	case StateDetached:
		return "detached"
	case StateCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AutoFixSafe reports whether repairing this state implicitly, without an
// explicit fix flag, is provably free of data loss.
func (s State) AutoFixSafe() bool {
	switch s {
	case StateHealthy, StateMissing, StateDetached:
		return true
	default:
		return false
	}
}

// ErrFixRequired reports a degraded state whose repair needs explicit
// operator opt-in.
var ErrFixRequired = errors.New("worktree repair requires an explicit fix")

// InitialCommitMessage is the message of the sync branch's root commit.
const InitialCommitMessage = "bead: initialize sync branch"

// Manager operates the sync worktree of one repository.
type Manager struct {
	repo   *gitx.Git // rooted at the primary repository
	dir    string    // absolute worktree path
	branch string
	remote string
}

// NewManager creates a manager for the worktree at dir tracking branch.
func NewManager(repo *gitx.Git, dir, branch, remote string) *Manager {
	return &Manager{repo: repo, dir: dir, branch: branch, remote: remote}
}

// Dir returns the absolute worktree path.
func (m *Manager) Dir() string { return m.dir }

// Branch returns the sync branch name.
func (m *Manager) Branch() string { return m.branch }

// Git returns a runner rooted inside the worktree.
func (m *Manager) Git() *gitx.Git { return m.repo.At(m.dir) }

// Detect determines the worktree's current state.
func (m *Manager) Detect(ctx context.Context) (State, error) {
	entry, registered, err := m.findEntry(ctx)
	if err != nil {
		return StateCorrupted, err
	}

	_, statErr := os.Stat(m.dir)
	dirExists := statErr == nil

	switch {
	case !registered && !dirExists:
		return StateMissing, nil
	case registered && !dirExists:
		return StatePrunable, nil
	case !registered && dirExists:
		return StateCorrupted, nil
	}

	// Registered and present: the checkout must answer basic questions.
	wt := m.Git()
	if _, err := wt.Run(ctx, "rev-parse", "--git-dir"); err != nil {
		return StateCorrupted, nil
	}

	if entry.detached || entry.branch != "refs/heads/"+m.branch {
		return StateDetached, nil
	}

	return StateHealthy, nil
}

// Repair transitions the worktree back to healthy.
//
// States whose repair is not provably safe are only touched when force is
// set; otherwise ErrFixRequired is returned with the state's name.
func (m *Manager) Repair(ctx context.Context, state State, force bool) error {
	if !state.AutoFixSafe() && !force {
		return fmt.Errorf("%w: worktree is %s", ErrFixRequired, state)
	}

	switch state {
	case StateHealthy:
		return nil
	case StateMissing:
		return m.Create(ctx)
	case StateDetached:
		return m.reattach(ctx, force)
	case StatePrunable:
		if _, err := m.repo.Run(ctx, "worktree", "prune"); err != nil {
			return fmt.Errorf("pruning stale worktree record: %w", err)
		}

		return m.Create(ctx)
	case StateCorrupted:
		// Remove whatever git and the filesystem still hold, then recreate
		// from the known-good branch tip.
		_, _ = m.repo.Run(ctx, "worktree", "remove", "--force", m.dir)
		_, _ = m.repo.Run(ctx, "worktree", "prune")

		if err := os.RemoveAll(m.dir); err != nil {
			return fmt.Errorf("removing corrupted worktree: %w", err)
		}

		return m.Create(ctx)
	default:
		return fmt.Errorf("unknown worktree state %s", state)
	}
}

// reattach moves a detached HEAD back onto the sync branch.
//
// Commits made while detached are reachable only through HEAD; a plain
// checkout of the branch would drop them from the worktree. When HEAD
// descends from the branch tip the branch is fast-forwarded to HEAD first,
// which is legal while the worktree is detached and keeps every commit.
// A HEAD that diverged from the branch cannot be kept losslessly, so that
// case needs force.
func (m *Manager) reattach(ctx context.Context, force bool) error {
	wt := m.Git()

	head, err := wt.RevParse(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolving detached HEAD: %w", err)
	}

	tip, err := wt.RevParse(ctx, m.branch)
	if err != nil {
		return fmt.Errorf("resolving branch %s: %w", m.branch, err)
	}

	if head != tip {
		_, ancestorErr := wt.Run(ctx, "merge-base", "--is-ancestor", m.branch, "HEAD")

		switch {
		case ancestorErr == nil:
			if _, err := wt.Run(ctx, "branch", "-f", m.branch, "HEAD"); err != nil {
				return fmt.Errorf("fast-forwarding %s to detached HEAD: %w", m.branch, err)
			}
		case !force:
			return fmt.Errorf("%w: detached HEAD diverged from %s", ErrFixRequired, m.branch)
		}
	}

	_, err = wt.Run(ctx, "checkout", m.branch)
	if err != nil {
		return fmt.Errorf("re-attaching worktree HEAD: %w", err)
	}

	return nil
}

// Create materializes the worktree, creating the sync branch first if it
// does not exist yet (from the remote tracking ref when available, as an
// orphan root commit otherwise).
func (m *Manager) Create(ctx context.Context) error {
	localRef := "refs/heads/" + m.branch

	if m.repo.RefExists(ctx, localRef) {
		_, err := m.repo.Run(ctx, "worktree", "add", m.dir, m.branch)
		if err != nil {
			return fmt.Errorf("adding worktree: %w", err)
		}

		return nil
	}

	remoteRef := "refs/remotes/" + m.remote + "/" + m.branch
	if m.repo.RefExists(ctx, remoteRef) {
		_, err := m.repo.Run(ctx, "branch", m.branch, remoteRef)
		if err != nil {
			return fmt.Errorf("creating sync branch from %s: %w", remoteRef, err)
		}

		_, err = m.repo.Run(ctx, "worktree", "add", m.dir, m.branch)
		if err != nil {
			return fmt.Errorf("adding worktree: %w", err)
		}

		return nil
	}

	return m.createOrphan(ctx)
}

// createOrphan starts the sync branch from scratch: record data never shares
// history with the primary branch.
func (m *Manager) createOrphan(ctx context.Context) error {
	_, err := m.repo.Run(ctx, "worktree", "add", "--detach", m.dir)
	if err != nil {
		return fmt.Errorf("adding detached worktree: %w", err)
	}

	wt := m.Git()

	_, err = wt.Run(ctx, "checkout", "--orphan", m.branch)
	if err != nil {
		return fmt.Errorf("creating orphan sync branch: %w", err)
	}

	// The orphan checkout keeps the primary branch's files staged; drop them.
	if out, _ := wt.Run(ctx, "ls-files"); out != "" {
		_, err = wt.Run(ctx, "rm", "-rf", "--quiet", ".")
		if err != nil {
			return fmt.Errorf("clearing orphan worktree: %w", err)
		}
	}

	// Stray unstaged files from the detached checkout are data-free too.
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("reading orphan worktree: %w", err)
	}

	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.dir, entry.Name())); err != nil {
			return fmt.Errorf("clearing orphan worktree: %w", err)
		}
	}

	_, err = wt.Run(ctx, "commit", "--allow-empty", "-m", InitialCommitMessage)
	if err != nil {
		return fmt.Errorf("committing sync branch root: %w", err)
	}

	return nil
}

// worktreeEntry is one block of `git worktree list --porcelain` output.
type worktreeEntry struct {
	path     string
	branch   string // full ref, empty when detached
	detached bool
}

// findEntry locates this worktree in git's records.
func (m *Manager) findEntry(ctx context.Context) (worktreeEntry, bool, error) {
	out, err := m.repo.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return worktreeEntry{}, false, fmt.Errorf("listing worktrees: %w", err)
	}

	want, err := filepath.EvalSymlinks(m.dir)
	if err != nil {
		// Directory may not exist; compare on the raw path.
		want = m.dir
	}

	var current worktreeEntry

	flush := func() (worktreeEntry, bool) {
		if current.path == m.dir || current.path == want {
			return current, true
		}

		return worktreeEntry{}, false
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current = worktreeEntry{path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			current.branch = strings.TrimPrefix(line, "branch ")
		case line == "detached":
			current.detached = true
		case line == "":
			if entry, ok := flush(); ok {
				return entry, true, nil
			}
		}
	}

	if entry, ok := flush(); ok {
		return entry, true, nil
	}

	return worktreeEntry{}, false, nil
}

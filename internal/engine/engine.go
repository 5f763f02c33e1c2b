// Package engine implements the sync protocol over the worktree: commit,
// fetch, merge, push.
//
// There is no lock anywhere in this protocol. Divergent concurrent writers
// are normal; git's push rejection is the only coordination primitive, every
// local step is safely re-runnable, and conflicting edits are settled by the
// merge/attic rules instead of being prevented.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/bead/internal/attic"
	"github.com/calvinalkan/bead/internal/config"
	"github.com/calvinalkan/bead/internal/gitx"
	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
	"github.com/calvinalkan/bead/internal/store"
	"github.com/calvinalkan/bead/internal/worktree"
)

// ErrNotARepo reports a project root that git does not recognize.
var ErrNotARepo = errors.New("not a git repository")

// relMappingPath is the mapping file path relative to the worktree root.
const relMappingPath = "mappings/ids.yml"

// Options selects which sync phases run.
type Options struct {
	Push       bool // push when ahead
	Pull       bool // fetch and merge when behind
	StatusOnly bool // report state without mutating anything
	Fix        bool // allow repair of prunable/corrupted worktrees
}

// Counts tallies record changes by kind.
type Counts struct {
	New     int
	Updated int
	Deleted int
}

// Total sums all counts.
func (c Counts) Total() int {
	return c.New + c.Updated + c.Deleted
}

// Summary is the structured result of one sync run.
type Summary struct {
	WorktreeState    worktree.State
	WorktreeRepaired bool

	Dirty     int    // uncommitted files found in the worktree
	Committed int    // files committed this run
	Sent      Counts // record changes committed this run
	Received  Counts // record changes merged in from the remote

	Conflicts int // divergent edits settled via the attic

	Ahead    int // commits not on the remote, measured before push
	Behind   int // commits not local, measured after fetch
	Pushed   bool
	Unpushed int // commits still not on the remote when the run ended

	NoOp bool // nothing committed, received, or pushed
}

// Engine runs the sync protocol for one repository.
type Engine struct {
	cfg   config.Config
	repo  *gitx.Git
	wt    *worktree.Manager
	store *store.Store
	attic *attic.Attic
	now   func() time.Time
}

// New wires an engine from resolved configuration.
func New(cfg config.Config) *Engine {
	repo := gitx.New(cfg.Root)

	return &Engine{
		cfg:   cfg,
		repo:  repo,
		wt:    worktree.NewManager(repo, cfg.WorktreeAbs, cfg.SyncBranch, cfg.Remote),
		store: store.New(cfg.IssuesDir()),
		attic: attic.New(cfg.AtticDir()),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the live record store.
func (e *Engine) Store() *store.Store { return e.store }

// Attic exposes the conflict archive.
func (e *Engine) Attic() *attic.Attic { return e.attic }

// Worktree exposes the worktree manager.
func (e *Engine) Worktree() *worktree.Manager { return e.wt }

// Config returns the engine's resolved configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Mapping loads the short-ID mapping from the worktree.
func (e *Engine) Mapping() (ids.Mapping, ids.ParseReport, error) {
	return ids.Load(e.cfg.MappingPath())
}

// Sync runs the protocol: heal the worktree, commit pending changes, fetch,
// merge (archiving losing versions), push.
//
// Commit and push are separate, independently observable phases: a crash
// between them leaves a consistent, re-syncable state, and the committed
// work shows up as "ahead" on the next run.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Summary, error) {
	if !e.repo.IsRepo(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, e.cfg.Root)
	}

	summary := &Summary{}

	err := e.healWorktree(ctx, opts, summary)
	if err != nil {
		return summary, err
	}

	err = e.commitPending(ctx, opts, summary)
	if err != nil {
		return summary, err
	}

	err = e.reconcileRemote(ctx, opts, summary)
	if err != nil {
		return summary, err
	}

	summary.NoOp = summary.Dirty == 0 &&
		summary.Committed == 0 &&
		summary.Received.Total() == 0 &&
		summary.Conflicts == 0 &&
		!summary.Pushed &&
		summary.Unpushed == 0 &&
		summary.Behind == 0

	return summary, nil
}

// healWorktree detects and, where provably safe, repairs the worktree
// before anything is committed. Detached HEAD in particular must be fixed
// here: commits on a detached HEAD do not advance the sync branch.
func (e *Engine) healWorktree(ctx context.Context, opts Options, summary *Summary) error {
	state, err := e.wt.Detect(ctx)
	if err != nil {
		return err
	}

	summary.WorktreeState = state

	if state == worktree.StateHealthy || opts.StatusOnly {
		return nil
	}

	err = e.wt.Repair(ctx, state, opts.Fix)
	if err != nil {
		return err
	}

	summary.WorktreeRepaired = true

	return nil
}

// commitPending stages and commits uncommitted issue/mapping changes.
func (e *Engine) commitPending(ctx context.Context, opts Options, summary *Summary) error {
	wt := e.wt.Git()

	status, err := wt.Run(ctx, "status", "--porcelain")
	if err != nil {
		if opts.StatusOnly {
			return nil // missing worktree in status mode; already reported
		}

		return fmt.Errorf("worktree status: %w", err)
	}

	if status == "" {
		return nil
	}

	files := strings.Split(status, "\n")
	summary.Dirty = len(files)

	if opts.StatusOnly {
		return nil
	}

	summary.Sent = countRecordChanges(files)

	_, err = wt.Run(ctx, "add", "-A")
	if err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}

	message := FormatCommitMessage("update records", len(files))

	_, err = wt.Run(ctx, "commit", "-m", message)
	if err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}

	summary.Committed = len(files)

	return nil
}

// reconcileRemote fetches, merges when behind, and pushes when ahead.
func (e *Engine) reconcileRemote(ctx context.Context, opts Options, summary *Summary) error {
	if !e.repo.HasRemote(ctx, e.cfg.Remote) {
		return nil // local-only repository; commit phase is the whole sync
	}

	wt := e.wt.Git()
	if opts.StatusOnly {
		wt = e.repo
	}

	_, err := wt.Run(ctx, "fetch", e.cfg.Remote, e.cfg.SyncBranch)
	if err != nil {
		// A sync branch the remote has never seen is not a failure.
		if !remoteRefMissing(err) {
			return gitx.NewSyncError("fetch", err)
		}
	}

	branch := e.cfg.SyncBranch
	remoteRef := e.cfg.Remote + "/" + branch

	if !e.repo.RefExists(ctx, "refs/remotes/"+remoteRef) {
		ahead, countErr := e.repo.Run(ctx, "rev-list", "--count", branch)
		if countErr == nil {
			summary.Ahead, _ = strconv.Atoi(ahead)
		}

		return e.push(ctx, opts, summary)
	}

	summary.Ahead, summary.Behind, err = e.repo.AheadBehind(ctx, branch, remoteRef)
	if err != nil {
		return err
	}

	if summary.Behind > 0 && opts.Pull && !opts.StatusOnly {
		err = e.merge(ctx, remoteRef, summary)
		if err != nil {
			return err
		}

		summary.Ahead, summary.Behind, err = e.repo.AheadBehind(ctx, branch, remoteRef)
		if err != nil {
			return err
		}
	}

	return e.push(ctx, opts, summary)
}

func (e *Engine) push(ctx context.Context, opts Options, summary *Summary) error {
	if summary.Ahead == 0 {
		return nil
	}

	if !opts.Push || opts.StatusOnly {
		summary.Unpushed = summary.Ahead

		return nil
	}

	wt := e.wt.Git()

	_, err := wt.Run(ctx, "push", e.cfg.Remote, e.cfg.SyncBranch)
	if err != nil {
		summary.Unpushed = summary.Ahead

		return gitx.NewSyncError("push", err)
	}

	summary.Pushed = true
	summary.Unpushed = 0

	return nil
}

// merge integrates the remote sync branch. Divergent issue edits keep the
// local version as current and move the remote version into the attic;
// mapping conflicts are merged key-by-key under the configured policy.
// Data is never discarded.
func (e *Engine) merge(ctx context.Context, remoteRef string, summary *Summary) error {
	wt := e.wt.Git()

	preHead, err := wt.RevParse(ctx, "HEAD")
	if err != nil {
		return err
	}

	_, mergeErr := wt.Run(ctx, "merge", "--no-edit", remoteRef)
	if mergeErr != nil {
		conflicted, listErr := wt.Run(ctx, "diff", "--name-only", "--diff-filter=U")
		if listErr != nil || conflicted == "" {
			_, _ = wt.Run(ctx, "merge", "--abort")

			return gitx.NewSyncError("merge", mergeErr)
		}

		for _, path := range strings.Split(conflicted, "\n") {
			err = e.resolveConflict(ctx, path, summary)
			if err != nil {
				_, _ = wt.Run(ctx, "merge", "--abort")

				return err
			}
		}

		// Attic entries written during resolution ride along in the
		// merge commit.
		_, err = wt.Run(ctx, "add", "-A")
		if err != nil {
			return fmt.Errorf("staging merge resolution: %w", err)
		}

		_, err = wt.Run(ctx, "commit", "--no-edit")
		if err != nil {
			return fmt.Errorf("concluding merge: %w", err)
		}
	}

	received, err := wt.Run(ctx, "diff", "--name-status", preHead, "HEAD", "--", "issues")
	if err != nil {
		return err
	}

	summary.Received = countDiffChanges(received)

	return nil
}

// resolveConflict settles one conflicted path inside an in-progress merge.
func (e *Engine) resolveConflict(ctx context.Context, path string, summary *Summary) error {
	wt := e.wt.Git()

	if path == relMappingPath {
		return e.mergeMappingStages(ctx, summary)
	}

	_, localErr := wt.Run(ctx, "show", ":2:"+path)
	remote, remoteErr := wt.Run(ctx, "show", ":3:"+path)

	keep := "--ours"

	switch {
	case localErr != nil && remoteErr != nil:
		return fmt.Errorf("conflicted path %s has no readable stages", path)
	case localErr != nil:
		// Deleted locally, edited remotely: the remote edit survives and
		// nothing is lost, so there is nothing to archive.
		keep = "--theirs"
	default:
		// Local stays current; the remote version goes to the attic.
		e.archiveLoser(path, remote)
	}

	_, err := wt.Run(ctx, "checkout", keep, "--", path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	_, err = wt.Run(ctx, "add", "--", path)
	if err != nil {
		return fmt.Errorf("staging resolution of %s: %w", path, err)
	}

	summary.Conflicts++

	return nil
}

// archiveLoser stores the losing side of a divergent issue edit. Content
// that does not parse as an issue is still reachable through the merge
// commit history, so parse failures here are not fatal.
func (e *Engine) archiveLoser(path, content string) {
	if !strings.HasPrefix(path, "issues/") || content == "" {
		return
	}

	loser, err := issue.Parse(path, []byte(content))
	if err != nil {
		return
	}

	_, _ = e.attic.Archive(loser, e.now())
}

// mergeMappingStages merges a conflicted ids.yml from its index stages
// under the configured policy and stages the result.
func (e *Engine) mergeMappingStages(ctx context.Context, summary *Summary) error {
	wt := e.wt.Git()

	localContent, _ := wt.Run(ctx, "show", ":2:"+relMappingPath)
	remoteContent, _ := wt.Run(ctx, "show", ":3:"+relMappingPath)

	local, _, err := ids.Parse(relMappingPath, []byte(localContent))
	if err != nil {
		return err
	}

	remote, _, err := ids.Parse(relMappingPath, []byte(remoteContent))
	if err != nil {
		return err
	}

	merged := ids.Merge(local, remote, e.cfg.Policy())

	err = ids.Save(e.cfg.MappingPath(), merged)
	if err != nil {
		return err
	}

	_, err = wt.Run(ctx, "add", "--", relMappingPath)
	if err != nil {
		return fmt.Errorf("staging merged mapping: %w", err)
	}

	summary.Conflicts++

	return nil
}

// countRecordChanges tallies `git status --porcelain` lines for record files.
func countRecordChanges(lines []string) Counts {
	var counts Counts

	for _, line := range lines {
		if len(line) < 4 || !isRecordPath(line[3:]) {
			continue
		}

		switch {
		case strings.HasPrefix(line, "??") || line[0] == 'A':
			counts.New++
		case line[0] == 'D' || line[1] == 'D':
			counts.Deleted++
		default:
			counts.Updated++
		}
	}

	return counts
}

// countDiffChanges tallies `git diff --name-status` lines for record files.
func countDiffChanges(out string) Counts {
	var counts Counts

	if out == "" {
		return counts
	}

	for _, line := range strings.Split(out, "\n") {
		status, path, found := strings.Cut(line, "\t")
		if !found || !isRecordPath(path) {
			continue
		}

		switch {
		case strings.HasPrefix(status, "A"):
			counts.New++
		case strings.HasPrefix(status, "D"):
			counts.Deleted++
		default:
			counts.Updated++
		}
	}

	return counts
}

func isRecordPath(path string) bool {
	path = strings.TrimSpace(path)

	return strings.HasPrefix(path, "issues/") && strings.HasSuffix(path, ".md")
}

// remoteRefMissing matches fetch failures caused by the sync branch not
// existing on the remote yet.
func remoteRefMissing(err error) bool {
	if err == nil {
		return false
	}

	text := strings.ToLower(err.Error())

	return strings.Contains(text, "couldn't find remote ref") ||
		strings.Contains(text, "no such ref was fetched")
}

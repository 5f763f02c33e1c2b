package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/bead/internal/meta"
	"github.com/calvinalkan/bead/internal/worktree"
)

// InitResult reports what Init did.
type InitResult struct {
	Created          bool // false when the layout already existed
	WorktreeRepaired bool
	GitignoreUpdated bool
}

// Init bootstraps the sync layout: the worktree on its orphan branch, the
// directory skeleton, the schema marker, and a .gitignore entry so the
// worktree never leaks into the project's own history. Re-running Init on
// an initialized repository is a no-op.
func (e *Engine) Init(ctx context.Context, fix bool) (*InitResult, error) {
	if !e.repo.IsRepo(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, e.cfg.Root)
	}

	result := &InitResult{}

	state, err := e.wt.Detect(ctx)
	if err != nil {
		return nil, err
	}

	if state != worktree.StateHealthy {
		err = e.wt.Repair(ctx, state, fix)
		if err != nil {
			return nil, err
		}

		result.WorktreeRepaired = true
	}

	created, err := e.ensureLayout(ctx)
	if err != nil {
		return nil, err
	}

	result.Created = created

	updated, err := ensureGitignoreEntry(e.cfg.Root, e.cfg.WorktreeDir)
	if err != nil {
		return nil, err
	}

	result.GitignoreUpdated = updated

	return result, nil
}

// ensureLayout creates the directory skeleton and schema marker, committing
// them when anything was missing.
func (e *Engine) ensureLayout(ctx context.Context) (bool, error) {
	created := false

	for _, dir := range []string{e.cfg.IssuesDir(), filepath.Dir(e.cfg.MappingPath()), e.cfg.AtticDir()} {
		if _, err := os.Stat(dir); err == nil {
			continue
		}

		err := os.MkdirAll(dir, 0o750)
		if err != nil {
			return false, fmt.Errorf("creating layout: %w", err)
		}

		created = true
	}

	m, err := meta.Read(e.cfg.MetaPath())
	if err != nil {
		return false, err
	}

	if m.Schema == 0 {
		err = meta.Write(e.cfg.MetaPath(), meta.Meta{Schema: meta.CurrentSchema})
		if err != nil {
			return false, err
		}

		created = true
	}

	if !created {
		return false, nil
	}

	wt := e.wt.Git()

	_, err = wt.Run(ctx, "add", "-A")
	if err != nil {
		return false, fmt.Errorf("staging layout: %w", err)
	}

	status, err := wt.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}

	if status != "" {
		_, err = wt.Run(ctx, "commit", "-m", "bead: initialize layout")
		if err != nil {
			return false, fmt.Errorf("committing layout: %w", err)
		}
	}

	return true, nil
}

// ensureGitignoreEntry appends the worktree directory to the project's
// .gitignore unless an entry for it already exists.
func ensureGitignoreEntry(root, worktreeDir string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	entry := worktreeDir + "/"

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == entry || trimmed == worktreeDir {
			return false, nil
		}
	}

	text := string(content)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	text += entry + "\n"

	err = atomic.WriteFile(path, strings.NewReader(text))
	if err != nil {
		return false, fmt.Errorf("updating .gitignore: %w", err)
	}

	return true, nil
}

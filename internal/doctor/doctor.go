// Package doctor diagnoses and optionally repairs a bead repository.
//
// Every check reports independently; a broken mapping never hides a broken
// worktree. Fixes run only for checks that declare one, and only when the
// caller asked for them.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calvinalkan/bead/internal/config"
	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
	"github.com/calvinalkan/bead/internal/meta"
	"github.com/calvinalkan/bead/internal/worktree"
)

// Status of a single check.
type Status string

// Check outcomes, ordered by severity.
const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// Result is the outcome of one check.
type Result struct {
	Check      string
	Status     Status
	Message    string
	Suggestion string // how to resolve, empty when Status is ok
	Fixed      bool   // a fix ran and succeeded
}

// check pairs a diagnostic with its optional repair.
type check struct {
	name string
	run  func(d *Doctor, ctx context.Context) Result
	fix  func(d *Doctor, ctx context.Context) error
}

// Doctor runs the check registry against one repository.
type Doctor struct {
	eng *engine.Engine
}

// New returns a doctor for the engine's repository.
func New(eng *engine.Engine) *Doctor {
	return &Doctor{eng: eng}
}

// checks is the registry, in the order results are reported.
var checks = []check{
	{name: "worktree", run: (*Doctor).checkWorktree, fix: (*Doctor).fixWorktree},
	{name: "schema", run: (*Doctor).checkSchema, fix: (*Doctor).fixSchema},
	{name: "records", run: (*Doctor).checkRecords},
	{name: "duplicate-ids", run: (*Doctor).checkDuplicateIDs},
	{name: "dependencies", run: (*Doctor).checkDependencies},
	{name: "mapping", run: (*Doctor).checkMapping, fix: (*Doctor).fixMapping},
	{name: "data-location", run: (*Doctor).checkDataLocation, fix: (*Doctor).fixDataLocation},
	{name: "sync", run: (*Doctor).checkSync},
}

// Run executes every check. With fix set, checks that fail and declare a
// repair are re-run after it; the result reflects the post-fix state.
func (d *Doctor) Run(ctx context.Context, fix bool) []Result {
	results := make([]Result, 0, len(checks))

	for _, c := range checks {
		result := c.run(d, ctx)

		if result.Status != StatusOK && fix && c.fix != nil {
			err := c.fix(d, ctx)
			if err != nil {
				result.Suggestion = fmt.Sprintf("fix failed: %v", err)
			} else {
				result = c.run(d, ctx)
				result.Fixed = true
			}
		}

		result.Check = c.name
		results = append(results, result)
	}

	return results
}

// Healthy reports whether no result is an error.
func Healthy(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusError {
			return false
		}
	}

	return true
}

func ok(message string) Result {
	return Result{Status: StatusOK, Message: message}
}

func warn(message, suggestion string) Result {
	return Result{Status: StatusWarn, Message: message, Suggestion: suggestion}
}

func fail(message, suggestion string) Result {
	return Result{Status: StatusError, Message: message, Suggestion: suggestion}
}

func (d *Doctor) checkWorktree(ctx context.Context) Result {
	state, err := d.eng.Worktree().Detect(ctx)
	if err != nil {
		return fail(fmt.Sprintf("cannot inspect worktree: %v", err), "check that the repository is intact")
	}

	if state == worktree.StateHealthy {
		return ok("worktree is healthy")
	}

	suggestion := "run: bead doctor --fix"
	if !state.AutoFixSafe() {
		suggestion = "run: bead doctor --fix (repair of a " + state.String() + " worktree discards its uncommitted files)"
	}

	return fail("worktree is "+state.String(), suggestion)
}

func (d *Doctor) fixWorktree(ctx context.Context) error {
	state, err := d.eng.Worktree().Detect(ctx)
	if err != nil {
		return err
	}

	if state == worktree.StateHealthy {
		return nil
	}

	return d.eng.Worktree().Repair(ctx, state, true)
}

func (d *Doctor) checkSchema(_ context.Context) Result {
	m, err := meta.Read(d.eng.Config().MetaPath())
	if err != nil {
		return fail(fmt.Sprintf("cannot read schema marker: %v", err), "run: bead doctor --fix")
	}

	switch {
	case m.Schema == meta.CurrentSchema:
		return ok(fmt.Sprintf("schema version %d", m.Schema))
	case m.Schema == 0:
		return warn("schema marker missing", "run: bead doctor --fix")
	case m.Schema > meta.CurrentSchema:
		return fail(
			fmt.Sprintf("schema version %d is newer than this binary understands (%d)", m.Schema, meta.CurrentSchema),
			"upgrade bead",
		)
	default:
		return warn(fmt.Sprintf("schema version %d is outdated", m.Schema), "run: bead doctor --fix")
	}
}

func (d *Doctor) fixSchema(_ context.Context) error {
	m, err := meta.Read(d.eng.Config().MetaPath())
	if err != nil {
		return err
	}

	if m.Schema > meta.CurrentSchema {
		return fmt.Errorf("cannot downgrade schema %d", m.Schema)
	}

	return meta.Write(d.eng.Config().MetaPath(), meta.Meta{Schema: meta.CurrentSchema})
}

func (d *Doctor) checkRecords(_ context.Context) Result {
	issues, skipped, err := d.eng.Store().List()
	if err != nil {
		return fail(fmt.Sprintf("cannot list records: %v", err), "check the worktree")
	}

	if len(skipped) > 0 {
		names := make([]string, 0, len(skipped))
		for _, s := range skipped {
			names = append(names, filepath.Base(s.Path))
		}

		return fail(
			fmt.Sprintf("%d record(s) failed to parse: %s", len(skipped), strings.Join(names, ", ")),
			"inspect the files; conflict markers must be resolved by hand",
		)
	}

	for _, is := range issues {
		if err := is.Validate(); err != nil {
			return fail(fmt.Sprintf("record %s is invalid: %v", is.ID, err), "edit the record file")
		}
	}

	return ok(fmt.Sprintf("%d record(s) well-formed", len(issues)))
}

// checkDuplicateIDs scans record files directly. The store names files
// after their internal ID, so the hazard is a file whose header claims a
// different ID than its name, which would let one ID exist twice.
func (d *Doctor) checkDuplicateIDs(_ context.Context) Result {
	entries, err := os.ReadDir(d.eng.Config().IssuesDir())
	if err != nil && !os.IsNotExist(err) {
		return fail(fmt.Sprintf("cannot read record directory: %v", err), "check the worktree")
	}

	var mismatched []string

	seen := map[string]string{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(d.eng.Config().IssuesDir(), entry.Name())

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			continue
		}

		is, parseErr := issue.Parse(path, content)
		if parseErr != nil {
			continue // checkRecords reports these
		}

		if stem := strings.TrimSuffix(entry.Name(), ".md"); stem != is.ID {
			mismatched = append(mismatched, entry.Name()+" claims id "+is.ID)
		}

		if other, dup := seen[is.ID]; dup {
			mismatched = append(mismatched, "id "+is.ID+" appears in "+other+" and "+entry.Name())
		}

		seen[is.ID] = entry.Name()
	}

	if len(mismatched) > 0 {
		sort.Strings(mismatched)

		return fail(
			"record file names and internal ids disagree: "+strings.Join(mismatched, "; "),
			"rename or re-id the files so each file is named <id>.md",
		)
	}

	return ok("internal ids are unique and match their file names")
}

func (d *Doctor) checkDependencies(_ context.Context) Result {
	issues, _, err := d.eng.Store().List()
	if err != nil {
		return fail(fmt.Sprintf("cannot list records: %v", err), "check the worktree")
	}

	known := make(map[string]bool, len(issues))
	for _, is := range issues {
		known[is.ID] = true
	}

	var dangling []string

	for _, is := range issues {
		if is.Parent != "" && !known[is.Parent] {
			dangling = append(dangling, is.ID+" -> parent "+is.Parent)
		}

		for _, dep := range is.Dependencies {
			if !known[dep.Target] {
				dangling = append(dangling, is.ID+" -> "+dep.Relation+" "+dep.Target)
			}
		}
	}

	if len(dangling) > 0 {
		return warn(
			fmt.Sprintf("%d reference(s) point at records that do not exist: %s", len(dangling), strings.Join(dangling, "; ")),
			"the target may live on an unsynced writer; sync first, then edit the records if it persists",
		)
	}

	return ok("all dependency and parent references resolve")
}

func (d *Doctor) checkMapping(_ context.Context) Result {
	mapping, report, err := ids.Load(d.eng.Config().MappingPath())
	if err != nil {
		return fail(fmt.Sprintf("mapping file unreadable: %v", err), "resolve conflict markers by hand, then rerun")
	}

	if !report.Clean() {
		return warn(
			fmt.Sprintf("mapping file has duplicate keys: %s", strings.Join(report.DuplicateKeys, ", ")),
			"run: bead doctor --fix",
		)
	}

	issues, _, err := d.eng.Store().List()
	if err != nil {
		return fail(fmt.Sprintf("cannot list records: %v", err), "check the worktree")
	}

	known := make(map[string]bool, len(issues))
	for _, is := range issues {
		known[is.ID] = true
	}

	var stale []string

	for short, internal := range mapping {
		if !known[internal] {
			stale = append(stale, short)
		}
	}

	if len(stale) > 0 {
		sort.Strings(stale)

		return warn(
			fmt.Sprintf("%d short id(s) map to records that do not exist: %s", len(stale), strings.Join(stale, ", ")),
			"the records may live on an unsynced writer; stale entries are harmless",
		)
	}

	return ok(fmt.Sprintf("%d short id mapping(s) intact", len(mapping)))
}

// fixMapping rewrites the mapping file, collapsing duplicate keys to their
// last occurrence. Stale entries are left alone: removing them would free
// short ids for reuse while another writer may still hold the records.
func (d *Doctor) fixMapping(_ context.Context) error {
	mapping, _, err := ids.Load(d.eng.Config().MappingPath())
	if err != nil {
		return err
	}

	return ids.Save(d.eng.Config().MappingPath(), mapping)
}

// checkDataLocation finds record files that ended up outside the worktree,
// typically after a tool wrote to <root>/issues instead of the sync dir, or
// after worktree_dir was changed and records stayed at the old default
// location.
func (d *Doctor) checkDataLocation(_ context.Context) Result {
	misplaced, err := d.misplacedRecords()
	if err != nil {
		return fail(fmt.Sprintf("cannot scan for misplaced records: %v", err), "")
	}

	if len(misplaced) == 0 {
		return ok("all records live in the sync worktree")
	}

	return fail(
		fmt.Sprintf("%d record(s) outside the sync worktree", len(misplaced)),
		"run: bead doctor --fix (moves them into the worktree and commits)",
	)
}

// fixDataLocation moves misplaced records into the worktree and commits
// them on the sync branch, so the migration shows up as pending work on
// the next sync.
func (d *Doctor) fixDataLocation(ctx context.Context) error {
	misplaced, err := d.misplacedRecords()
	if err != nil {
		return err
	}

	if len(misplaced) == 0 {
		return nil
	}

	issuesDir := d.eng.Config().IssuesDir()

	err = os.MkdirAll(issuesDir, 0o750)
	if err != nil {
		return err
	}

	for _, path := range misplaced {
		dest := filepath.Join(issuesDir, filepath.Base(path))

		if _, statErr := os.Stat(dest); statErr == nil {
			return fmt.Errorf("cannot migrate %s: %s already exists in the worktree", path, filepath.Base(path))
		}

		err = os.Rename(path, dest)
		if err != nil {
			return fmt.Errorf("migrating %s: %w", path, err)
		}
	}

	for _, stray := range d.strayDirs() {
		if empty, _ := dirEmpty(stray); empty {
			_ = os.Remove(stray)
			// An emptied issues/ dir inside an abandoned default worktree
			// location leaves the shell behind; drop that too.
			if parent := filepath.Dir(stray); parent != d.eng.Config().Root {
				if empty, _ := dirEmpty(parent); empty {
					_ = os.Remove(parent)
				}
			}
		}
	}

	wt := d.eng.Worktree().Git()

	_, err = wt.Run(ctx, "add", "-A")
	if err != nil {
		return err
	}

	_, err = wt.Run(ctx, "commit", "-m", fmt.Sprintf("bead: migrate %d misplaced record(s)", len(misplaced)))
	if err != nil {
		return err
	}

	return nil
}

// strayDirs lists directories outside the configured worktree that record
// files commonly end up in: the repository-level issues/ directory, and the
// default worktree location when the configuration points somewhere else.
func (d *Doctor) strayDirs() []string {
	cfg := d.eng.Config()
	dirs := []string{filepath.Join(cfg.Root, "issues")}

	if defaultDir := config.Default().WorktreeDir; cfg.WorktreeDir != defaultDir {
		dirs = append(dirs, filepath.Join(cfg.Root, defaultDir, "issues"))
	}

	return dirs
}

// misplacedRecords lists parseable record files found in any stray
// directory.
func (d *Doctor) misplacedRecords() ([]string, error) {
	var misplaced []string

	for _, stray := range d.strayDirs() {
		entries, err := os.ReadDir(stray)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}

			path := filepath.Join(stray, entry.Name())

			content, readErr := os.ReadFile(path)
			if readErr != nil {
				continue
			}

			if _, parseErr := issue.Parse(path, content); parseErr != nil {
				continue // not one of ours
			}

			misplaced = append(misplaced, path)
		}
	}

	sort.Strings(misplaced)

	return misplaced, nil
}

func (d *Doctor) checkSync(ctx context.Context) Result {
	summary, err := d.eng.Sync(ctx, engine.Options{StatusOnly: true})
	if err != nil {
		return fail(fmt.Sprintf("cannot determine sync state: %v", err), "")
	}

	var pending []string

	if summary.Dirty > 0 {
		pending = append(pending, fmt.Sprintf("%d uncommitted file(s)", summary.Dirty))
	}

	if summary.Ahead > 0 {
		detail := fmt.Sprintf("%d unpushed commit(s)", summary.Ahead)

		if files := d.unpushedRecordFiles(ctx); files > 0 {
			detail = fmt.Sprintf("%d unpushed commit(s) carrying %d record file(s)", summary.Ahead, files)
		}

		pending = append(pending, detail)
	}

	if summary.Behind > 0 {
		pending = append(pending, fmt.Sprintf("%d unmerged remote commit(s)", summary.Behind))
	}

	if len(pending) > 0 {
		return warn(strings.Join(pending, ", "), "run: bead sync")
	}

	return ok("in sync")
}

// unpushedRecordFiles sums the file counts of unpushed commits whose
// subjects parse as sync commits. Commits with foreign subjects (manual
// edits on the sync branch) contribute nothing.
func (d *Doctor) unpushedRecordFiles(ctx context.Context) int {
	wt := d.eng.Worktree()
	upstream := d.eng.Config().Remote + "/" + wt.Branch()

	out, err := wt.Git().Run(ctx, "log", "--format=%s", upstream+".."+wt.Branch())
	if err != nil {
		return 0
	}

	total := 0

	for _, subject := range strings.Split(strings.TrimSpace(out), "\n") {
		if _, files, parsed := engine.ParseCommitMessage(subject); parsed {
			total += files
		}
	}

	return total
}

func dirEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}

	return len(entries) == 0, nil
}

package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bead/internal/config"
	"github.com/calvinalkan/bead/internal/engine"
	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
	"github.com/calvinalkan/bead/internal/testutil"
)

func newDoctor(t *testing.T) (*Doctor, *engine.Engine) {
	t.Helper()

	root := testutil.InitRepo(t)

	cfg, err := config.Load(root, "")
	require.NoError(t, err)

	eng := engine.New(cfg)

	_, err = eng.Init(context.Background(), false)
	require.NoError(t, err)

	return New(eng), eng
}

func newIssue(title string) *issue.Issue {
	return &issue.Issue{
		ID:       ids.NewInternalID(),
		Kind:     "task",
		Title:    title,
		Status:   issue.StatusOpen,
		Priority: issue.DefaultPriority,
	}
}

func resultFor(t *testing.T, results []Result, name string) Result {
	t.Helper()

	for _, r := range results {
		if r.Check == name {
			return r
		}
	}

	t.Fatalf("no result for check %q", name)

	return Result{}
}

func TestHealthyRepositoryPassesAllChecks(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	require.NoError(t, eng.Store().Create(newIssue("baseline")))

	_, err := eng.Sync(context.Background(), engine.Options{})
	require.NoError(t, err)

	results := doc.Run(context.Background(), false)

	assert.True(t, Healthy(results))

	for _, r := range results {
		assert.Equal(t, StatusOK, r.Status, r.Check)
	}
}

func TestUncommittedChangesWarnOnSync(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	require.NoError(t, eng.Store().Create(newIssue("not yet synced")))

	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "sync")
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Suggestion, "bead sync")

	// Warnings do not make the repository unhealthy.
	assert.True(t, Healthy(results))
}

func TestUnpushedCommitsReportRecordFileCounts(t *testing.T) {
	t.Parallel()

	root := testutil.InitRepo(t)
	testutil.InitBareRemote(t, root)

	cfg, err := config.Load(root, "")
	require.NoError(t, err)

	eng := engine.New(cfg)
	_, err = eng.Init(context.Background(), false)
	require.NoError(t, err)

	require.NoError(t, eng.Store().Create(newIssue("published baseline")))

	_, err = eng.Sync(context.Background(), engine.Options{Push: true, Pull: true})
	require.NoError(t, err)

	// Commit two more records locally without pushing. The sync check
	// should decode their commit subjects and surface the file count.
	require.NoError(t, eng.Store().Create(newIssue("held back one")))
	require.NoError(t, eng.Store().Create(newIssue("held back two")))

	_, err = eng.Sync(context.Background(), engine.Options{Pull: true})
	require.NoError(t, err)

	doc := New(eng)
	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "sync")
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "unpushed commit")
	assert.Contains(t, r.Message, "record file(s)")
}

func TestBrokenRecordIsReported(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	bad := filepath.Join(eng.Config().IssuesDir(), ids.NewInternalID()+".md")
	require.NoError(t, os.WriteFile(bad, []byte("no frontmatter here\n"), 0o600))

	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "records")
	assert.Equal(t, StatusError, r.Status)
	assert.False(t, Healthy(results))
}

func TestMismatchedIDIsReported(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	is := newIssue("claims the wrong name")
	require.NoError(t, eng.Store().Create(is))

	// Copy the record under a different ULID file name.
	content, err := os.ReadFile(eng.Store().Path(is.ID))
	require.NoError(t, err)

	other := filepath.Join(eng.Config().IssuesDir(), ids.NewInternalID()+".md")
	require.NoError(t, os.WriteFile(other, content, 0o600))

	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "duplicate-ids")
	assert.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.Message, is.ID)
}

func TestDanglingReferencesWarn(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	is := newIssue("depends on a ghost")
	is.Dependencies = []issue.Dependency{{Relation: "blocks", Target: ids.NewInternalID()}}
	require.NoError(t, eng.Store().Create(is))

	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "dependencies")
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "blocks")
}

func TestDuplicateMappingKeysFixedByResave(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	mappingPath := eng.Config().MappingPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(mappingPath), 0o750))
	require.NoError(t, os.WriteFile(mappingPath, []byte("a1b2: X\na1b2: Y\n"), 0o600))

	results := doc.Run(context.Background(), false)

	r := resultFor(t, results, "mapping")
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "a1b2")

	results = doc.Run(context.Background(), true)

	r = resultFor(t, results, "mapping")
	assert.True(t, r.Fixed)

	// Last occurrence won and the rewrite is clean.
	mapping, report, err := ids.Load(mappingPath)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, "Y", mapping["a1b2"])

	// Running fix mode again has nothing left to repair.
	results = doc.Run(context.Background(), true)
	r = resultFor(t, results, "mapping")
	assert.Equal(t, StatusOK, r.Status)
	assert.False(t, r.Fixed)
}

func TestPrunableWorktreeFixRecreates(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	require.NoError(t, eng.Store().Create(newIssue("survives repair")))

	_, err := eng.Sync(context.Background(), engine.Options{})
	require.NoError(t, err)

	// Removing the directory while git still has it registered.
	require.NoError(t, os.RemoveAll(eng.Config().WorktreeAbs))

	results := doc.Run(context.Background(), false)
	r := resultFor(t, results, "worktree")
	assert.Equal(t, StatusError, r.Status)

	results = doc.Run(context.Background(), true)
	r = resultFor(t, results, "worktree")
	assert.Equal(t, StatusOK, r.Status)
	assert.True(t, r.Fixed)
}

func TestMisplacedRecordsMigrateAndShowAsPendingSync(t *testing.T) {
	t.Parallel()

	doc, eng := newDoctor(t)

	// A committed baseline so migration is the only pending change.
	_, err := eng.Sync(context.Background(), engine.Options{})
	require.NoError(t, err)

	// A tool wrote records to <root>/issues instead of the worktree.
	strayDir := filepath.Join(eng.Config().Root, "issues")
	require.NoError(t, os.MkdirAll(strayDir, 0o750))

	stray := newIssue("wrote to the wrong place")
	stray.Created = time.Now().UTC().Truncate(time.Second)
	stray.Updated = stray.Created
	stray.Version = 1

	require.NoError(t, os.WriteFile(
		filepath.Join(strayDir, stray.ID+".md"),
		[]byte(issue.Serialize(stray)),
		0o600,
	))

	results := doc.Run(context.Background(), false)
	r := resultFor(t, results, "data-location")
	assert.Equal(t, StatusError, r.Status)

	results = doc.Run(context.Background(), true)
	r = resultFor(t, results, "data-location")
	assert.Equal(t, StatusOK, r.Status)
	assert.True(t, r.Fixed)

	// The record is now in the store.
	got, err := eng.Store().Get(stray.ID)
	require.NoError(t, err)
	assert.Equal(t, "wrote to the wrong place", got.Title)

	// The stray directory is gone.
	_, err = os.Stat(strayDir)
	assert.True(t, os.IsNotExist(err))

	// The migration was committed on the sync branch, so a repository with
	// a remote would now report the commit as unpushed work.
	subject := testutil.Git(t, eng.Config().WorktreeAbs, "log", "-1", "--format=%s")
	assert.Contains(t, subject, "migrate")

	summary, err := eng.Sync(context.Background(), engine.Options{StatusOnly: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Dirty)
}

func TestRecordsAtOldDefaultLocationMigrate(t *testing.T) {
	t.Parallel()

	root := testutil.InitRepo(t)

	// The repository moved its worktree away from the default directory;
	// records left at the old location must still be found.
	require.NoError(t, os.WriteFile(
		filepath.Join(root, config.FileName),
		[]byte(`{"worktree_dir": ".issues-sync"}`),
		0o600,
	))

	cfg, err := config.Load(root, "")
	require.NoError(t, err)

	eng := engine.New(cfg)
	_, err = eng.Init(context.Background(), false)
	require.NoError(t, err)

	_, err = eng.Sync(context.Background(), engine.Options{})
	require.NoError(t, err)

	oldDir := filepath.Join(root, ".bead-sync", "issues")
	require.NoError(t, os.MkdirAll(oldDir, 0o750))

	leftBehind := newIssue("stayed at the old location")
	leftBehind.Created = time.Now().UTC().Truncate(time.Second)
	leftBehind.Updated = leftBehind.Created
	leftBehind.Version = 1

	require.NoError(t, os.WriteFile(
		filepath.Join(oldDir, leftBehind.ID+".md"),
		[]byte(issue.Serialize(leftBehind)),
		0o600,
	))

	doc := New(eng)

	results := doc.Run(context.Background(), false)
	r := resultFor(t, results, "data-location")
	assert.Equal(t, StatusError, r.Status)

	results = doc.Run(context.Background(), true)
	r = resultFor(t, results, "data-location")
	assert.Equal(t, StatusOK, r.Status)
	assert.True(t, r.Fixed)

	got, err := eng.Store().Get(leftBehind.ID)
	require.NoError(t, err)
	assert.Equal(t, "stayed at the old location", got.Title)

	// Both the emptied issues/ dir and its abandoned shell are gone.
	_, err = os.Stat(filepath.Join(root, ".bead-sync"))
	assert.True(t, os.IsNotExist(err))
}

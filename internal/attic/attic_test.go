package attic

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
	"github.com/calvinalkan/bead/internal/store"
)

func testFixture(t *testing.T) (*Attic, *store.Store) {
	t.Helper()

	root := t.TempDir()

	return New(filepath.Join(root, "attic")), store.New(filepath.Join(root, "issues"))
}

func liveIssue(t *testing.T, st *store.Store, title string) *issue.Issue {
	t.Helper()

	is := &issue.Issue{
		ID:       ids.NewInternalID(),
		Kind:     "task",
		Title:    title,
		Status:   issue.StatusOpen,
		Priority: issue.DefaultPriority,
	}

	if err := st.Create(is); err != nil {
		t.Fatal(err)
	}

	return is
}

func TestArchiveAndShow(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	is := liveIssue(t, st, "the losing version")
	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	entry, err := attic.Archive(is, lostAt)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	if entry.ID != is.ID || !entry.LostAt.Equal(lostAt) {
		t.Errorf("unexpected entry: %+v", entry)
	}

	got, err := attic.Show(is.ID, lostAt)
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	if got.Title != "the losing version" {
		t.Errorf("archived content mismatch: %+v", got)
	}
}

func TestShowDoesNotMutateArchive(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	is := liveIssue(t, st, "frozen")
	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	entry, err := attic.Archive(is, lostAt)
	if err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := attic.Show(is.ID, lostAt); err != nil {
		t.Fatal(err)
	}

	if _, err := attic.List(); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatal(err)
	}

	if string(before) != string(after) {
		t.Error("read-only operation mutated the archive entry")
	}
}

func TestArchiveCollisionGetsSuffix(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	is := liveIssue(t, st, "twice a loser")
	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	first, err := attic.Archive(is, lostAt)
	if err != nil {
		t.Fatal(err)
	}

	second, err := attic.Archive(is, lostAt)
	if err != nil {
		t.Fatal(err)
	}

	if first.Path == second.Path {
		t.Fatal("second archive overwrote the first")
	}

	entries, err := attic.ListFor(is.ID)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Errorf("want 2 entries, got %d", len(entries))
	}
}

func TestRestoreCreatesNewLiveVersion(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	is := liveIssue(t, st, "original title")
	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	// Archive the current version, then move the live record on.
	if _, err := attic.Archive(is, lostAt); err != nil {
		t.Fatal(err)
	}

	is.Title = "diverged title"
	if err := st.Write(is); err != nil {
		t.Fatal(err)
	}

	restored, err := attic.Restore(st, is.ID, lostAt)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Title != "original title" {
		t.Errorf("restore did not bring back archived content: %+v", restored)
	}

	live, err := st.Get(is.ID)
	if err != nil {
		t.Fatal(err)
	}

	if live.Version != 3 {
		t.Errorf("restore should create version 3 (create=1, edit=2, restore=3), got %d", live.Version)
	}

	// The archive entry survives restoration.
	if _, err := attic.Show(is.ID, lostAt); err != nil {
		t.Errorf("archive entry gone after restore: %v", err)
	}
}

func TestRestoreMissingLiveRecord(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	is := liveIssue(t, st, "resurrect me")
	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	if _, err := attic.Archive(is, lostAt); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(st.Path(is.ID)); err != nil {
		t.Fatal(err)
	}

	restored, err := attic.Restore(st, is.ID, lostAt)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Version != 1 {
		t.Errorf("resurrected record should start at version 1, got %d", restored.Version)
	}

	if !st.Exists(is.ID) {
		t.Error("live record not recreated")
	}
}

func TestShowNotFound(t *testing.T) {
	t.Parallel()

	attic, _ := testFixture(t)

	_, err := attic.Show(ids.NewInternalID(), time.Now())
	if !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("want ErrEntryNotFound, got %v", err)
	}
}

func TestListAcrossIssues(t *testing.T) {
	t.Parallel()

	attic, st := testFixture(t)

	lostAt := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	a := liveIssue(t, st, "a")
	b := liveIssue(t, st, "b")

	if _, err := attic.Archive(b, lostAt); err != nil {
		t.Fatal(err)
	}

	if _, err := attic.Archive(a, lostAt); err != nil {
		t.Fatal(err)
	}

	if _, err := attic.Archive(a, lostAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	entries, err := attic.List()
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}

	// a sorts before b (ULIDs are creation ordered), its two entries by time.
	if entries[0].ID != a.ID || entries[1].ID != a.ID || entries[2].ID != b.ID {
		t.Errorf("entries out of order: %+v", entries)
	}

	if !entries[0].LostAt.Before(entries[1].LostAt) {
		t.Errorf("same-issue entries out of time order: %+v", entries)
	}
}

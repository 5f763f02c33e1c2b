package store

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/calvinalkan/bead/internal/ids"
	"github.com/calvinalkan/bead/internal/issue"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	return NewWithClock(filepath.Join(t.TempDir(), "issues"), func() time.Time {
		now = now.Add(time.Second)

		return now
	})
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

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	is := newIssue("first")
	if err := st.Create(is); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if is.Version != 1 {
		t.Errorf("want version 1 after create, got %d", is.Version)
	}

	if is.Created.IsZero() || !is.Updated.Equal(is.Created) {
		t.Errorf("timestamps not set: created=%v updated=%v", is.Created, is.Updated)
	}

	got, err := st.Get(is.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Title != "first" || got.Version != 1 {
		t.Errorf("unexpected issue: %+v", got)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	is := newIssue("dup")
	if err := st.Create(is); err != nil {
		t.Fatal(err)
	}

	again := newIssue("dup again")
	again.ID = is.ID

	if err := st.Create(again); !errors.Is(err, ErrExists) {
		t.Errorf("want ErrExists, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	_, err := st.Get(ids.NewInternalID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestWriteBumpsVersionAndUpdated(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	is := newIssue("mutate me")
	if err := st.Create(is); err != nil {
		t.Fatal(err)
	}

	created := is.Created

	is.Title = "mutated"
	if err := st.Write(is); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := st.Get(is.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.Version != 2 {
		t.Errorf("want version 2 after write, got %d", got.Version)
	}

	if !got.Updated.After(created) {
		t.Errorf("updated_at not advanced: created=%v updated=%v", created, got.Updated)
	}
}

func TestCloseIssue(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	is := newIssue("close me")
	if err := st.Create(is); err != nil {
		t.Fatal(err)
	}

	closed, err := st.CloseIssue(is.ID)
	if err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}

	if closed.Status != issue.StatusClosed || closed.Closed.IsZero() {
		t.Errorf("issue not closed: %+v", closed)
	}

	if _, err := st.CloseIssue(is.ID); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("want ErrAlreadyClosed, got %v", err)
	}
}

func TestChildOrderHintsTrackCreationOrder(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	parent := newIssue("parent")
	parent.Kind = "epic"

	if err := st.Create(parent); err != nil {
		t.Fatal(err)
	}

	var childIDs []string

	for _, title := range []string{"child a", "child b", "child c"} {
		child := newIssue(title)
		child.Parent = parent.ID

		if err := st.Create(child); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}

		childIDs = append(childIDs, child.ID)
	}

	got, err := st.Get(parent.ID)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(got.ChildOrder, childIDs) {
		t.Fatalf("child order hint mismatch:\nwant %v\ngot  %v", childIDs, got.ChildOrder)
	}

	// Closing a child leaves the remaining two in original relative order.
	if _, err := st.CloseIssue(childIDs[1]); err != nil {
		t.Fatal(err)
	}

	got, err = st.Get(parent.ID)
	if err != nil {
		t.Fatal(err)
	}

	var open []string

	for _, id := range got.ChildOrder {
		child, getErr := st.Get(id)
		if getErr != nil {
			t.Fatal(getErr)
		}

		if child.Status != issue.StatusClosed {
			open = append(open, id)
		}
	}

	if !slices.Equal(open, []string{childIDs[0], childIDs[2]}) {
		t.Errorf("remaining children out of order: %v", open)
	}
}

func TestCreateWithMissingParent(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	child := newIssue("orphan")
	child.Parent = ids.NewInternalID()

	if err := st.Create(child); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("want ErrParentNotFound, got %v", err)
	}
}

func TestListSkipsUnparsableFiles(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	good := newIssue("good")
	if err := st.Create(good); err != nil {
		t.Fatal(err)
	}

	badPath := filepath.Join(st.Dir(), ids.NewInternalID()+".md")
	if err := os.WriteFile(badPath, []byte("not frontmatter at all\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	issues, skipped, err := st.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(issues) != 1 || issues[0].ID != good.ID {
		t.Errorf("want 1 good issue, got %d", len(issues))
	}

	if len(skipped) != 1 || skipped[0].Path != badPath {
		t.Fatalf("want 1 skip report for %s, got %v", badPath, skipped)
	}
}

func TestListEmptyDirectory(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	issues, skipped, err := st.List()
	if err != nil || issues != nil || skipped != nil {
		t.Errorf("want empty result for missing dir, got %v %v %v", issues, skipped, err)
	}
}

func TestListSortedByID(t *testing.T) {
	t.Parallel()

	st := testStore(t)

	for i := 0; i < 5; i++ {
		if err := st.Create(newIssue("issue")); err != nil {
			t.Fatal(err)
		}
	}

	issues, _, err := st.List()
	if err != nil {
		t.Fatal(err)
	}

	if !slices.IsSortedFunc(issues, func(a, b *issue.Issue) int {
		return slices.Compare([]byte(a.ID), []byte(b.ID))
	}) {
		t.Error("issues not sorted by id")
	}
}

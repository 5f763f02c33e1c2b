// Package attic archives issue versions that lost a merge.
//
// Every divergent edit resolved during sync moves the losing version here
// instead of discarding it. Entries are immutable once written and never
// deleted automatically; restoring one copies it back as the current live
// record and leaves the archive untouched.
package attic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/bead/internal/issue"
	"github.com/calvinalkan/bead/internal/store"
)

const dirPerms = 0o750

// lossTimeFormat keys entries by loss timestamp. Compact UTC, no colons,
// so the filenames work on every filesystem.
const lossTimeFormat = "20060102T150405Z"

// ErrEntryNotFound reports a missing archive entry.
var ErrEntryNotFound = errors.New("attic entry not found")

// Entry identifies one archived version, keyed by (internal ID, loss time).
type Entry struct {
	ID     string
	LostAt time.Time
	Path   string
}

// Attic is the archive directory: attic/<internal-id>/<loss-time>.md.
type Attic struct {
	dir string
}

// New creates an attic over dir.
func New(dir string) *Attic {
	return &Attic{dir: dir}
}

// Dir returns the archive directory.
func (a *Attic) Dir() string {
	return a.dir
}

// Archive stores a superseded issue version keyed by lostAt.
//
// The entry is never overwritten: a key collision (same issue losing twice
// within one second) gets a numeric suffix.
func (a *Attic) Archive(is *issue.Issue, lostAt time.Time) (Entry, error) {
	entryDir := filepath.Join(a.dir, is.ID)

	err := os.MkdirAll(entryDir, dirPerms)
	if err != nil {
		return Entry{}, fmt.Errorf("creating attic directory: %w", err)
	}

	stamp := lostAt.UTC().Format(lossTimeFormat)
	path := filepath.Join(entryDir, stamp+".md")

	for n := 2; ; n++ {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			break
		}

		path = filepath.Join(entryDir, fmt.Sprintf("%s-%d.md", stamp, n))
	}

	err = atomic.WriteFile(path, strings.NewReader(issue.Serialize(is)))
	if err != nil {
		return Entry{}, fmt.Errorf("writing attic entry: %w", err)
	}

	return Entry{ID: is.ID, LostAt: lostAt.UTC().Truncate(time.Second), Path: path}, nil
}

// List returns all archive entries, sorted by ID then loss time.
// Listing is read-only and never mutates archive state.
func (a *Attic) List() ([]Entry, error) {
	idDirs, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading attic: %w", err)
	}

	var entries []Entry

	for _, idDir := range idDirs {
		if !idDir.IsDir() {
			continue
		}

		forID, listErr := a.ListFor(idDir.Name())
		if listErr != nil {
			return nil, listErr
		}

		entries = append(entries, forID...)
	}

	slices.SortFunc(entries, func(x, y Entry) int {
		if c := strings.Compare(x.ID, y.ID); c != 0 {
			return c
		}

		return x.LostAt.Compare(y.LostAt)
	})

	return entries, nil
}

// ListFor returns the archived versions of one issue, oldest first.
func (a *Attic) ListFor(id string) ([]Entry, error) {
	files, err := os.ReadDir(filepath.Join(a.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading attic for %s: %w", id, err)
	}

	var entries []Entry

	for _, file := range files {
		name, ok := strings.CutSuffix(file.Name(), ".md")
		if file.IsDir() || !ok {
			continue
		}

		// Strip a collision suffix such as -2.
		base, _, _ := strings.Cut(name, "-")

		lostAt, parseErr := time.Parse(lossTimeFormat, base)
		if parseErr != nil {
			continue
		}

		entries = append(entries, Entry{
			ID:     id,
			LostAt: lostAt,
			Path:   filepath.Join(a.dir, id, file.Name()),
		})
	}

	slices.SortFunc(entries, func(x, y Entry) int {
		return strings.Compare(x.Path, y.Path)
	})

	return entries, nil
}

// Show reads one archived version. Read-only.
func (a *Attic) Show(id string, lostAt time.Time) (*issue.Issue, error) {
	entry, err := a.find(id, lostAt)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("reading attic entry: %w", err)
	}

	return issue.Parse(entry.Path, content)
}

// Restore copies an archived version back as the current live record.
//
// The live record gets a new version number; the archive entry stays in
// place, so a restore can itself be undone by restoring something else.
func (a *Attic) Restore(st *store.Store, id string, lostAt time.Time) (*issue.Issue, error) {
	archived, err := a.Show(id, lostAt)
	if err != nil {
		return nil, err
	}

	live, err := st.Get(id)

	switch {
	case err == nil:
		archived.Version = live.Version

		err = st.Write(archived)
	case errors.Is(err, store.ErrNotFound):
		err = st.Create(archived)
	default:
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", id, err)
	}

	return archived, nil
}

func (a *Attic) find(id string, lostAt time.Time) (Entry, error) {
	entries, err := a.ListFor(id)
	if err != nil {
		return Entry{}, err
	}

	want := lostAt.UTC().Truncate(time.Second)

	for _, entry := range entries {
		if entry.LostAt.Equal(want) {
			return entry, nil
		}
	}

	return Entry{}, fmt.Errorf("%w: %s at %s", ErrEntryNotFound, id, want.Format(lossTimeFormat))
}

// Package store implements directory-based CRUD over issue records: one
// file per internal ID, written atomically so no reader ever observes a
// partial record.
package store

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
)

const (
	dirPerms  = 0o750
	filePerms = 0o600
)

// Store is a directory of issue records.
type Store struct {
	dir string
	now func() time.Time
}

// New creates a store over dir. The directory is created lazily on first
// write.
func New(dir string) *Store {
	return &Store{
		dir: dir,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// NewWithClock creates a store with an injected clock for tests.
func NewWithClock(dir string, now func() time.Time) *Store {
	return &Store{dir: dir, now: now}
}

// Dir returns the issue directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the record file path for an internal ID.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".md")
}

// Exists checks if a record exists for the internal ID.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.Path(id))

	return err == nil
}

// Create writes a brand new record.
//
// The caller assigns the internal ID; Create fills in created/updated
// timestamps and sets version to 1. If the issue names a parent, the
// parent's child order hint is extended with the new ID, in creation order.
func (s *Store) Create(is *issue.Issue) error {
	if is.Created.IsZero() {
		is.Created = s.now()
	}

	is.Updated = is.Created
	is.Version = 1

	err := is.Validate()
	if err != nil {
		return err
	}

	if s.Exists(is.ID) {
		return fmt.Errorf("%w: %s", ErrExists, is.ID)
	}

	err = s.writeFile(is)
	if err != nil {
		return err
	}

	if is.Parent != "" {
		err = s.appendChildHint(is.Parent, is.ID)
		if err != nil {
			return fmt.Errorf("updating parent child order: %w", err)
		}
	}

	return nil
}

// Get reads the record for an internal ID.
func (s *Store) Get(id string) (*issue.Issue, error) {
	content, err := os.ReadFile(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("reading issue: %w", err)
	}

	return issue.Parse(s.Path(id), content)
}

// Write persists a mutated record: bumps version, sets updated_at.
func (s *Store) Write(is *issue.Issue) error {
	if !s.Exists(is.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, is.ID)
	}

	is.Version++
	is.Updated = s.now()

	err := is.Validate()
	if err != nil {
		return err
	}

	return s.writeFile(is)
}

// CloseIssue transitions a record to closed and stamps closed_at.
// The parent's child order hint is left untouched: it is a hint, and the
// remaining children keep their original relative order.
func (s *Store) CloseIssue(id string) (*issue.Issue, error) {
	is, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if is.Status == issue.StatusClosed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, id)
	}

	is.Status = issue.StatusClosed
	is.Closed = s.now()

	err = s.Write(is)
	if err != nil {
		return nil, err
	}

	return is, nil
}

// SkipReport names a record file that failed to parse during List.
type SkipReport struct {
	Path string
	Err  error
}

// List returns all parseable records sorted by internal ID (creation order).
// Unparseable files are skipped and reported rather than aborting the whole
// listing.
func (s *Store) List() ([]*issue.Issue, []SkipReport, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}

		return nil, nil, fmt.Errorf("reading issue directory: %w", err)
	}

	var (
		issues  []*issue.Issue
		skipped []SkipReport
	)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			skipped = append(skipped, SkipReport{Path: path, Err: readErr})

			continue
		}

		is, parseErr := issue.Parse(path, content)
		if parseErr != nil {
			skipped = append(skipped, SkipReport{Path: path, Err: parseErr})

			continue
		}

		issues = append(issues, is)
	}

	slices.SortFunc(issues, func(a, b *issue.Issue) int {
		return strings.Compare(a.ID, b.ID)
	})

	return issues, skipped, nil
}

func (s *Store) writeFile(is *issue.Issue) error {
	err := os.MkdirAll(s.dir, dirPerms)
	if err != nil {
		return fmt.Errorf("creating issue directory: %w", err)
	}

	path := s.Path(is.ID)

	err = atomic.WriteFile(path, strings.NewReader(issue.Serialize(is)))
	if err != nil {
		return fmt.Errorf("writing issue file: %w", err)
	}

	// atomic.WriteFile does not set permissions for new files.
	err = os.Chmod(path, filePerms)
	if err != nil {
		return fmt.Errorf("setting issue file permissions: %w", err)
	}

	return nil
}

func (s *Store) appendChildHint(parentID, childID string) error {
	parent, err := s.Get(parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
		}

		return err
	}

	if slices.Contains(parent.ChildOrder, childID) {
		return nil
	}

	parent.ChildOrder = append(parent.ChildOrder, childID)

	return s.Write(parent)
}

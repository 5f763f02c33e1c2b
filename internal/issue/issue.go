// Package issue defines the unit of record and its on-disk codec.
//
// An issue is persisted as a single markdown file: a frontmatter header of
// key/value pairs between --- fences, followed by the free-text description.
// The header keys are written in a fixed sort order so that diffs stay small
// and merges stay local.
package issue

import (
	"regexp"
	"slices"
	"time"
)

// Status values an issue can hold.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDeferred   = "deferred"
	StatusClosed     = "closed"
)

// validStatuses are the allowed status values.
var validStatuses = []string{StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred, StatusClosed}

// validKinds are the allowed issue kinds.
var validKinds = []string{"bug", "feature", "task", "epic", "chore"}

// Priority bounds.
const (
	MinPriority     = 0
	MaxPriority     = 4
	DefaultPriority = 2
)

// internalIDPattern matches a 26-character ULID in Crockford base32.
var internalIDPattern = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

// Dependency links an issue to another issue by relation.
type Dependency struct {
	Relation string // e.g. "blocks", "discovered-from"
	Target   string // internal ID of the other issue
}

// Issue represents an issue with all its fields.
//
// ID is the stable internal identifier, assigned once and never reused.
// Version is an optimistic concurrency marker: it is bumped on every
// successful write but never enforced against concurrent writers; its job
// is diagnostics, not locking.
type Issue struct {
	ID           string
	Version      int
	Kind         string
	Title        string
	Status       string
	Priority     int
	Labels       []string
	Dependencies []Dependency
	Created      time.Time
	Updated      time.Time
	Closed       time.Time // zero unless Status == closed

	Description string
	Parent      string
	ChildOrder  []string // ordering hint for children, not a membership list
	SpecPath    string
	ExternalURL string
}

// IsValidStatus checks if the status is one of the allowed values.
func IsValidStatus(status string) bool {
	return slices.Contains(validStatuses, status)
}

// IsValidKind checks if the kind is one of the allowed values.
func IsValidKind(kind string) bool {
	return slices.Contains(validKinds, kind)
}

// IsValidPriority checks if priority is in valid range.
func IsValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

// IsInternalID checks if s matches the internal ID (ULID) pattern.
func IsInternalID(s string) bool {
	return internalIDPattern.MatchString(s)
}

// Validate checks the issue's required fields and value ranges.
// It returns a *ValidationError naming the first offending field.
func (is *Issue) Validate() error {
	switch {
	case !IsInternalID(is.ID):
		return &ValidationError{Field: "id", Reason: "must be a 26-character ULID"}
	case is.Title == "":
		return &ValidationError{Field: "title", Reason: "cannot be empty"}
	case hasControlChars(is.Title):
		return &ValidationError{Field: "title", Reason: "cannot contain newlines or control characters"}
	case !IsValidStatus(is.Status):
		return &ValidationError{Field: "status", Reason: "unknown status " + is.Status}
	case !IsValidKind(is.Kind):
		return &ValidationError{Field: "kind", Reason: "unknown kind " + is.Kind}
	case !IsValidPriority(is.Priority):
		return &ValidationError{Field: "priority", Reason: "must be between 0 and 4"}
	case is.Created.IsZero():
		return &ValidationError{Field: "created_at", Reason: "cannot be zero"}
	case is.Status == StatusClosed && is.Closed.IsZero():
		return &ValidationError{Field: "closed_at", Reason: "closed issue missing closed timestamp"}
	case is.Status != StatusClosed && !is.Closed.IsZero():
		return &ValidationError{Field: "closed_at", Reason: "closed timestamp on non-closed issue"}
	case is.Parent != "" && !IsInternalID(is.Parent):
		return &ValidationError{Field: "parent_id", Reason: "must be a 26-character ULID"}
	case hasControlChars(is.SpecPath):
		return &ValidationError{Field: "spec_path", Reason: "cannot contain newlines or control characters"}
	case hasControlChars(is.ExternalURL):
		return &ValidationError{Field: "external_issue_url", Reason: "cannot contain newlines or control characters"}
	}

	for _, child := range is.ChildOrder {
		if !IsInternalID(child) {
			return &ValidationError{Field: "child_order", Reason: "entry " + child + " is not a valid internal ID"}
		}
	}

	for _, label := range is.Labels {
		if hasControlChars(label) {
			return &ValidationError{Field: "labels", Reason: "labels cannot contain newlines or control characters"}
		}
	}

	for _, dep := range is.Dependencies {
		if dep.Relation == "" {
			return &ValidationError{Field: "dependencies", Reason: "dependency missing relation"}
		}

		if hasControlChars(dep.Relation) {
			return &ValidationError{Field: "dependencies", Reason: "relation cannot contain newlines or control characters"}
		}

		if !IsInternalID(dep.Target) {
			return &ValidationError{Field: "dependencies", Reason: "dependency target " + dep.Target + " is not a valid internal ID"}
		}
	}

	return nil
}

// hasControlChars reports whether s contains a rune that would corrupt a
// single-line frontmatter value. A newline in a header scalar would let the
// value masquerade as additional header lines on reparse.
func hasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}

	return false
}

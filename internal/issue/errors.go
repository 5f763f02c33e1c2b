package issue

import (
	"errors"
	"fmt"
)

// ErrConflictMarkers reports literal unresolved git conflict markers inside a
// persisted record. Parsing never proceeds past this; the file must be
// resolved by hand before any other operation touches it.
var ErrConflictMarkers = errors.New("unresolved merge conflict markers")

// ErrNoFrontmatter reports a file without an opening --- fence.
var ErrNoFrontmatter = errors.New("missing frontmatter delimiter")

// ErrUnclosedFrontmatter reports a frontmatter block without a closing fence.
var ErrUnclosedFrontmatter = errors.New("unclosed frontmatter block")

// ValidationError reports malformed caller input. It is always local and
// never fatal to the process.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// ParseError identifies the exact file and line that failed to parse.
// A syntactically broken header never surfaces as a generic read failure.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Path, e.Line, e.Err)
	}

	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

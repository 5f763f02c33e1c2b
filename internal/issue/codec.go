package issue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// delimiter separates the frontmatter header from the body.
const delimiter = "---"

// Conflict marker prefixes git leaves behind in an unresolved merge.
var conflictMarkers = []string{"<<<<<<<", "=======", ">>>>>>>"}

// Header keys, in the fixed serialization order (alphabetical).
const (
	keyChildOrder  = "child_order"
	keyClosedAt    = "closed_at"
	keyCreatedAt   = "created_at"
	keyDeps        = "dependencies"
	keyExternalURL = "external_issue_url"
	keyID          = "id"
	keyKind        = "kind"
	keyLabels      = "labels"
	keyParentID    = "parent_id"
	keyPriority    = "priority"
	keySpecPath    = "spec_path"
	keyStatus      = "status"
	keyTitle       = "title"
	keyUpdatedAt   = "updated_at"
	keyVersion     = "version"
)

// Serialize renders the issue as frontmatter plus body.
//
// Keys are emitted in alphabetical order; optional keys are omitted when
// empty. The body starts on the line immediately after the closing fence:
// no blank line is permitted between the two. Parse returns the body
// verbatim except for trailing newlines, which both directions normalize
// away so that a round trip is stable.
//
// Header values are written as-is. Validate guarantees they are single-line,
// which keeps each value on its own header line.
func Serialize(is *Issue) string {
	var b strings.Builder

	b.WriteString(delimiter + "\n")

	if len(is.ChildOrder) > 0 {
		writeList(&b, keyChildOrder, is.ChildOrder)
	}

	if !is.Closed.IsZero() {
		writeScalar(&b, keyClosedAt, formatTime(is.Closed))
	}

	writeScalar(&b, keyCreatedAt, formatTime(is.Created))

	if len(is.Dependencies) > 0 {
		deps := make([]string, 0, len(is.Dependencies))
		for _, dep := range is.Dependencies {
			deps = append(deps, dep.Relation+" "+dep.Target)
		}

		writeList(&b, keyDeps, deps)
	}

	if is.ExternalURL != "" {
		writeScalar(&b, keyExternalURL, is.ExternalURL)
	}

	writeScalar(&b, keyID, is.ID)
	writeScalar(&b, keyKind, is.Kind)

	if len(is.Labels) == 0 {
		writeScalar(&b, keyLabels, "[]")
	} else {
		writeList(&b, keyLabels, is.Labels)
	}

	if is.Parent != "" {
		writeScalar(&b, keyParentID, is.Parent)
	}

	writeScalar(&b, keyPriority, strconv.Itoa(is.Priority))

	if is.SpecPath != "" {
		writeScalar(&b, keySpecPath, is.SpecPath)
	}

	writeScalar(&b, keyStatus, is.Status)
	writeScalar(&b, keyTitle, is.Title)
	writeScalar(&b, keyUpdatedAt, formatTime(is.Updated))
	writeScalar(&b, keyVersion, strconv.Itoa(is.Version))

	b.WriteString(delimiter + "\n")

	// Trailing newlines in the body are not significant: the file always
	// ends with exactly one, and Parse strips it back off. Interior blank
	// lines survive untouched.
	if body := strings.TrimRight(is.Description, "\n"); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}

	return b.String()
}

func writeScalar(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func writeList(b *strings.Builder, key string, items []string) {
	b.WriteString(key)
	b.WriteString(":\n")

	for _, item := range items {
		b.WriteString("  - ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Parse decodes frontmatter plus body content back into an Issue.
//
// path is used for error reporting only. Any literal git conflict marker in
// the content is fatal: the file holds an unresolved merge and must never be
// interpreted as intentional data.
func Parse(path string, content []byte) (*Issue, error) {
	lines := strings.Split(string(content), "\n")

	for idx, line := range lines {
		for _, marker := range conflictMarkers {
			if strings.HasPrefix(line, marker) {
				return nil, &ParseError{Path: path, Line: idx + 1, Err: ErrConflictMarkers}
			}
		}
	}

	if len(lines) == 0 || lines[0] != delimiter {
		return nil, &ParseError{Path: path, Line: 1, Err: ErrNoFrontmatter}
	}

	is := &Issue{}

	var listKey string

	bodyStart := -1

	for idx := 1; idx < len(lines); idx++ {
		line := lines[idx]

		if line == delimiter {
			bodyStart = idx + 1

			break
		}

		if item, ok := strings.CutPrefix(line, "  - "); ok {
			if listKey == "" {
				return nil, &ParseError{Path: path, Line: idx + 1, Err: fmt.Errorf("list item outside a list")}
			}

			err := setListItem(is, listKey, item)
			if err != nil {
				return nil, &ParseError{Path: path, Line: idx + 1, Err: err}
			}

			continue
		}

		key, rest, found := strings.Cut(line, ":")
		if !found || key == "" || strings.HasPrefix(key, " ") {
			return nil, &ParseError{Path: path, Line: idx + 1, Err: fmt.Errorf("malformed header line %q", line)}
		}

		value := strings.TrimPrefix(rest, " ")

		if value == "" {
			listKey = key

			continue
		}

		listKey = ""

		err := setScalar(is, key, value)
		if err != nil {
			return nil, &ParseError{Path: path, Line: idx + 1, Err: err}
		}
	}

	if bodyStart < 0 {
		return nil, &ParseError{Path: path, Err: ErrUnclosedFrontmatter}
	}

	if bodyStart < len(lines) {
		body := strings.Join(lines[bodyStart:], "\n")
		is.Description = strings.TrimRight(body, "\n")
	}

	return is, nil
}

func setScalar(is *Issue, key, value string) error {
	switch key {
	case keyID:
		is.ID = value
	case keyKind:
		is.Kind = value
	case keyStatus:
		is.Status = value
	case keyTitle:
		is.Title = value
	case keyParentID:
		is.Parent = value
	case keySpecPath:
		is.SpecPath = value
	case keyExternalURL:
		is.ExternalURL = value
	case keyLabels:
		if value != "[]" {
			return fmt.Errorf("labels scalar must be [], got %q", value)
		}
	case keyPriority:
		p, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}

		is.Priority = p
	case keyVersion:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}

		is.Version = v
	case keyCreatedAt, keyUpdatedAt, keyClosedAt:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		switch key {
		case keyCreatedAt:
			is.Created = t.UTC()
		case keyUpdatedAt:
			is.Updated = t.UTC()
		default:
			is.Closed = t.UTC()
		}
	default:
		return fmt.Errorf("unknown header key %q", key)
	}

	return nil
}

func setListItem(is *Issue, key, item string) error {
	switch key {
	case keyLabels:
		is.Labels = append(is.Labels, item)
	case keyChildOrder:
		is.ChildOrder = append(is.ChildOrder, item)
	case keyDeps:
		relation, target, found := strings.Cut(item, " ")
		if !found {
			return fmt.Errorf("malformed dependency %q", item)
		}

		is.Dependencies = append(is.Dependencies, Dependency{Relation: relation, Target: target})
	default:
		return fmt.Errorf("unknown list key %q", key)
	}

	return nil
}

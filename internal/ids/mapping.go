package ids

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/natefinch/atomic"
)

// Mapping is the bijection from short display ID to internal ID.
//
// It grows monotonically: entries are never removed, only added. Persisted
// as a single flat YAML file (one "short: internal" line per entry) so that
// git merges stay line-based and human-resolvable.
type Mapping map[string]string

// Policy decides which side wins when the same short ID maps to different
// internal IDs on both sides of a merge.
type Policy string

// Merge policies.
const (
	// LocalWins keeps the local entry. This is the default: a short ID the
	// local user or agent has already communicated must stay valid, even at
	// the cost of re-aliasing the remote issue.
	LocalWins Policy = "local-wins"

	// RemoteWins keeps the remote entry, for clones that treat the remote
	// as authoritative.
	RemoteWins Policy = "remote-wins"
)

// ValidPolicy checks whether p is a known merge policy.
func ValidPolicy(p Policy) bool {
	return p == LocalWins || p == RemoteWins
}

// Merge unions local and remote deterministically. On a short ID present in
// both with different internal IDs, the side selected by policy wins.
func Merge(local, remote Mapping, policy Policy) Mapping {
	merged := make(Mapping, len(local)+len(remote))

	for short, internal := range remote {
		merged[short] = internal
	}

	for short, internal := range local {
		if existing, ok := merged[short]; ok && existing != internal && policy == RemoteWins {
			continue
		}

		merged[short] = internal
	}

	return merged
}

// Internal returns the internal ID for a short ID.
func (m Mapping) Internal(short string) (string, error) {
	internal, ok := m[short]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMappingNotFound, short)
	}

	return internal, nil
}

// Short returns the short ID for an internal ID, if one exists.
func (m Mapping) Short(internal string) (string, bool) {
	for short, id := range m {
		if id == internal {
			return short, true
		}
	}

	return "", false
}

// ParseReport carries the anomalies the tolerant parser recovered from.
// Anomalies are data, not errors: doctor flags them and deduplicates on the
// next save.
type ParseReport struct {
	// DuplicateKeys lists short IDs that appeared more than once, in first
	// occurrence order. The last occurrence won.
	DuplicateKeys []string
}

// Clean reports whether parsing found no anomalies.
func (r ParseReport) Clean() bool {
	return len(r.DuplicateKeys) == 0
}

// Parse decodes a mapping file tolerantly.
//
// Duplicate top-level keys are an expected artifact of naive human conflict
// resolution: all distinct keys are recovered with last-occurrence-wins
// semantics and the duplicated keys are reported. Literal conflict markers
// are the one sharp exception and always fatal.
func Parse(path string, content []byte) (Mapping, ParseReport, error) {
	mapping := make(Mapping)

	var report ParseReport

	seen := make(map[string]bool)
	duplicate := make(map[string]bool)

	for idx, line := range strings.Split(string(content), "\n") {
		for _, marker := range []string{"<<<<<<<", "=======", ">>>>>>>"} {
			if strings.HasPrefix(line, marker) {
				return nil, ParseReport{}, &MergeConflictError{Path: path, Line: idx + 1}
			}
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || trimmed == "---" {
			continue
		}

		short, internal, found := strings.Cut(trimmed, ":")
		if !found {
			return nil, ParseReport{}, fmt.Errorf("parse %s: line %d: malformed entry %q", path, idx+1, line)
		}

		short = strings.TrimSpace(short)
		internal = strings.TrimSpace(internal)

		if short == "" || internal == "" {
			return nil, ParseReport{}, fmt.Errorf("parse %s: line %d: malformed entry %q", path, idx+1, line)
		}

		if seen[short] && !duplicate[short] {
			duplicate[short] = true
			report.DuplicateKeys = append(report.DuplicateKeys, short)
		}

		seen[short] = true
		mapping[short] = internal
	}

	return mapping, report, nil
}

// Load reads and parses the mapping file at path. A missing file is an
// empty mapping, not an error: a fresh clone has no mapping yet.
func Load(path string) (Mapping, ParseReport, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Mapping), ParseReport{}, nil
		}

		return nil, ParseReport{}, fmt.Errorf("read mapping: %w", err)
	}

	return Parse(path, content)
}

// Save writes the mapping atomically with sorted keys and exactly one line
// per entry. Saving after a tolerant parse is what removes duplicate lines.
func Save(path string, mapping Mapping) error {
	shorts := make([]string, 0, len(mapping))
	for short := range mapping {
		shorts = append(shorts, short)
	}

	slices.Sort(shorts)

	var b strings.Builder
	for _, short := range shorts {
		b.WriteString(short)
		b.WriteString(": ")
		b.WriteString(mapping[short])
		b.WriteString("\n")
	}

	err := atomic.WriteFile(path, strings.NewReader(b.String()))
	if err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}

	return nil
}

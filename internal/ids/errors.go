package ids

import (
	"errors"
	"fmt"
)

// ErrShortIDExhausted reports no free short ID after repeated attempts.
var ErrShortIDExhausted = errors.New("no unique short id after repeated attempts")

// ErrMappingNotFound reports a short ID with no mapping entry.
var ErrMappingNotFound = errors.New("short id not mapped")

// MergeConflictError reports literal unresolved git conflict markers in a
// persisted mapping file. It is always fatal: no operation may proceed with
// partial data from a half-merged file.
type MergeConflictError struct {
	Path string
	Line int
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf(
		"%s: line %d: unresolved merge conflict markers; resolve the conflict by hand (keep one line per key), then re-run",
		e.Path, e.Line,
	)
}

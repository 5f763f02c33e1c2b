package gitx

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError carries a failed git invocation with its stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}

	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Class sorts sync failures by how the caller should react.
type Class int

// Failure classes.
const (
	// ClassUnknown is surfaced as-is; retry is at the caller's discretion.
	ClassUnknown Class = iota

	// ClassPermanent failures (auth, permissions, branch protection) must
	// not be retried automatically; they need operator intervention.
	ClassPermanent

	// ClassTransient failures (network, timeouts, server errors) are safe
	// to retry.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// permanentPatterns match git/transport error text that indicates a failure
// no retry will fix.
var permanentPatterns = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"permission denied",
	"access denied",
	"403",
	"401",
	"protected branch",
	"pre-receive hook declined",
	"repository not found",
}

// transientPatterns match failures that are safe to retry.
var transientPatterns = []string{
	"could not resolve host",
	"connection refused",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"timed out",
	"early eof",
	"the remote end hung up unexpectedly",
	"unable to access",
	"500",
	"502",
	"503",
	"504",
}

// Classify sorts a git failure into permanent, transient or unknown by
// matching the underlying error text.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	text := strings.ToLower(err.Error())

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		text = strings.ToLower(cmdErr.Stderr + " " + cmdErr.Err.Error())
	}

	for _, pattern := range permanentPatterns {
		if strings.Contains(text, pattern) {
			return ClassPermanent
		}
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(text, pattern) {
			return ClassTransient
		}
	}

	return ClassUnknown
}

// SyncError is a classified failure of a sync phase.
type SyncError struct {
	Op    string // phase that failed, e.g. "push", "fetch"
	Class Class
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Class, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError wraps and classifies a failed sync phase.
func NewSyncError(op string, err error) *SyncError {
	return &SyncError{Op: op, Class: Classify(err), Err: err}
}

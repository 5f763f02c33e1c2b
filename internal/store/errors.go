package store

import "errors"

// Error variables for store operations.
var (
	ErrNotFound       = errors.New("issue not found")
	ErrExists         = errors.New("issue file already exists")
	ErrAlreadyClosed  = errors.New("issue is already closed")
	ErrParentNotFound = errors.New("parent issue not found")
)

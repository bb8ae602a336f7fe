package store

import "errors"

// Logical-misuse errors. Anything else surfaced by store methods is an
// I/O or integrity failure wrapped from the underlying database, and
// callers should treat it as retryable (single write) or fatal
// (lifecycle operations) rather than a usage bug.
var (
	// ErrNotFound reports that the referenced experiment does not exist.
	ErrNotFound = errors.New("experiment not found")

	// ErrAlreadyRunning reports that an experiment is already active.
	ErrAlreadyRunning = errors.New("an experiment is already running")

	// ErrNotRunning reports that no experiment is active.
	ErrNotRunning = errors.New("no experiment is running")
)

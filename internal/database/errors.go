package database

import "errors"

// Sentinel errors repositories translate sql.ErrNoRows and constraint
// violations into, the way the teacher's pkg/database/errors.go does for
// its own record types.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when a compare-and-swap write lost a
	// race against a concurrent writer (spec.md §4.4 create_new_version).
	ErrVersionConflict = errors.New("version conflict")
)

package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update matched no rows, e.g.
	// editing document details after verification started.
	ErrConflict = errors.New("conflict")
)

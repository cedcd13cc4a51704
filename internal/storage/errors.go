package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when a write-once row already exists
// (e.g. a second self-score for the same artifact).
var ErrDuplicate = errors.New("storage: duplicate")

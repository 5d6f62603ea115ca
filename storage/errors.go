package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a create hits an existing key.
	// Idempotent enqueue leans on this: a second create is a no-op signal,
	// not a failure.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrRevisionMismatch is returned when a conditional update loses the
	// race: the record changed since it was loaded.
	ErrRevisionMismatch = errors.New("record revision mismatch")
)

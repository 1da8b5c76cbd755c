package store

import "errors"

var (
	// ErrNotFound is returned when a task or user row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUsernameTaken is returned by CreateUser and UpdateUsername on a
	// unique constraint violation.
	ErrUsernameTaken = errors.New("store: username already registered")
	// ErrForbidden is returned when a caller attempts to act on a task it
	// does not own.
	ErrForbidden = errors.New("store: forbidden")
)

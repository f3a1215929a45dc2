package database

import "errors"

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when input fails shape validation before
	// it reaches the store.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("already exists")
)

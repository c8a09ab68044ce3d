package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCursor is returned when a cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor format")

	// ErrInvalidRecord is returned when a location or presence fails validation.
	ErrInvalidRecord = errors.New("invalid record")
)

package store

import "errors"

var (
	// ErrInvalid is returned for a record missing required fields.
	ErrInvalid = errors.New("store: invalid record")

	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
)

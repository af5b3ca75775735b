package command

import "errors"

var (
	// ErrMissingKind is returned when a command has no "command" field.
	ErrMissingKind = errors.New("command: missing command kind")

	// ErrInvalidField is returned when a field has the wrong type.
	ErrInvalidField = errors.New("command: invalid field")

	// ErrMixedTargets is returned when a batch addresses more than one device.
	ErrMixedTargets = errors.New("command: batch mixes targets")
)

package schedule

import "errors"

var (
	// ErrNotSeeded is returned by Advance while the machine is still initial.
	ErrNotSeeded = errors.New("schedule: state machine is initial, call SetState first")

	// ErrInvalidState is returned when an unknown state is requested.
	ErrInvalidState = errors.New("schedule: invalid state")

	// ErrInvalidTime is returned when a time setting cannot be parsed.
	ErrInvalidTime = errors.New("schedule: invalid time setting")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("schedule: invalid configuration")
)

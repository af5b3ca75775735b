package remote

import "errors"

var (
	// ErrUnknownCommand is returned for a path whose command is not recognised.
	ErrUnknownCommand = errors.New("remote: unknown command")

	// ErrMalformed is returned for a recognised command with bad arguments.
	ErrMalformed = errors.New("remote: malformed message")

	// ErrRateLimited is returned when an inbound message exceeds the rate limit.
	ErrRateLimited = errors.New("remote: rate limited")

	// ErrNotStarted is returned when publishing on a bus that is not running.
	ErrNotStarted = errors.New("remote: bus not started")
)

package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrStartFailed is returned when the binary cannot be executed.
	ErrStartFailed = errors.New("process failed to start")
)

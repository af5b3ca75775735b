package fleet

import (
	"errors"

	"github.com/nerrad567/ada-core/internal/command"
)

// Domain errors for the fleet package.
var (
	// ErrMixedTargets is returned when one QueueCommand call addresses
	// more than one device. Nothing is enqueued.
	ErrMixedTargets = command.ErrMixedTargets

	// ErrEmptyName is returned when a client identifies with an empty name.
	ErrEmptyName = errors.New("fleet: empty client name")

	// ErrTransportClosed is returned by a transport after Close.
	ErrTransportClosed = errors.New("fleet: transport closed")

	// ErrRegistryClosed is returned by Register after Close.
	ErrRegistryClosed = errors.New("fleet: registry closed")

	// ErrInvalidCameraSignal is returned for unparseable camera messages.
	ErrInvalidCameraSignal = errors.New("fleet: invalid camera signal")
)

package kasa

import "errors"

// Domain errors for the smart-plug bridge.
var (
	// ErrDisconnected is returned when the bridge connection has been lost.
	ErrDisconnected = errors.New("kasa: bridge disconnected")

	// ErrNoResponse is returned when the bridge sends only empty replies.
	ErrNoResponse = errors.New("kasa: no response from bridge")

	// ErrUnexpectedReply is returned when on/off is not acknowledged.
	ErrUnexpectedReply = errors.New("kasa: unexpected reply")
)

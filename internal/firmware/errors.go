package firmware

import "errors"

var (
	// ErrNoFirmware is returned by Firmware before any image is available.
	ErrNoFirmware = errors.New("firmware: no firmware available")

	// ErrFetch is returned when the artifact server answers with an error.
	ErrFetch = errors.New("firmware: fetch failed")

	// ErrEmptyHash is returned when the published hash is blank.
	ErrEmptyHash = errors.New("firmware: empty hash")
)

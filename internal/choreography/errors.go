package choreography

import "errors"

var (
	// ErrUnknownAnimation is returned for an animation name not in the library.
	ErrUnknownAnimation = errors.New("choreography: unknown animation")

	// ErrUnknownEmotion is returned for an emotion with no configured colour.
	ErrUnknownEmotion = errors.New("choreography: no colour for emotion")

	// ErrInvalidAnimation is returned when an animation file cannot be used.
	ErrInvalidAnimation = errors.New("choreography: invalid animation")
)

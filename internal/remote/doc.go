// Package remote handles remote-control messages: path strings such as
// "/power/on" or "/color/255,0,0" sent by kiosks and operator tools.
//
// Paths are parsed once, at the boundary, into typed messages (Power,
// Rain, Color, Gradient, ...) so the choreography engine never sees raw
// strings. Bus carries them over MQTT: inbound paths arrive on
// ada/control/<sender>, are rate limited and queued, and the engine drains
// one per tick with Next. Replies and state announcements go out on
// ada/state via Send.
//
// A reply meant for one sender is prefixed with /user/<sender>, for
// example "/user/kiosk-1/state/on".
package remote

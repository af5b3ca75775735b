// Package schedule implements the installation's power state machine.
//
// The StateMachine is a pure function of wall-clock time plus its own
// accumulated state: it never performs I/O. The choreography loop is its
// only caller and feeds it the current time on every tick.
//
// States:
//
//	initial    constructed, must be seeded with SetState before Advance
//	on         lit, following the schedule
//	off        dark
//	cool_down  fading out; always entered when leaving on or custom
//	custom     manual or animation override, expires after CustomTimeout
//	reboot     requested restart; routed through cool_down and off
//
// The schedule window is resolved from fixed HH:MM times or from
// astronomical sunrise and sunset at the configured location, using a fixed
// UTC offset with no daylight-saving adjustment. When the on time is later
// than the off time the window wraps midnight.
//
// Manual TurnOn and TurnOff freeze the schedule until the end of the
// current scheduled phase (the next on or off boundary), so an override is
// not undone by the next tick.
package schedule

// Package command defines the directives sent to lighting devices.
//
// A Command is a kind tag plus a small set of common parameters (target,
// colours, timing, sequence stamp) and an open set of kind-specific fields.
// On the wire a command is a flat JSON object:
//
//	{"command":"CrossFade","target":"adapi1","colors":[[255,0,0]],"seconds":2}
//
// A Batch groups commands that must be delivered atomically to one device.
//
// Commands are values. The With* helpers return modified copies, so a
// command held by one device queue is never mutated by another.
package command

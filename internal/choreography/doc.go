// Package choreography decides what the fleet shows.
//
// The Engine runs a fixed-rate loop (40 Hz by default). Each tick it
// drains at most one remote-control message, advances the power schedule
// and applies transition side effects exactly once, then lets the highest
// priority source of light have its say:
//
//  1. an active animation (from a remote request or the idle "cool"
//     animation timer),
//  2. the rainbow celebration, which holds the fleet for its duration,
//  3. camera signals: emotions blush, faces trigger the rainbow, movement
//     starts rain,
//  4. the idle timer picking a random cool animation,
//  5. new sentiment data fading each device's zones,
//  6. replaying the last colour to devices that fell behind.
//
// At most one of these produces output per tick. Colour overrides from
// remote control suppress all of them until the schedule takes over again.
//
// Animations are authored in YAML or Lua; zone maps (which LED columns
// belong to which sentiment zone) are YAML, one file per device.
package choreography

// Package queue provides the thread-safe priority queue used for each
// device session, the camera signal channel and the remote-control inbox.
//
// Lower priority numbers are more urgent. Entries with equal priority are
// returned in insertion order. Depth limiting is the caller's job: Prune
// discards the most urgent entries first, which for a single priority band
// means the oldest work is sacrificed and the newest survives.
package queue

package command

import (
	"encoding/json"
	"time"
)

// Batch is a group of commands delivered to one device in a single
// exchange.
type Batch []Command

// Target returns the device addressed by the batch, or "" for a broadcast.
// Untargeted commands inside a targeted batch follow the batch target; two
// distinct explicit targets are an error.
func (b Batch) Target() (string, error) {
	target := ""
	for _, c := range b {
		if c.IsBroadcast() {
			continue
		}
		if target != "" && c.Target != target {
			return "", ErrMixedTargets
		}
		target = c.Target
	}
	return target, nil
}

// WithSequence returns a copy of the batch with every command stamped.
func (b Batch) WithSequence(seq int64) Batch {
	out := make(Batch, len(b))
	for i, c := range b {
		out[i] = c.WithSequence(seq)
	}
	return out
}

// HoldDuration is the longest hold of any command in the batch.
func (b Batch) HoldDuration() time.Duration {
	if len(b) == 0 {
		return DefaultHold
	}
	var d time.Duration
	for _, c := range b {
		if h := c.HoldDuration(); h > d {
			d = h
		}
	}
	return d
}

// Kinds lists the command kinds in order, for logging.
func (b Batch) Kinds() []string {
	kinds := make([]string, len(b))
	for i, c := range b {
		kinds[i] = c.Kind
	}
	return kinds
}

// MarshalJSON encodes a single command as an object and anything longer
// as an array.
func (b Batch) MarshalJSON() ([]byte, error) {
	if len(b) == 1 {
		return json.Marshal(b[0])
	}
	return json.Marshal([]Command(b))
}

package choreography

import "time"

// TimedLatch turns a noisy boolean signal into at most one positive edge
// per delay window.
type TimedLatch struct {
	delay      time.Duration
	switchedAt time.Time
	on         bool
}

// NewTimedLatch creates a latch that is immediately able to switch.
func NewTimedLatch(delay time.Duration) *TimedLatch {
	return &TimedLatch{delay: delay}
}

// Switch feeds a sample. It returns true, and latches on, when value is
// true and the previous switch was more than delay ago.
func (l *TimedLatch) Switch(now time.Time, value bool) bool {
	if !value {
		return false
	}
	if !l.switchedAt.IsZero() && !now.After(l.switchedAt.Add(l.delay)) {
		return false
	}
	l.switchedAt = now
	l.on = true
	return true
}

// IsOn reports and consumes a pending edge.
func (l *TimedLatch) IsOn() bool {
	on := l.on
	l.on = false
	return on
}

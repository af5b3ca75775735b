package schedule

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

const (
	// refreshInterval bounds how long resolved boundaries are reused.
	refreshInterval = time.Hour

	// Fallback sun times for latitudes where the sun does not rise or set.
	fallbackSunriseHour = 6
	fallbackSunsetHour  = 18

	dateLayout = "2006-01-02"
)

// Config holds the schedule parameters.
type Config struct {
	RunDays   []time.Weekday
	OnTime    TimeSetting
	OffTime   TimeSetting
	Latitude  float64
	Longitude float64
	// UTCOffset is the fixed offset of local time from UTC, in hours.
	UTCOffset float64

	TurnOffTimeout time.Duration
	CustomTimeout  time.Duration
	RebootTimeout  time.Duration

	Overrides []DayOverride
}

// Status is a point-in-time view of the machine for reporting.
type Status struct {
	State       State     `json:"state"`
	Rebooting   bool      `json:"rebooting"`
	FreezeUntil time.Time `json:"freeze_until,omitzero"`
	RunDay      bool      `json:"run_day"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// window is the resolved schedule for one local calendar date.
type window struct {
	date       string
	start, end time.Time
	runDay     bool
	resolvedAt time.Time
}

func (w window) contains(t time.Time) bool {
	if !w.start.After(w.end) {
		return !t.Before(w.start) && t.Before(w.end)
	}
	// on time after off time: lit across midnight
	return !t.Before(w.start) || t.Before(w.end)
}

// StateMachine tracks the installation's power state.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the choreography loop is
//     expected to be the only writer.
type StateMachine struct {
	mu sync.Mutex

	cfg       Config
	loc       *time.Location
	runDays   map[time.Weekday]bool
	overrides map[string]DayOverride

	state        State
	turnOffStart time.Time
	customStart  time.Time
	rebootStart  time.Time
	rebooting    bool
	freezeUntil  time.Time

	resolved window
}

// New creates a state machine in the initial state.
func New(cfg Config) (*StateMachine, error) {
	if err := cfg.OnTime.validate(); err != nil {
		return nil, fmt.Errorf("on time: %w", err)
	}
	if err := cfg.OffTime.validate(); err != nil {
		return nil, fmt.Errorf("off time: %w", err)
	}
	if cfg.UTCOffset < -14 || cfg.UTCOffset > 14 {
		return nil, fmt.Errorf("%w: utc offset %v out of range", ErrInvalidConfig, cfg.UTCOffset)
	}
	if cfg.TurnOffTimeout < 0 || cfg.CustomTimeout < 0 || cfg.RebootTimeout < 0 {
		return nil, fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}

	sm := &StateMachine{
		cfg:       cfg,
		loc:       time.FixedZone("schedule", int(math.Round(cfg.UTCOffset*3600))),
		runDays:   make(map[time.Weekday]bool, len(cfg.RunDays)),
		overrides: make(map[string]DayOverride, len(cfg.Overrides)),
		state:     StateInitial,
	}
	for _, d := range cfg.RunDays {
		sm.runDays[d] = true
	}
	for _, ov := range cfg.Overrides {
		if _, err := time.Parse(dateLayout, ov.Date); err != nil {
			return nil, fmt.Errorf("%w: override date %q", ErrInvalidConfig, ov.Date)
		}
		if err := ov.On.validate(); err != nil {
			return nil, fmt.Errorf("override %s on time: %w", ov.Date, err)
		}
		if err := ov.Off.validate(); err != nil {
			return nil, fmt.Errorf("override %s off time: %w", ov.Date, err)
		}
		sm.overrides[ov.Date] = ov
	}
	return sm, nil
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Location returns the fixed zone the schedule is evaluated in.
func (sm *StateMachine) Location() *time.Location {
	return sm.loc
}

// Advance evaluates the schedule at now and applies any due transition.
func (sm *StateMachine) Advance(now time.Time) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.advance(now)
}

func (sm *StateMachine) advance(now time.Time) (State, error) {
	if sm.state == StateInitial {
		return sm.state, ErrNotSeeded
	}

	desired := sm.desired(now)

	switch {
	case sm.state == StateCoolDown:
		if now.Sub(sm.turnOffStart) > sm.cfg.TurnOffTimeout {
			sm.set(StateOff, now)
			if sm.rebooting {
				sm.rebootStart = now
			}
		}
	case sm.state == StateOff && sm.rebooting:
		if now.Sub(sm.rebootStart) > sm.cfg.RebootTimeout {
			sm.set(StateCustom, now)
			sm.rebooting = false
		}
	case sm.state == StateCustom:
		if now.Sub(sm.customStart) > sm.cfg.CustomTimeout {
			if desired {
				sm.set(StateOn, now)
			} else {
				sm.set(StateOff, now)
			}
		}
	case sm.state == StateOff:
		if desired {
			sm.set(StateOn, now)
		}
	case sm.state == StateOn:
		if !desired {
			sm.set(StateOff, now)
		}
	}
	return sm.state, nil
}

// SetState requests a state. Leaving on or custom for off is routed through
// cool_down; reboot is routed through cool_down with the reboot flag set.
// The resulting state is returned.
func (sm *StateMachine) SetState(s State, now time.Time) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !s.Valid() {
		return sm.state, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	sm.set(s, now)
	return sm.state, nil
}

func (sm *StateMachine) set(s State, now time.Time) {
	switch s {
	case StateOff:
		if sm.state.Lit() {
			s = StateCoolDown
			sm.turnOffStart = now
		}
	case StateCoolDown:
		sm.turnOffStart = now
	case StateCustom:
		sm.customStart = now
	case StateReboot:
		sm.rebootStart = now
		sm.rebooting = true
		s = StateCoolDown
		sm.turnOffStart = now
	}
	sm.state = s
}

// TurnOn switches the lights on and freezes the schedule until the next
// off boundary.
func (sm *StateMachine) TurnOn(now time.Time) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.freezeUntil = sm.nextBoundary(now, boundaryOff)
	sm.set(StateOn, now)
	return sm.state
}

// TurnOff switches the lights off (through cool_down) and freezes the
// schedule until the next on boundary.
func (sm *StateMachine) TurnOff(now time.Time) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.freezeUntil = sm.nextBoundary(now, boundaryOn)
	sm.set(StateOff, now)
	return sm.state
}

// Reset drops any freeze and advances.
func (sm *StateMachine) Reset(now time.Time) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.freezeUntil = time.Time{}
	return sm.advance(now)
}

// FinishReboot ends a reboot early, as reported by the devices, and enters
// custom so choreography resumes.
func (sm *StateMachine) FinishReboot(now time.Time) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.rebooting {
		sm.rebooting = false
		sm.set(StateCustom, now)
	}
	return sm.state
}

// Refresh re-resolves today's boundaries (sun times, date overrides).
func (sm *StateMachine) Refresh(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resolved = sm.resolve(now)
}

// Window returns the resolved start and end of today's schedule.
func (sm *StateMachine) Window(now time.Time) (start, end time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	w := sm.window(now)
	return w.start, w.end
}

// TimeOf places a time setting on now's calendar date in the schedule's
// zone, resolving sun events for that date.
func (sm *StateMachine) TimeOf(now time.Time, ts TimeSetting) time.Time {
	return sm.timeOf(now.In(sm.loc), ts)
}

// Status returns a snapshot for reporting.
func (sm *StateMachine) Status(now time.Time) Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	w := sm.window(now)
	st := Status{
		State:       sm.state,
		Rebooting:   sm.rebooting,
		RunDay:      w.runDay,
		WindowStart: w.start,
		WindowEnd:   w.end,
	}
	if now.Before(sm.freezeUntil) {
		st.FreezeUntil = sm.freezeUntil
	}
	return st
}

// desired computes whether the schedule wants the lights on at now.
func (sm *StateMachine) desired(now time.Time) bool {
	if !sm.freezeUntil.IsZero() && now.Before(sm.freezeUntil) {
		return sm.state.Lit()
	}

	w := sm.window(now)
	if !w.runDay {
		return false
	}
	return w.contains(now)
}

// window returns the cached resolution for now's date, re-resolving when
// the date changed or the cache is older than refreshInterval.
func (sm *StateMachine) window(now time.Time) window {
	date := now.In(sm.loc).Format(dateLayout)
	age := now.Sub(sm.resolved.resolvedAt)
	if sm.resolved.date != date || age < 0 || age >= refreshInterval {
		sm.resolved = sm.resolve(now)
	}
	return sm.resolved
}

func (sm *StateMachine) resolve(now time.Time) window {
	d := now.In(sm.loc)
	w := sm.resolveDate(d)
	w.resolvedAt = now
	return w
}

func (sm *StateMachine) resolveDate(d time.Time) window {
	date := d.Format(dateLayout)
	on, off := sm.cfg.OnTime, sm.cfg.OffTime
	runDay := sm.runDays[d.Weekday()]
	if ov, ok := sm.overrides[date]; ok {
		on, off = ov.On, ov.Off
		runDay = true
	}
	return window{
		date:   date,
		start:  sm.timeOf(d, on),
		end:    sm.timeOf(d, off),
		runDay: runDay,
	}
}

type boundary int

const (
	boundaryOn boundary = iota
	boundaryOff
)

// nextBoundary returns the first on or off boundary after now. Boundaries
// count on every day, run day or not.
func (sm *StateMachine) nextBoundary(now time.Time, kind boundary) time.Time {
	d := now.In(sm.loc)
	var next time.Time
	for _, w := range []window{sm.resolveDate(d), sm.resolveDate(d.AddDate(0, 0, 1))} {
		t := w.start
		if kind == boundaryOff {
			t = w.end
		}
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next
}

// timeOf places a time setting on d's calendar date.
func (sm *StateMachine) timeOf(d time.Time, ts TimeSetting) time.Time {
	h, m := ts.Hour, ts.Minute
	if ts.Sun != "" {
		h, m = sm.sunClock(d, ts.Sun)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, sm.loc)
}

// sunClock resolves sunrise or sunset on d's date to local hour and minute.
func (sm *StateMachine) sunClock(d time.Time, event string) (int, int) {
	rise, set := sunrise.SunriseSunset(sm.cfg.Latitude, sm.cfg.Longitude, d.Year(), d.Month(), d.Day())

	t, fallback := rise, fallbackSunriseHour
	if event == Sunset {
		t, fallback = set, fallbackSunsetHour
	}
	if t.IsZero() {
		return fallback, 0
	}
	t = t.In(sm.loc)
	return t.Hour(), t.Minute()
}

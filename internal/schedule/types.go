package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// State is a power state.
type State string

// Power states.
const (
	StateInitial  State = "initial"
	StateOn       State = "on"
	StateOff      State = "off"
	StateCoolDown State = "cool_down"
	StateCustom   State = "custom"
	StateReboot   State = "reboot"
)

// Valid reports whether s may be requested through SetState.
func (s State) Valid() bool {
	switch s {
	case StateOn, StateOff, StateCoolDown, StateCustom, StateReboot:
		return true
	}
	return false
}

// Lit reports whether the lights are expected to be showing something.
func (s State) Lit() bool {
	return s == StateOn || s == StateCustom
}

// Dark reports whether choreography is suspended.
func (s State) Dark() bool {
	return s == StateOff || s == StateCoolDown
}

// Sun events usable as a time setting.
const (
	Sunrise = "sunrise"
	Sunset  = "sunset"
)

// TimeSetting is either a fixed time of day or a sun event.
type TimeSetting struct {
	Hour   int
	Minute int
	Sun    string
}

// At returns a fixed time setting.
func At(hour, minute int) TimeSetting {
	return TimeSetting{Hour: hour, Minute: minute}
}

// ParseTimeSetting accepts "sunrise", "sunset" or "HH:MM".
func ParseTimeSetting(s string) (TimeSetting, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case Sunrise, Sunset:
		return TimeSetting{Sun: s}, nil
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeSetting{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return TimeSetting{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return TimeSetting{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	ts := At(h, m)
	if err := ts.validate(); err != nil {
		return TimeSetting{}, err
	}
	return ts, nil
}

// String renders the setting in the form ParseTimeSetting accepts.
func (t TimeSetting) String() string {
	if t.Sun != "" {
		return t.Sun
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// IsZero reports whether the setting is unset.
func (t TimeSetting) IsZero() bool {
	return t == TimeSetting{}
}

func (t TimeSetting) validate() error {
	if t.Sun != "" {
		if t.Sun != Sunrise && t.Sun != Sunset {
			return fmt.Errorf("%w: unknown sun event %q", ErrInvalidTime, t.Sun)
		}
		return nil
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d out of range", ErrInvalidTime, t.Hour, t.Minute)
	}
	return nil
}

// UnmarshalYAML accepts a string ("sunset", "07:30") or an [hour, minute]
// pair.
func (t *TimeSetting) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseTimeSetting(node.Value)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case yaml.SequenceNode:
		var pair []int
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: expected [hour, minute]", ErrInvalidTime)
		}
		ts := At(pair[0], pair[1])
		if err := ts.validate(); err != nil {
			return err
		}
		*t = ts
		return nil
	default:
		return fmt.Errorf("%w: unsupported yaml node", ErrInvalidTime)
	}
}

// MarshalYAML writes the string form.
func (t TimeSetting) MarshalYAML() (any, error) {
	return t.String(), nil
}

// DayOverride replaces the on/off times for one calendar date and forces
// that date to be a run day.
type DayOverride struct {
	Date string      `yaml:"date"` // YYYY-MM-DD in the configured offset
	On   TimeSetting `yaml:"on_time"`
	Off  TimeSetting `yaml:"off_time"`
}

// ParseWeekdays converts names such as "Monday" into weekdays.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidConfig, name)
		}
		days = append(days, d)
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

package command

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Command kinds understood by the device firmware.
const (
	KindCrossFade    = "CrossFade"
	KindColumnFade   = "ColumnFade"
	KindSetPixels    = "SetPixels"
	KindGradient     = "Gradient"
	KindRainbow      = "Rainbow"
	KindStartRain    = "StartRain"
	KindStopRain     = "StopRain"
	KindFirmwareHash = "FirmwareHash"
	KindSensei       = "sensei"
	KindPing         = "ping"
)

// Broadcast is the explicit "all devices" target.
const Broadcast = "*"

// StartAfterPrevious marks an animation step that waits for the previous
// group of steps to finish.
const StartAfterPrevious = "after-previous"

// DefaultHold is how long a command occupies a device when it declares
// neither hold nor seconds.
const DefaultHold = time.Second

// reserved JSON keys handled by typed fields.
const (
	keyCommand  = "command"
	keyTarget   = "target"
	keySequence = "sequence"
	keySeconds  = "seconds"
	keyHold     = "hold"
	keyColors   = "colors"
	keyStart    = "start"
)

// Color is an RGB triple, each channel 0-255.
type Color [3]int

// Black is the colour used to fade devices out.
var Black = Color{0, 0, 0}

// String renders the colour as "r,g,b".
func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", c[0], c[1], c[2])
}

// ParseRGB parses the "r,g,b" form produced by String.
func ParseRGB(s string) (Color, error) {
	var c Color
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return c, fmt.Errorf("%w: color %q must be r,g,b", ErrInvalidField, s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return c, fmt.Errorf("%w: color channel %q", ErrInvalidField, p)
		}
		c[i] = n
	}
	return c, nil
}

// Command is a single device directive.
type Command struct {
	Kind     string
	Target   string
	Sequence *int64
	Seconds  *float64
	Hold     *float64
	Colors   []Color
	Start    string

	// Extra carries kind-specific fields (hash, size, columns, pixels...).
	Extra map[string]any
}

// New returns a command of the given kind.
func New(kind string) Command {
	return Command{Kind: kind}
}

// Ping is the heartbeat command.
func Ping() Command {
	return New(KindPing)
}

// IsBroadcast reports whether the command is addressed to every device.
func (c Command) IsBroadcast() bool {
	return c.Target == "" || c.Target == Broadcast
}

// WithTarget returns a copy addressed to target.
func (c Command) WithTarget(target string) Command {
	c.Target = target
	return c
}

// WithSequence returns a copy stamped with seq.
func (c Command) WithSequence(seq int64) Command {
	c.Sequence = &seq
	return c
}

// WithSeconds returns a copy with the transition time set.
func (c Command) WithSeconds(s float64) Command {
	c.Seconds = &s
	return c
}

// WithHold returns a copy with the hold time set.
func (c Command) WithHold(h float64) Command {
	c.Hold = &h
	return c
}

// WithColors returns a copy with colours replaced.
func (c Command) WithColors(colors ...Color) Command {
	c.Colors = append([]Color(nil), colors...)
	return c
}

// WithStart returns a copy with the start barrier set.
func (c Command) WithStart(start string) Command {
	c.Start = start
	return c
}

// With returns a copy with a kind-specific field set.
func (c Command) With(key string, value any) Command {
	extra := make(map[string]any, len(c.Extra)+1)
	maps.Copy(extra, c.Extra)
	extra[key] = value
	c.Extra = extra
	return c
}

// Get returns a kind-specific field.
func (c Command) Get(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// HoldDuration is how long the device is busy with this command: hold if
// set, else seconds, else DefaultHold.
func (c Command) HoldDuration() time.Duration {
	switch {
	case c.Hold != nil:
		return seconds(*c.Hold)
	case c.Seconds != nil:
		return seconds(*c.Seconds)
	default:
		return DefaultHold
	}
}

// StepDuration is seconds plus hold, used to pace animation steps.
func (c Command) StepDuration() time.Duration {
	var d time.Duration
	if c.Seconds != nil {
		d += seconds(*c.Seconds)
	}
	if c.Hold != nil {
		d += seconds(*c.Hold)
	}
	return d
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// MarshalJSON encodes the command as one flat object.
func (c Command) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+7)
	maps.Copy(m, c.Extra)
	m[keyCommand] = c.Kind
	if c.Target != "" {
		m[keyTarget] = c.Target
	}
	if c.Sequence != nil {
		m[keySequence] = *c.Sequence
	}
	if c.Seconds != nil {
		m[keySeconds] = *c.Seconds
	}
	if c.Hold != nil {
		m[keyHold] = *c.Hold
	}
	if c.Colors != nil {
		m[keyColors] = c.Colors
	}
	if c.Start != "" {
		m[keyStart] = c.Start
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat command object.
func (c *Command) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML decodes a command from an animation file.
func (c *Command) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]any
	if err := unmarshal(&m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// FromMap builds a command from a generic decoded object, as produced by
// JSON, YAML or Lua tables.
func FromMap(m map[string]any) (Command, error) {
	var c Command
	kind, ok := m[keyCommand].(string)
	if !ok || kind == "" {
		return c, ErrMissingKind
	}
	c.Kind = kind

	for k, v := range m {
		switch k {
		case keyCommand:
		case keyTarget:
			s, ok := v.(string)
			if !ok {
				return c, fmt.Errorf("%w: target must be a string", ErrInvalidField)
			}
			c.Target = s
		case keyStart:
			s, ok := v.(string)
			if !ok {
				return c, fmt.Errorf("%w: start must be a string", ErrInvalidField)
			}
			c.Start = s
		case keySequence:
			f, ok := toFloat(v)
			if !ok {
				return c, fmt.Errorf("%w: sequence must be a number", ErrInvalidField)
			}
			c = c.WithSequence(int64(f))
		case keySeconds:
			f, ok := toFloat(v)
			if !ok {
				return c, fmt.Errorf("%w: seconds must be a number", ErrInvalidField)
			}
			c = c.WithSeconds(f)
		case keyHold:
			f, ok := toFloat(v)
			if !ok {
				return c, fmt.Errorf("%w: hold must be a number", ErrInvalidField)
			}
			c = c.WithHold(f)
		case keyColors:
			colors, err := ParseColors(v)
			if err != nil {
				return c, err
			}
			c.Colors = colors
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]any)
			}
			c.Extra[k] = v
		}
	}
	return c, nil
}

// ParseColors converts a decoded [[r,g,b],...] value into colours.
func ParseColors(v any) ([]Color, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: colors must be a list", ErrInvalidField)
	}
	colors := make([]Color, 0, len(list))
	for _, item := range list {
		c, err := ParseColor(item)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

// ParseColor converts a decoded [r,g,b] value into a colour.
func ParseColor(v any) (Color, error) {
	var c Color
	rgb, ok := v.([]any)
	if !ok || len(rgb) != 3 {
		return c, fmt.Errorf("%w: color must be [r,g,b]", ErrInvalidField)
	}
	for i, ch := range rgb {
		f, ok := toFloat(ch)
		if !ok {
			return c, fmt.Errorf("%w: color channel must be a number", ErrInvalidField)
		}
		c[i] = int(f)
	}
	return c, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package remote

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ada-core/internal/command"
)

// Message is a parsed remote-control path. The concrete types below are
// the only implementations.
type Message interface {
	// Path renders the message back into its path form.
	Path() string
	isMessage()
}

// PowerOption is the argument of a /power message.
type PowerOption string

// Power options.
const (
	PowerOn       PowerOption = "on"
	PowerOff      PowerOption = "off"
	PowerRun      PowerOption = "run"
	PowerCustom   PowerOption = "custom"
	PowerReboot   PowerOption = "reboot"
	PowerRebooted PowerOption = "rebooted"
)

// RainOption is the argument of a /rain message.
type RainOption string

// Rain options.
const (
	RainOn     RainOption = "on"
	RainOff    RainOption = "off"
	RainToggle RainOption = "toggle"
)

// Power changes the power state: /power/<option>.
type Power struct{ Option PowerOption }

// Rain controls the rain overlay: /rain/<option>.
type Rain struct{ Option RainOption }

// Animation plays a named animation: /animation/<name>.
type Animation struct{ Name string }

// Emotion blushes every device in an emotion's colour: /emotion/<name>.
type Emotion struct{ Name string }

// Color cross-fades every device to one colour: /color/<r,g,b>.
type Color struct{ Color command.Color }

// DMX sets the DMX lights: /dmx/<r,g,b>/<r,g,b>/...
type DMX struct{ Colors []command.Color }

// Zone colours one zone on every device: /zone/<n>/<r,g,b>.
type Zone struct {
	Zone  int
	Color command.Color
}

// Strip colours one strip of one device: /strip/<target>/<n>/<r,g,b>.
type Strip struct {
	Target string
	Strip  int
	Color  command.Color
}

// Gradient spreads colours along strips:
// /gradient/<target>/<strip>/<cps>/<seconds>/<r,g,b>/...
// An empty strip means all strips (-1); an empty cps leaves the device
// default (0).
type Gradient struct {
	Target         string
	Strip          int
	ColorsPerStrip int
	Seconds        float64
	Colors         []command.Color
}

// Pixels sets a range of LEDs: /pixels/<target>/<strip>/<leds>/<r,g,b>.
// Target is a device name or its position in the configured zone map list.
type Pixels struct {
	Target string
	Strip  int
	LEDs   string
	Color  command.Color
}

// Ping asks for the current power state: /ping.
type Ping struct{}

// Bridge asks for the smart-plug bridge status: /bridge.
type Bridge struct{}

func (Power) isMessage()     {}
func (Rain) isMessage()      {}
func (Animation) isMessage() {}
func (Emotion) isMessage()   {}
func (Color) isMessage()     {}
func (DMX) isMessage()       {}
func (Zone) isMessage()      {}
func (Strip) isMessage()     {}
func (Gradient) isMessage()  {}
func (Pixels) isMessage()    {}
func (Ping) isMessage()      {}
func (Bridge) isMessage()    {}

// Path implements Message.
func (m Power) Path() string { return "/power/" + string(m.Option) }

// Path implements Message.
func (m Rain) Path() string { return "/rain/" + string(m.Option) }

// Path implements Message.
func (m Animation) Path() string { return "/animation/" + m.Name }

// Path implements Message.
func (m Emotion) Path() string { return "/emotion/" + m.Name }

// Path implements Message.
func (m Color) Path() string { return "/color/" + m.Color.String() }

// Path implements Message.
func (m DMX) Path() string { return "/dmx/" + joinColors(m.Colors) }

// Path implements Message.
func (m Zone) Path() string { return fmt.Sprintf("/zone/%d/%s", m.Zone, m.Color) }

// Path implements Message.
func (m Strip) Path() string { return fmt.Sprintf("/strip/%s/%d/%s", m.Target, m.Strip, m.Color) }

// Path implements Message.
func (m Gradient) Path() string {
	strip, cps := "", ""
	if m.Strip >= 0 {
		strip = strconv.Itoa(m.Strip)
	}
	if m.ColorsPerStrip != 0 {
		cps = strconv.Itoa(m.ColorsPerStrip)
	}
	secs := strconv.FormatFloat(m.Seconds, 'f', -1, 64)
	return fmt.Sprintf("/gradient/%s/%s/%s/%s/%s", m.Target, strip, cps, secs, joinColors(m.Colors))
}

// Path implements Message.
func (m Pixels) Path() string {
	return fmt.Sprintf("/pixels/%s/%d/%s/%s", m.Target, m.Strip, m.LEDs, m.Color)
}

// Path implements Message.
func (Ping) Path() string { return "/ping" }

// Path implements Message.
func (Bridge) Path() string { return "/bridge" }

func joinColors(colors []command.Color) string {
	parts := make([]string, len(colors))
	for i, c := range colors {
		parts[i] = c.String()
	}
	return strings.Join(parts, "/")
}

// Envelope is a message with its sender.
type Envelope struct {
	// From is the sender id, or "" when unknown.
	From     string
	Message  Message
	Received time.Time
}

// ReplyPrefix is prepended to replies meant only for the sender.
func (e Envelope) ReplyPrefix() string {
	if e.From == "" {
		return ""
	}
	return "/user/" + e.From
}

// Parse converts a path into a Message. A leading slash is optional.
func Parse(path string) (Message, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(path), "/"), "/")

	if len(parts) < 2 {
		switch parts[0] {
		case "ping":
			return Ping{}, nil
		case "bridge":
			return Bridge{}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, path)
	}

	cmd, option := parts[0], parts[1]
	malformed := func(reason string) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformed, path, reason)
	}

	switch cmd {
	case "power":
		switch p := PowerOption(option); p {
		case PowerOn, PowerOff, PowerRun, PowerCustom, PowerReboot, PowerRebooted:
			return Power{Option: p}, nil
		}
		return nil, malformed("unknown power option")

	case "rain":
		switch r := RainOption(option); r {
		case RainOn, RainOff, RainToggle:
			return Rain{Option: r}, nil
		}
		return nil, malformed("unknown rain option")

	case "animation":
		if option == "" {
			return nil, malformed("missing animation name")
		}
		return Animation{Name: option}, nil

	case "emotion":
		if option == "" {
			return nil, malformed("missing emotion")
		}
		return Emotion{Name: option}, nil

	case "color":
		c, err := command.ParseRGB(option)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return Color{Color: c}, nil

	case "dmx":
		colors, err := parseColorList(parts[1:])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return DMX{Colors: colors}, nil

	case "zone":
		if len(parts) != 3 {
			return nil, malformed("want /zone/<n>/<r,g,b>")
		}
		zone, err := strconv.Atoi(option)
		if err != nil {
			return nil, malformed("zone must be a number")
		}
		c, err := command.ParseRGB(parts[2])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return Zone{Zone: zone, Color: c}, nil

	case "strip":
		if len(parts) != 4 {
			return nil, malformed("want /strip/<target>/<n>/<r,g,b>")
		}
		strip, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, malformed("strip must be a number")
		}
		c, err := command.ParseRGB(parts[3])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return Strip{Target: option, Strip: strip, Color: c}, nil

	case "gradient":
		if len(parts) < 6 {
			return nil, malformed("want /gradient/<target>/<strip>/<cps>/<seconds>/<r,g,b>...")
		}
		g := Gradient{Target: option, Strip: -1}
		var err error
		if parts[2] != "" {
			if g.Strip, err = strconv.Atoi(parts[2]); err != nil {
				return nil, malformed("strip must be a number")
			}
		}
		if parts[3] != "" {
			if g.ColorsPerStrip, err = strconv.Atoi(parts[3]); err != nil {
				return nil, malformed("colors per strip must be a number")
			}
		}
		if g.Seconds, err = strconv.ParseFloat(parts[4], 64); err != nil {
			return nil, malformed("seconds must be a number")
		}
		if g.Colors, err = parseColorList(parts[5:]); err != nil {
			return nil, malformed(err.Error())
		}
		return g, nil

	case "pixels":
		if len(parts) != 5 {
			return nil, malformed("want /pixels/<target>/<strip>/<leds>/<r,g,b>")
		}
		if option == "" {
			return nil, malformed("missing target")
		}
		strip, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, malformed("strip must be a number")
		}
		if parts[3] == "" {
			return nil, malformed("missing led range")
		}
		c, err := command.ParseRGB(parts[4])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return Pixels{Target: option, Strip: strip, LEDs: parts[3], Color: c}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, path)
}

func parseColorList(parts []string) ([]command.Color, error) {
	colors := make([]command.Color, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		c, err := command.ParseRGB(p)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	if len(colors) == 0 {
		return nil, fmt.Errorf("no colors")
	}
	return colors, nil
}

package choreography

import (
	"fmt"

	"github.com/nerrad567/ada-core/internal/command"
)

// DMXTarget is the device name of the DMX controller process.
const DMXTarget = "DMX"

// Command priorities. Lower is more urgent.
const (
	priorityAnimation = 0
	priorityPixels    = 1
	priorityCamera    = 5
	priorityColor     = 10
)

// Fixed effect parameters.
const (
	rainbowLength = 157
	rainSize      = 12
	rainAmount    = 50.0
	fadeSeconds   = 2.0
	senseiSeconds = 3.0
	blushQuorum   = 3

	defaultEmotion = "Happiness"
)

var (
	white    = command.Color{255, 255, 255}
	dmxFloor = command.Color{0, 0, 80}
)

func crossFade(c command.Color, seconds, hold float64) command.Command {
	return command.New(command.KindCrossFade).WithColors(c).WithSeconds(seconds).WithHold(hold)
}

func columnFade(target string, seconds float64, cols []Column) command.Command {
	return command.New(command.KindColumnFade).WithTarget(target).WithSeconds(seconds).With("columns", cols)
}

func setPixels(target string, px []Pixels) command.Command {
	return command.New(command.KindSetPixels).WithTarget(target).With("pixels", px)
}

func sensei(seconds float64, colors []command.Color) command.Command {
	return command.New(command.KindSensei).WithTarget(DMXTarget).WithSeconds(seconds).WithColors(colors...)
}

func rainbow(hold float64) command.Command {
	return command.New(command.KindRainbow).WithSeconds(0).WithHold(hold).With("length", rainbowLength)
}

func startRain() command.Command {
	return command.New(command.KindStartRain).With("size", rainSize).With("amount", rainAmount)
}

func stopRain() command.Command {
	return command.New(command.KindStopRain)
}

// fadeToBlack is queued when the installation starts cooling down.
func fadeToBlack() []command.Command {
	return []command.Command{
		stopRain(),
		command.New(command.KindSensei).WithSeconds(fadeSeconds).WithColors(command.Black),
	}
}

func gradient(m gradientRequest) command.Command {
	c := command.New(command.KindGradient).WithSeconds(m.seconds).WithColors(m.colors...)
	if m.target != "" && m.target != command.Broadcast {
		c = c.WithTarget(m.target)
	}
	if m.strip >= 0 {
		c = c.With("strip", m.strip)
	}
	if m.colorsPerStrip != 0 {
		c = c.With("cps", m.colorsPerStrip)
	}
	return c
}

type gradientRequest struct {
	target         string
	strip          int
	colorsPerStrip int
	seconds        float64
	colors         []command.Color
}

// Palette maps emotions to colours for normal devices and for DMX.
type Palette struct {
	Colors    map[string]command.Color
	DMXColors map[string]command.Color
}

// Color returns the colour for an emotion.
func (p Palette) Color(emotion string, dmx bool) (command.Color, error) {
	table := p.Colors
	if dmx {
		table = p.DMXColors
	}
	c, ok := table[emotion]
	if !ok {
		return command.Color{}, fmt.Errorf("%w: %q", ErrUnknownEmotion, emotion)
	}
	return c, nil
}

// zoneColors turns a per-zone emotion list into colours, padding to zones
// entries with the last emotion given.
func (p Palette) zoneColors(emotions []string, zones int, dmx bool) ([]command.Color, error) {
	last := defaultEmotion
	if n := len(emotions); n > 0 {
		last = emotions[n-1]
	}
	n := max(zones, len(emotions))
	colors := make([]command.Color, n)
	for i := range n {
		emotion := last
		if i < len(emotions) {
			emotion = emotions[i]
		}
		c, err := p.Color(emotion, dmx)
		if err != nil {
			return nil, err
		}
		colors[i] = c
	}
	return colors, nil
}

// mostCommon returns the most frequent entry, the earliest on ties, and
// its count.
func mostCommon(items []string) (string, int) {
	counts := make(map[string]int, len(items))
	var best string
	var bestCount int
	for _, it := range items {
		counts[it]++
	}
	for _, it := range items {
		if counts[it] > bestCount {
			best, bestCount = it, counts[it]
		}
	}
	return best, bestCount
}

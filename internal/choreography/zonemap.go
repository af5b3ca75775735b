package choreography

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
)

// ZoneLED assigns an LED column to a sentiment zone.
type ZoneLED struct {
	Zone int `yaml:"zone"`
	Col  int `yaml:"col"`
}

// CoreLED is a column of the central core and the fibre-optic LEDs on it.
type CoreLED struct {
	Col  int   `yaml:"col"`
	LEDs []int `yaml:"leds"`
}

// ZoneMap describes one device's LED layout.
type ZoneMap struct {
	ZoneLEDs []ZoneLED `yaml:"zone_leds"`
	CoreLEDs []CoreLED `yaml:"core_leds"`
}

// Column is one entry of a ColumnFade command.
type Column struct {
	Index int           `json:"index"`
	Color command.Color `json:"color"`
}

// Pixels is one entry of a SetPixels command: a strip and an LED range
// such as "0-5,9".
type Pixels struct {
	Strip int           `json:"s"`
	LEDs  string        `json:"l"`
	Color command.Color `json:"color"`
}

// ZoneMaps holds the zone map of every device, in configuration order.
type ZoneMaps struct {
	order []string
	maps  map[string]ZoneMap
}

// NewZoneMaps creates an empty set.
func NewZoneMaps() *ZoneMaps {
	return &ZoneMaps{maps: make(map[string]ZoneMap)}
}

// LoadZoneMaps reads one YAML file per device.
func LoadZoneMaps(files []config.ZoneMapFile) (*ZoneMaps, error) {
	zm := NewZoneMaps()
	for _, f := range files {
		data, err := os.ReadFile(f.File)
		if err != nil {
			return nil, fmt.Errorf("reading zone map for %s: %w", f.Target, err)
		}
		var m ZoneMap
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing zone map %s: %w", f.File, err)
		}
		zm.Add(f.Target, m)
	}
	return zm, nil
}

// Add sets the map for a device, keeping its first position.
func (z *ZoneMaps) Add(target string, m ZoneMap) {
	if _, exists := z.maps[target]; !exists {
		z.order = append(z.order, target)
	}
	z.maps[target] = m
}

// Get returns a device's zone map.
func (z *ZoneMaps) Get(target string) (ZoneMap, bool) {
	m, ok := z.maps[target]
	return m, ok
}

// Resolve maps a device reference, either a name or a position in
// configuration order, to a device name.
func (z *ZoneMaps) Resolve(ref string) (string, bool) {
	if _, ok := z.maps[ref]; ok {
		return ref, true
	}
	i, err := strconv.Atoi(ref)
	if err != nil || i < 0 || i >= len(z.order) {
		return "", false
	}
	return z.order[i], true
}

// zoneColumns colours every column of the zones that colors covers; zone i
// gets colors[i].
func (m ZoneMap) zoneColumns(colors []command.Color) []Column {
	var cols []Column
	for i, c := range colors {
		for _, row := range m.ZoneLEDs {
			if row.Zone == i {
				cols = append(cols, Column{Index: row.Col, Color: c})
			}
		}
	}
	return cols
}

// zoneAndCoreColumns colours one zone together with the core.
func (m ZoneMap) zoneAndCoreColumns(zone int, c command.Color) []Column {
	var cols []Column
	for _, row := range m.ZoneLEDs {
		if row.Zone == zone {
			cols = append(cols, Column{Index: row.Col, Color: c})
		}
	}
	return append(cols, m.coreColumns(c)...)
}

// coreColumns colours every core column.
func (m ZoneMap) coreColumns(c command.Color) []Column {
	cols := make([]Column, 0, len(m.CoreLEDs))
	for _, row := range m.CoreLEDs {
		cols = append(cols, Column{Index: row.Col, Color: c})
	}
	return cols
}

// corePixels lights the fibre-optic LEDs of every core column.
func (m ZoneMap) corePixels(c command.Color) []Pixels {
	px := make([]Pixels, 0, len(m.CoreLEDs))
	for _, row := range m.CoreLEDs {
		leds := make([]string, len(row.LEDs))
		for i, l := range row.LEDs {
			leds[i] = strconv.Itoa(l)
		}
		px = append(px, Pixels{Strip: row.Col, LEDs: strings.Join(leds, ","), Color: c})
	}
	return px
}

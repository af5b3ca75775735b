package choreography

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ada-core/internal/command"
)

// RepeatForever makes an animation wrap around after its last step.
const RepeatForever = "forever"

// Animation is a named sequence of command steps.
type Animation struct {
	Name    string
	Enabled bool
	Repeat  string
	Steps   []command.Command
}

// Player steps through one animation.
//
// Steps are grouped: Next returns every step up to and including the next
// one marked start: after-previous, and the group occupies the fleet for
// the longest seconds+hold among its steps.
type Player struct {
	anim    Animation
	index   int
	next    time.Time
	started time.Time
	timeout time.Duration
}

// Start begins anim. A zero timeout lets it run until replaced (or, for a
// non-repeating animation, forever on its final state).
func (p *Player) Start(anim Animation, timeout time.Duration, now time.Time) {
	p.anim = anim
	p.index = 0
	p.next = now
	p.started = now
	p.timeout = timeout
}

// Name returns the animation being played.
func (p *Player) Name() string {
	return p.anim.Name
}

// Ready reports whether the next group is due.
func (p *Player) Ready(now time.Time) bool {
	return now.After(p.next)
}

// Completed reports whether the timeout given to Start has passed.
func (p *Player) Completed(now time.Time) bool {
	return p.timeout != 0 && now.After(p.started.Add(p.timeout))
}

// Reset rewinds to the first step, due immediately. Used when devices join
// mid-animation.
func (p *Player) Reset(now time.Time) {
	p.index = 0
	p.next = now
}

// Next returns the next group of steps and schedules the one after. It
// returns nil once a non-repeating animation is exhausted.
func (p *Player) Next(now time.Time) []command.Command {
	var group []command.Command
	var duration time.Duration

	steps := p.anim.Steps
	for p.index < len(steps) {
		step := steps[p.index]
		p.index++
		group = append(group, step)
		if d := step.StepDuration(); d > duration {
			duration = d
		}
		if step.Start == command.StartAfterPrevious {
			break
		}
	}
	if p.index == len(steps) && p.anim.Repeat == RepeatForever {
		p.index = 0
	}

	p.next = now.Add(duration)
	return group
}

// Library is the set of loaded animations.
type Library struct {
	animations []Animation
}

// NewLibrary creates a library from already loaded animations.
func NewLibrary(animations ...Animation) *Library {
	return &Library{animations: animations}
}

// LoadLibrary loads every file in paths. YAML files may hold one
// animation or a list; Lua files return one.
func LoadLibrary(paths []string) (*Library, error) {
	lib := &Library{}
	for _, path := range paths {
		anims, err := LoadAnimationFile(path)
		if err != nil {
			return nil, err
		}
		lib.animations = append(lib.animations, anims...)
	}
	return lib, nil
}

// Find returns the animation with the given name, enabled or not.
func (l *Library) Find(name string) (Animation, bool) {
	for _, a := range l.animations {
		if a.Name == name {
			return a, true
		}
	}
	return Animation{}, false
}

// Names lists the animations in load order.
func (l *Library) Names() []string {
	names := make([]string, len(l.animations))
	for i, a := range l.animations {
		names[i] = a.Name
	}
	return names
}

// Random picks an enabled animation.
func (l *Library) Random(rng *rand.Rand) (Animation, bool) {
	var enabled []Animation
	for _, a := range l.animations {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	if len(enabled) == 0 {
		return Animation{}, false
	}
	return enabled[rng.IntN(len(enabled))], true
}

// LoadAnimationFile loads the animations in one YAML or Lua file.
func LoadAnimationFile(path string) ([]Animation, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		a, err := LoadLuaAnimation(path)
		if err != nil {
			return nil, err
		}
		return []Animation{a}, nil
	case ".yaml", ".yml":
		return loadYAMLAnimations(path)
	default:
		return nil, fmt.Errorf("%w: %s: unsupported file type", ErrInvalidAnimation, path)
	}
}

func loadYAMLAnimations(path string) ([]Animation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading animation file: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAnimation, path, err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("%w: %s: expected a mapping or a list", ErrInvalidAnimation, path)
	}

	anims := make([]Animation, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: item %d is not a mapping", ErrInvalidAnimation, path, i)
		}
		a, err := animationFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		anims = append(anims, a)
	}
	return anims, nil
}

// animationFromMap builds an animation from a decoded YAML mapping or Lua
// table: {name, enabled (default true), repeat, steps: [...]}.
func animationFromMap(m map[string]any) (Animation, error) {
	a := Animation{Enabled: true}

	name, _ := m["name"].(string)
	if name == "" {
		return a, fmt.Errorf("%w: missing name", ErrInvalidAnimation)
	}
	a.Name = name

	if v, ok := m["enabled"]; ok {
		enabled, ok := v.(bool)
		if !ok {
			return a, fmt.Errorf("%w: %s: enabled must be a boolean", ErrInvalidAnimation, name)
		}
		a.Enabled = enabled
	}
	if v, ok := m["repeat"]; ok {
		a.Repeat, _ = v.(string)
	}

	steps, ok := m["steps"].([]any)
	if !ok || len(steps) == 0 {
		return a, fmt.Errorf("%w: %s: steps must be a non-empty list", ErrInvalidAnimation, name)
	}
	for i, s := range steps {
		sm, ok := s.(map[string]any)
		if !ok {
			return a, fmt.Errorf("%w: %s: step %d is not a mapping", ErrInvalidAnimation, name, i)
		}
		c, err := command.FromMap(sm)
		if err != nil {
			return a, fmt.Errorf("%w: %s: step %d: %v", ErrInvalidAnimation, name, i, err)
		}
		a.Steps = append(a.Steps, c)
	}
	return a, nil
}

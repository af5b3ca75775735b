package choreography

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/remote"
	"github.com/nerrad567/ada-core/internal/schedule"
)

// handleRemote dispatches one remote-control message.
func (e *Engine) handleRemote(ctx context.Context, env remote.Envelope, now time.Time) error {
	e.logger.Debug("remote message", "path", env.Message.Path(), "from", env.From)

	switch m := env.Message.(type) {
	case remote.Ping:
		e.send(env.ReplyPrefix() + "/state/" + string(e.schedule.State()))
	case remote.Bridge:
		e.send(env.ReplyPrefix() + "/bridge/" + e.bridgeStatus())
	case remote.Power:
		return e.handlePower(ctx, m.Option, now)
	case remote.Rain:
		e.handleRain(ctx, m.Option, now)
	case remote.Animation:
		anim, ok := e.library.Find(m.Name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAnimation, m.Name)
		}
		e.enterCustom(ctx, now)
		e.colorOverride = false
		e.player.Start(anim, 0, now)
		e.animating = true
	case remote.Emotion:
		c, err := e.palette.Color(m.Name, false)
		if err != nil {
			return err
		}
		e.override(ctx, now)
		e.setColor(c, now)
	case remote.Color:
		e.override(ctx, now)
		e.setColor(m.Color, now)
	case remote.DMX:
		e.override(ctx, now)
		e.queue(priorityColor, sensei(fadeSeconds, m.Colors).WithHold(fadeSeconds))
	case remote.Zone:
		e.override(ctx, now)
		for _, target := range e.fleet.Clients() {
			zm, ok := e.zones.Get(target)
			if !ok {
				continue
			}
			e.queue(priorityPixels, columnFade(target, 0, zm.zoneAndCoreColumns(m.Zone, m.Color)))
		}
	case remote.Strip:
		e.override(ctx, now)
		e.queue(priorityPixels, columnFade(e.resolveTarget(m.Target), 0, []Column{{Index: m.Strip, Color: m.Color}}))
	case remote.Gradient:
		if m.Target == DMXTarget {
			return nil
		}
		e.override(ctx, now)
		e.queue(priorityColor, gradient(gradientRequest{
			target:         m.Target,
			strip:          m.Strip,
			colorsPerStrip: m.ColorsPerStrip,
			seconds:        m.Seconds,
			colors:         m.Colors,
		}))
	case remote.Pixels:
		e.override(ctx, now)
		e.queue(priorityPixels, setPixels(e.resolveTarget(m.Target), []Pixels{{Strip: m.Strip, LEDs: m.LEDs, Color: m.Color}}))
	default:
		return fmt.Errorf("%w: %T", remote.ErrUnknownCommand, m)
	}
	return nil
}

func (e *Engine) handlePower(ctx context.Context, opt remote.PowerOption, now time.Time) error {
	switch opt {
	case remote.PowerOn:
		e.transition(ctx, e.schedule.TurnOn(now), now)
	case remote.PowerOff:
		e.transition(ctx, e.schedule.TurnOff(now), now)
	case remote.PowerRun:
		prev := e.state
		if _, err := e.schedule.SetState(schedule.StateOn, now); err != nil {
			return err
		}
		state, err := e.schedule.Reset(now)
		if err != nil {
			return err
		}
		e.transition(ctx, state, now)
		if state == schedule.StateOn && prev == schedule.StateOn {
			e.resume(now)
		}
	case remote.PowerCustom:
		e.enterCustom(ctx, now)
	case remote.PowerReboot:
		e.reboot(ctx, now)
	case remote.PowerRebooted:
		e.transition(ctx, e.schedule.FinishReboot(now), now)
		e.send("/state/rebooted")
	default:
		return fmt.Errorf("%w: power option %q", remote.ErrMalformed, opt)
	}
	return nil
}

func (e *Engine) handleRain(ctx context.Context, opt remote.RainOption, now time.Time) {
	if opt == remote.RainToggle {
		opt = remote.RainOn
		if e.raining {
			opt = remote.RainOff
		}
	}

	if opt == remote.RainOn {
		e.enterCustom(ctx, now)
		e.queue(priorityAnimation, startRain())
		e.raining = true
		e.stopRainAt = time.Time{}
		return
	}
	e.queue(priorityAnimation, stopRain().WithSeconds(1))
	e.raining = false
	e.stopRainAt = time.Time{}
}

// enterCustom switches to custom so the schedule leaves the override in
// place until the custom timeout.
func (e *Engine) enterCustom(ctx context.Context, now time.Time) {
	state, err := e.schedule.SetState(schedule.StateCustom, now)
	if err != nil {
		e.logger.Error("entering custom", "error", err)
		return
	}
	e.transition(ctx, state, now)
}

// override enters custom and takes the lights away from animations,
// the camera and sentiment.
func (e *Engine) override(ctx context.Context, now time.Time) {
	e.enterCustom(ctx, now)
	e.colorOverride = true
	e.animating = false
}

func (e *Engine) setColor(c command.Color, now time.Time) {
	e.queue(priorityColor, crossFade(c, fadeSeconds, fadeSeconds))
	e.lastColor = c
	e.lastChange = now
}

// resolveTarget accepts a device name or a zone map position.
func (e *Engine) resolveTarget(ref string) string {
	if name, ok := e.zones.Resolve(ref); ok {
		return name
	}
	return ref
}

func (e *Engine) bridgeStatus() string {
	b := e.fleet.Bridge()
	if b == nil || !b.Connected() {
		return "disconnected"
	}
	if msg := b.Err(); msg != "" {
		return msg
	}
	return "ok"
}

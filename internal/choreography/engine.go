package choreography

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/ada-core/internal/bridges/kasa"
	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/remote"
	"github.com/nerrad567/ada-core/internal/schedule"
	"github.com/nerrad567/ada-core/internal/sentiment"
)

const (
	defaultTickInterval = 25 * time.Millisecond
	refreshInterval     = time.Hour
	movementDebounce    = 10 * time.Second
	bridgeTimeout       = 2 * time.Second
)

// Fleet is the part of the device registry the engine drives.
type Fleet interface {
	Increment()
	StaleClients() []string
	Clients() []string
	Idle() bool
	QueueCommand(priority int, cmds ...command.Command) error
	ClearQueues()
	ReadCamera() (fleet.CameraSignal, bool)
	SetCamera(on bool) bool
	Bridge() *kasa.Client
}

var _ Fleet = (*fleet.Registry)(nil)

// Schedule is the power state machine.
type Schedule interface {
	State() schedule.State
	Advance(now time.Time) (schedule.State, error)
	SetState(s schedule.State, now time.Time) (schedule.State, error)
	TurnOn(now time.Time) schedule.State
	TurnOff(now time.Time) schedule.State
	Reset(now time.Time) (schedule.State, error)
	FinishReboot(now time.Time) schedule.State
	Refresh(now time.Time)
	TimeOf(now time.Time, ts schedule.TimeSetting) time.Time
}

var _ Schedule = (*schedule.StateMachine)(nil)

// Remote supplies remote-control messages and carries replies.
type Remote interface {
	Next() (remote.Envelope, bool)
	Send(path string) error
}

var _ Remote = (*remote.Bus)(nil)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRemote struct{}

func (noopRemote) Next() (remote.Envelope, bool) { return remote.Envelope{}, false }
func (noopRemote) Send(string) error             { return nil }

type noopSentiment struct{}

func (noopSentiment) Start()                 {}
func (noopSentiment) Stop()                  {}
func (noopSentiment) Next() ([]string, bool) { return nil, false }

// Deps are the collaborators of an Engine. Fleet and Schedule are
// required.
type Deps struct {
	Fleet     Fleet
	Schedule  Schedule
	Remote    Remote
	Sentiment sentiment.Source
	Library   *Library
	ZoneMaps  *ZoneMaps
}

// Options configures optional Engine behaviour.
type Options struct {
	// Logger receives engine diagnostics. Optional.
	Logger Logger

	// OnState is called after every power state transition. Optional.
	OnState func(prev, next schedule.State)

	// OnRemote is called after every remote message is handled, with the
	// handler's error. Optional.
	OnRemote func(env remote.Envelope, err error)

	// Rand picks cool animations. Optional.
	Rand *rand.Rand
}

// Status is a snapshot of what the engine is doing, for reporting.
type Status struct {
	State         schedule.State `json:"state"`
	Animation     string         `json:"animation,omitempty"`
	ColorOverride bool           `json:"color_override"`
	Raining       bool           `json:"raining"`
	// RainbowUntil is when the last rainbow ends, possibly in the past.
	RainbowUntil time.Time     `json:"rainbow_until,omitzero"`
	LastColor    command.Color `json:"last_color"`
}

// Engine runs the choreography loop.
//
// Thread Safety:
//   - Tick and Run must be called from one goroutine; the engine is the
//     only writer of power, animation and override state.
//   - Status is safe for concurrent use.
type Engine struct {
	fleet     Fleet
	schedule  Schedule
	remote    Remote
	sentiment sentiment.Source
	library   *Library
	zones     *ZoneMaps
	palette   Palette
	opts      Options
	logger    Logger
	rng       *rand.Rand

	interval        time.Duration
	autoReboot      time.Duration
	rainbowTimeout  time.Duration
	movementRain    time.Duration
	coolTimeout     time.Duration
	coolTime        schedule.TimeSetting
	holdCameraBlush float64
	holdSenseiBlush float64
	enableMovement  bool
	cameraZones     int
	rainbowHold     float64

	state         schedule.State
	player        Player
	animating     bool
	colorOverride bool
	raining       bool
	stopRainAt    time.Time
	rainbowUntil  time.Time
	lastChange    time.Time
	lastCool      time.Time
	lastColor     command.Color
	coreOn        bool
	autoRebootAt  time.Time
	nextRefresh   time.Time
	movement      *TimedLatch
	bridge        *kasa.Client

	mu     sync.RWMutex
	status Status
}

// NewEngine creates an engine from the choreography configuration.
func NewEngine(cfg config.ChoreographyConfig, deps Deps, opts Options) (*Engine, error) {
	if deps.Fleet == nil {
		return nil, fmt.Errorf("choreography: fleet is required")
	}
	if deps.Schedule == nil {
		return nil, fmt.Errorf("choreography: schedule is required")
	}
	if deps.Remote == nil {
		deps.Remote = noopRemote{}
	}
	if deps.Sentiment == nil {
		deps.Sentiment = noopSentiment{}
	}
	if deps.Library == nil {
		deps.Library = NewLibrary()
	}
	if deps.ZoneMaps == nil {
		deps.ZoneMaps = NewZoneMaps()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	interval := time.Duration(cfg.TickInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultTickInterval
	}

	e := &Engine{
		fleet:     deps.Fleet,
		schedule:  deps.Schedule,
		remote:    deps.Remote,
		sentiment: deps.Sentiment,
		library:   deps.Library,
		zones:     deps.ZoneMaps,
		palette: Palette{
			Colors:    cfg.ColorsForEmotions,
			DMXColors: cfg.ColorsForDMXEmotions,
		},
		opts:   opts,
		logger: opts.Logger,
		rng:    opts.Rand,

		interval:        interval,
		autoReboot:      time.Duration(cfg.AutoReboot * float64(time.Hour)),
		rainbowTimeout:  config.FloatSeconds(cfg.RainbowTimeout),
		movementRain:    config.FloatSeconds(cfg.MovementRainTimeout),
		coolTimeout:     config.FloatSeconds(cfg.CoolAnimationTimeout),
		coolTime:        cfg.CoolAnimationTime,
		holdCameraBlush: cfg.HoldCameraBlush,
		holdSenseiBlush: cfg.HoldSenseiBlush,
		enableMovement:  cfg.EnableMovement,
		cameraZones:     len(cfg.CameraZones),
		rainbowHold:     cfg.RainbowTimeout,

		state:     deps.Schedule.State(),
		lastColor: command.Black,
		movement:  NewTimedLatch(movementDebounce),
	}
	e.status = Status{State: e.state, LastColor: e.lastColor}
	return e, nil
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("choreography started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("choreography stopped")
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Tick runs one choreography iteration. At most one light source produces
// output per tick.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	defer e.publishStatus()

	e.fleet.Increment()

	if !now.Before(e.nextRefresh) {
		e.schedule.Refresh(now)
		e.nextRefresh = now.Add(refreshInterval)
	}

	e.pingBridge(ctx, now)
	stale := e.fleet.StaleClients()

	if e.schedule.State() == schedule.StateInitial {
		if _, err := e.schedule.SetState(schedule.StateOff, now); err != nil {
			e.logger.Error("seeding schedule", "error", err)
			return
		}
	}

	if env, ok := e.remote.Next(); ok {
		err := e.handleRemote(ctx, env, now)
		if err != nil {
			e.logger.Warn("remote message failed", "path", env.Message.Path(), "from", env.From, "error", err)
		}
		if e.opts.OnRemote != nil {
			e.opts.OnRemote(env, err)
		}
	}

	state, err := e.schedule.Advance(now)
	if err != nil {
		e.logger.Error("advancing schedule", "error", err)
		return
	}
	e.transition(ctx, state, now)

	if !e.autoRebootAt.IsZero() && now.After(e.autoRebootAt) && e.state.Lit() {
		e.logger.Info("automatic reboot")
		e.autoRebootAt = time.Time{}
		e.reboot(ctx, now)
	}

	if e.raining && !e.stopRainAt.IsZero() && now.After(e.stopRainAt) {
		e.queue(priorityAnimation, stopRain().WithSeconds(1))
		e.raining = false
		e.stopRainAt = time.Time{}
	}

	if e.state.Dark() {
		e.fleet.SetCamera(false)
		return
	}
	e.fleet.SetCamera(true)

	e.choreograph(now, stale)
}

// choreograph lets the first applicable light source produce output.
func (e *Engine) choreograph(now time.Time, stale []string) {
	if e.animating && !e.colorOverride {
		e.stepAnimation(now, stale)
		return
	}

	if now.Before(e.rainbowUntil) && len(stale) == 0 {
		return
	}

	if !e.colorOverride && e.camera(now) {
		return
	}

	if !e.colorOverride && e.coolAnimation(now, stale) {
		return
	}

	if !e.colorOverride {
		if emotions, ok := e.sentiment.Next(); ok {
			e.fadeSentiment(emotions, now)
			return
		}
	}

	for _, name := range stale {
		e.queue(priorityColor, crossFade(e.lastColor, fadeSeconds, fadeSeconds).WithTarget(name))
	}
}

func (e *Engine) stepAnimation(now time.Time, stale []string) {
	if len(stale) > 0 {
		e.player.Reset(now)
	}
	if e.player.Ready(now) {
		if steps := e.player.Next(now); len(steps) > 0 {
			e.trackRain(steps)
			e.fleet.ClearQueues()
			e.queueByTarget(priorityAnimation, steps)
		}
	}
	if e.player.Completed(now) {
		e.logger.Debug("animation completed", "animation", e.player.Name())
		e.animating = false
	}
}

func (e *Engine) trackRain(steps []command.Command) {
	for _, s := range steps {
		switch s.Kind {
		case command.KindStartRain:
			e.raining = true
		case command.KindStopRain:
			e.raining = false
			e.stopRainAt = time.Time{}
		}
	}
}

// camera handles one camera signal. It reports whether the tick's output
// was produced.
func (e *Engine) camera(now time.Time) bool {
	sig, ok := e.fleet.ReadCamera()
	if !ok {
		return false
	}

	switch sig.Kind {
	case fleet.CameraEmotions:
		emotion, n := mostCommon(sig.Emotions)
		if n == 0 {
			return false
		}
		c, err := e.palette.Color(emotion, false)
		if err != nil {
			e.logger.Warn("camera emotion", "error", err)
			return false
		}
		e.queue(priorityCamera, crossFade(c, fadeSeconds, e.holdCameraBlush))
		e.lastColor = c
		e.lastChange = now
		return true

	case fleet.CameraFaces:
		if sig.Faces <= 2 {
			return false
		}
		e.coreOn = true
		e.queue(priorityAnimation, rainbow(e.rainbowHold))
		e.rainbowUntil = now.Add(e.rainbowTimeout)
		e.lastChange = now
		return true

	case fleet.CameraMovement:
		if !e.enableMovement || !e.movement.Switch(now, sig.Moving) {
			return false
		}
		if !e.raining {
			e.queue(priorityAnimation, startRain())
			e.raining = true
			e.stopRainAt = now.Add(e.movementRain)
		} else if !e.stopRainAt.IsZero() {
			e.stopRainAt = now.Add(e.movementRain)
		}
		e.lastChange = now
	}
	return false
}

// coolAnimation starts a random animation when the fleet has been idle
// long enough or it is past the configured time of day.
func (e *Engine) coolAnimation(now time.Time, stale []string) bool {
	idle := e.fleet.Idle() && now.After(e.lastChange.Add(e.coolTimeout))
	late := !e.coolTime.IsZero() && !now.Before(e.schedule.TimeOf(now, e.coolTime))
	if !idle && !late {
		return false
	}
	e.lastChange = now

	if now.Before(e.lastCool.Add(e.coolTimeout)) && len(stale) == 0 {
		return true
	}
	anim, ok := e.library.Random(e.rng)
	if !ok {
		return false
	}
	e.logger.Info("starting cool animation", "animation", anim.Name)
	e.player.Start(anim, e.coolTimeout, now)
	e.animating = true
	e.lastCool = now
	return true
}

// fadeSentiment fades every connected device toward its zones' emotions.
func (e *Engine) fadeSentiment(emotions []string, now time.Time) {
	resetCore := e.coreOn
	e.coreOn = false

	for _, target := range e.fleet.Clients() {
		if err := e.fadeTarget(target, emotions, resetCore, now); err != nil {
			e.logger.Warn("sentiment fade", "device", target, "error", err)
		}
	}
}

// fadeTarget queues one device's sentiment fade. When enough zones agree,
// non-DMX devices first blush the shared emotion, which also relights
// their core.
func (e *Engine) fadeTarget(target string, emotions []string, resetCore bool, now time.Time) error {
	dmx := target == DMXTarget

	if emotion, n := mostCommon(emotions); n >= blushQuorum && !dmx {
		c, err := e.palette.Color(emotion, false)
		if err != nil {
			return err
		}
		e.queue(priorityColor, crossFade(c, senseiSeconds, e.holdSenseiBlush).WithTarget(target))
		e.lastColor = c
		e.lastChange = now
		resetCore = true
	}

	colors, err := e.palette.zoneColors(emotions, e.cameraZones, dmx)
	if err != nil {
		return err
	}

	if dmx {
		for i := 0; i < 2 && i < len(colors); i++ {
			colors[i] = dmxFloor
		}
		e.queue(priorityColor, sensei(fadeSeconds, colors))
		e.lastChange = now
		return nil
	}

	zm, ok := e.zones.Get(target)
	if !ok {
		return nil
	}
	var cmds []command.Command
	if resetCore {
		cmds = append(cmds,
			columnFade(target, fadeSeconds, zm.coreColumns(command.Black)),
			setPixels(target, zm.corePixels(white)),
		)
	}
	cmds = append(cmds, columnFade(target, fadeSeconds, zm.zoneColumns(colors)))
	e.queue(priorityColor, cmds...)
	e.lastChange = now
	return nil
}

// transition applies the side effects of entering next, once.
func (e *Engine) transition(ctx context.Context, next schedule.State, now time.Time) {
	prev := e.state
	if prev == next {
		return
	}
	e.state = next
	e.logger.Info("power state changed", "from", prev, "to", next)

	switch {
	case next == schedule.StateCoolDown:
		e.coolDown()
	case next == schedule.StateOff:
		e.powerOff(ctx)
	case next.Lit() && (prev.Dark() || prev == schedule.StateInitial):
		e.powerOn(ctx, now)
	case prev == schedule.StateCustom && next == schedule.StateOn:
		e.resume(now)
	}

	if e.opts.OnState != nil {
		e.opts.OnState(prev, next)
	}
}

func (e *Engine) coolDown() {
	e.fleet.ClearQueues()
	e.queue(priorityAnimation, fadeToBlack()...)
	e.raining = false
	e.stopRainAt = time.Time{}
	e.rainbowUntil = time.Time{}
	e.autoRebootAt = time.Time{}
	e.clearOverrides()
	e.sentiment.Stop()
}

func (e *Engine) powerOff(ctx context.Context) {
	e.switchBridge(ctx, false)
	e.fleet.SetCamera(false)
	e.send("/state/off")
}

func (e *Engine) powerOn(ctx context.Context, now time.Time) {
	e.switchBridge(ctx, true)
	e.fleet.SetCamera(true)
	e.send("/state/on")
	e.clearOverrides()
	e.sentiment.Start()
	e.armAutoReboot(now)
	e.lastChange = now
	e.lastCool = time.Time{}
}

// resume returns from an override to normal running.
func (e *Engine) resume(now time.Time) {
	e.clearOverrides()
	e.send("/state/run")
	e.armAutoReboot(now)
}

func (e *Engine) reboot(ctx context.Context, now time.Time) {
	state, err := e.schedule.SetState(schedule.StateReboot, now)
	if err != nil {
		e.logger.Error("requesting reboot", "error", err)
		return
	}
	e.transition(ctx, state, now)
	e.send("/state/reboot")
}

func (e *Engine) armAutoReboot(now time.Time) {
	if e.autoReboot > 0 {
		e.autoRebootAt = now.Add(e.autoReboot)
	}
}

func (e *Engine) clearOverrides() {
	e.colorOverride = false
	e.animating = false
}

// pingBridge polls a connected bridge, first bringing a newly connected
// one in line with the power state.
func (e *Engine) pingBridge(ctx context.Context, now time.Time) {
	b := e.fleet.Bridge()
	if b == nil || !b.Connected() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, bridgeTimeout)
	defer cancel()

	if b != e.bridge {
		e.bridge = b
		switch {
		case e.state.Lit():
			e.bridgeErr(b.TurnOn(ctx), "on")
		case e.state.Dark():
			e.bridgeErr(b.TurnOff(ctx), "off")
		}
	}
	if _, err := b.UpdateSwitchStatus(ctx, now); err != nil {
		e.logger.Warn("bridge status poll failed", "error", err)
	}
}

func (e *Engine) switchBridge(ctx context.Context, on bool) {
	b := e.fleet.Bridge()
	if b == nil || !b.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, bridgeTimeout)
	defer cancel()

	if on {
		e.bridgeErr(b.TurnOn(ctx), "on")
	} else {
		e.bridgeErr(b.TurnOff(ctx), "off")
	}
}

func (e *Engine) bridgeErr(err error, action string) {
	if err == nil {
		return
	}
	if errors.Is(err, kasa.ErrDisconnected) {
		e.logger.Warn("bridge disconnected", "action", action)
		return
	}
	e.logger.Error("bridge switch failed", "action", action, "error", err)
}

// queue enqueues one batch, logging rather than returning failures.
func (e *Engine) queue(priority int, cmds ...command.Command) {
	if err := e.fleet.QueueCommand(priority, cmds...); err != nil {
		e.logger.Warn("queueing commands", "kinds", command.Batch(cmds).Kinds(), "error", err)
	}
}

// queueByTarget splits cmds into one batch per target, in first-seen order.
func (e *Engine) queueByTarget(priority int, cmds []command.Command) {
	var order []string
	groups := make(map[string][]command.Command)
	for _, c := range cmds {
		t := c.Target
		if t == command.Broadcast {
			t = ""
		}
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], c)
	}
	for _, t := range order {
		e.queue(priority, groups[t]...)
	}
}

func (e *Engine) send(path string) {
	if err := e.remote.Send(path); err != nil {
		e.logger.Debug("remote send failed", "path", path, "error", err)
	}
}

func (e *Engine) publishStatus() {
	st := Status{
		State:         e.state,
		ColorOverride: e.colorOverride,
		Raining:       e.raining,
		LastColor:     e.lastColor,
	}
	if e.animating {
		st.Animation = e.player.Name()
	}
	st.RainbowUntil = e.rainbowUntil

	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

package choreography

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ada-core/internal/bridges/kasa"
	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/remote"
	"github.com/nerrad567/ada-core/internal/schedule"
)

// ─── Mock Dependencies ──────────────────────────────────────────────

type queued struct {
	priority int
	cmds     []command.Command
}

type fakeFleet struct {
	clients []string
	stale   []string
	idle    bool
	camera  []fleet.CameraSignal
	bridge  *kasa.Client

	batches    []queued
	cleared    int
	cameraOn   bool
	increments int
}

func (f *fakeFleet) Increment()             { f.increments++ }
func (f *fakeFleet) StaleClients() []string { return f.stale }
func (f *fakeFleet) Clients() []string      { return f.clients }
func (f *fakeFleet) Idle() bool             { return f.idle }
func (f *fakeFleet) ClearQueues()           { f.cleared++ }
func (f *fakeFleet) Bridge() *kasa.Client   { return f.bridge }

func (f *fakeFleet) QueueCommand(priority int, cmds ...command.Command) error {
	if _, err := command.Batch(cmds).Target(); err != nil {
		return err
	}
	f.batches = append(f.batches, queued{priority: priority, cmds: cmds})
	return nil
}

func (f *fakeFleet) ReadCamera() (fleet.CameraSignal, bool) {
	if len(f.camera) == 0 {
		return fleet.CameraSignal{}, false
	}
	sig := f.camera[0]
	f.camera = f.camera[1:]
	return sig, true
}

func (f *fakeFleet) SetCamera(on bool) bool {
	changed := f.cameraOn != on
	f.cameraOn = on
	return changed
}

// takeBatches returns and forgets what was queued so far.
func (f *fakeFleet) takeBatches() []queued {
	b := f.batches
	f.batches = nil
	return b
}

type fakeRemote struct {
	pending []remote.Envelope
	sent    []string
}

func (r *fakeRemote) Next() (remote.Envelope, bool) {
	if len(r.pending) == 0 {
		return remote.Envelope{}, false
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env, true
}

func (r *fakeRemote) Send(path string) error {
	r.sent = append(r.sent, path)
	return nil
}

func (r *fakeRemote) push(from string, m remote.Message) {
	r.pending = append(r.pending, remote.Envelope{From: from, Message: m})
}

type fakeSentiment struct {
	running bool
	updates [][]string
}

func (s *fakeSentiment) Start() { s.running = true }
func (s *fakeSentiment) Stop()  { s.running = false }

func (s *fakeSentiment) Next() ([]string, bool) {
	if !s.running || len(s.updates) == 0 {
		return nil, false
	}
	u := s.updates[len(s.updates)-1]
	s.updates = nil
	return u, true
}

type fakeBridgeConn struct {
	mu   sync.Mutex
	sent []string
	last string
}

func (c *fakeBridgeConn) Send(_ context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = string(msg)
	c.sent = append(c.sent, c.last)
	return nil
}

func (c *fakeBridgeConn) Receive(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == "status" {
		return []byte("10.0.0.5:True"), nil
	}
	return []byte("ok"), nil
}

func (c *fakeBridgeConn) Close() error { return nil }

func (c *fakeBridgeConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// ─── Harness ────────────────────────────────────────────────────────

var (
	happy   = command.Color{255, 200, 0}
	sad     = command.Color{0, 0, 255}
	dmxSad  = command.Color{0, 0, 60}
	dmxHapp = command.Color{80, 60, 0}
)

// t0 is inside the 08:00-20:00 test window.
var t0 = time.Date(2025, 8, 4, 12, 0, 0, 0, time.UTC)

func testChoreography() config.ChoreographyConfig {
	return config.ChoreographyConfig{
		RainbowTimeout:       30,
		MovementRainTimeout:  20,
		CoolAnimationTimeout: 60,
		HoldCameraBlush:      4,
		HoldSenseiBlush:      5,
		CameraZones:          [][]string{{"cam1"}, {"cam2"}, {"cam3"}},
		ColorsForEmotions:    map[string]command.Color{"Happiness": happy, "Sadness": sad},
		ColorsForDMXEmotions: map[string]command.Color{"Happiness": dmxHapp, "Sadness": dmxSad},
	}
}

type harness struct {
	engine    *Engine
	fleet     *fakeFleet
	remote    *fakeRemote
	sentiment *fakeSentiment
	schedule  *schedule.StateMachine

	transitions [][2]schedule.State
	remoteErrs  []error
}

func newHarness(t *testing.T, cfg config.ChoreographyConfig, lib *Library, zones *ZoneMaps) *harness {
	t.Helper()

	sm, err := schedule.New(schedule.Config{
		RunDays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		OnTime:         schedule.At(8, 0),
		OffTime:        schedule.At(20, 0),
		TurnOffTimeout: 60 * time.Second,
		CustomTimeout:  30 * time.Second,
		RebootTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("schedule.New() error = %v", err)
	}

	h := &harness{
		fleet:     &fakeFleet{idle: true},
		remote:    &fakeRemote{},
		sentiment: &fakeSentiment{},
		schedule:  sm,
	}
	h.engine, err = NewEngine(cfg, Deps{
		Fleet:     h.fleet,
		Schedule:  sm,
		Remote:    h.remote,
		Sentiment: h.sentiment,
		Library:   lib,
		ZoneMaps:  zones,
	}, Options{
		OnState: func(prev, next schedule.State) {
			h.transitions = append(h.transitions, [2]schedule.State{prev, next})
		},
		OnRemote: func(_ remote.Envelope, err error) {
			h.remoteErrs = append(h.remoteErrs, err)
		},
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return h
}

func (h *harness) tick(at time.Time) {
	h.engine.Tick(context.Background(), at)
}

// start runs the first tick at t0 and discards its output.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.tick(t0)
	if got := h.engine.Status().State; got != schedule.StateOn {
		t.Fatalf("state after first tick = %s, want on", got)
	}
	h.fleet.takeBatches()
	h.remote.sent = nil
}

func onlyBatch(t *testing.T, f *fakeFleet) queued {
	t.Helper()
	b := f.takeBatches()
	if len(b) != 1 {
		t.Fatalf("queued %d batches, want 1: %+v", len(b), b)
	}
	return b[0]
}

func batchKinds(q queued) []string {
	return command.Batch(q.cmds).Kinds()
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestNewEngine_RequiresFleetAndSchedule(t *testing.T) {
	if _, err := NewEngine(config.ChoreographyConfig{}, Deps{}, Options{}); err == nil {
		t.Error("NewEngine() without fleet succeeded")
	}
	if _, err := NewEngine(config.ChoreographyConfig{}, Deps{Fleet: &fakeFleet{}}, Options{}); err == nil {
		t.Error("NewEngine() without schedule succeeded")
	}
}

func TestTick_SeedsAndPowersOnInWindow(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.tick(t0)

	if got := h.schedule.State(); got != schedule.StateOn {
		t.Fatalf("state = %s, want on", got)
	}
	if h.fleet.increments != 1 {
		t.Errorf("Increment called %d times, want 1", h.fleet.increments)
	}
	if !h.fleet.cameraOn {
		t.Error("camera not switched on")
	}
	if !h.sentiment.running {
		t.Error("sentiment not started")
	}
	if !slices.Equal(h.remote.sent, []string{"/state/on"}) {
		t.Errorf("sent = %v, want [/state/on]", h.remote.sent)
	}
	if len(h.transitions) != 1 || h.transitions[0] != [2]schedule.State{schedule.StateInitial, schedule.StateOn} {
		t.Errorf("transitions = %v", h.transitions)
	}
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("queued %d batches on power on, want none", len(b))
	}

	h.tick(t0.Add(25 * time.Millisecond))
	if len(h.transitions) != 1 {
		t.Errorf("side effects repeated: transitions = %v", h.transitions)
	}
}

func TestTick_SeedsOffAtNight(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraFaces, Faces: 5}}
	h.tick(time.Date(2025, 8, 4, 22, 0, 0, 0, time.UTC))

	if got := h.schedule.State(); got != schedule.StateOff {
		t.Fatalf("state = %s, want off", got)
	}
	if h.fleet.cameraOn {
		t.Error("camera on while off")
	}
	if !slices.Equal(h.remote.sent, []string{"/state/off"}) {
		t.Errorf("sent = %v, want [/state/off]", h.remote.sent)
	}
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("queued %d batches while off, want none", len(b))
	}
}

func TestRemote_PingRepliesToSender(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.remote.push("kiosk", remote.Ping{})
	h.tick(t0.Add(time.Second))
	h.remote.push("", remote.Bridge{})
	h.tick(t0.Add(2 * time.Second))

	want := []string{"/user/kiosk/state/on", "/bridge/disconnected"}
	if !slices.Equal(h.remote.sent, want) {
		t.Errorf("sent = %v, want %v", h.remote.sent, want)
	}
}

func TestRemote_ColorOverridesUntilCustomTimeout(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	red := command.Color{255, 0, 0}
	h.remote.push("kiosk", remote.Color{Color: red})
	h.tick(t0.Add(time.Second))

	b := onlyBatch(t, h.fleet)
	if b.priority != priorityColor || b.cmds[0].Kind != command.KindCrossFade || b.cmds[0].Colors[0] != red {
		t.Errorf("batch = %+v", b)
	}
	st := h.engine.Status()
	if st.State != schedule.StateCustom || !st.ColorOverride || st.LastColor != red {
		t.Errorf("status = %+v", st)
	}

	// sentiment is suppressed by the override
	h.sentiment.updates = [][]string{{"Sadness"}}
	h.fleet.clients = []string{"DMX"}
	h.tick(t0.Add(2 * time.Second))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("queued %d batches during override, want none", len(b))
	}

	h.tick(t0.Add(32 * time.Second))
	st = h.engine.Status()
	if st.State != schedule.StateOn || st.ColorOverride {
		t.Errorf("after custom timeout status = %+v", st)
	}
	if !slices.Contains(h.remote.sent, "/state/run") {
		t.Errorf("sent = %v, want /state/run", h.remote.sent)
	}
}

func TestRemote_PowerOffCoolsDownThenOff(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.remote.push("kiosk", remote.Power{Option: remote.PowerOff})
	h.tick(t0.Add(time.Second))

	if got := h.schedule.State(); got != schedule.StateCoolDown {
		t.Fatalf("state = %s, want cool_down", got)
	}
	if h.fleet.cleared != 1 {
		t.Errorf("ClearQueues called %d times, want 1", h.fleet.cleared)
	}
	b := onlyBatch(t, h.fleet)
	if b.priority != priorityAnimation || !slices.Equal(batchKinds(b), []string{command.KindStopRain, command.KindSensei}) {
		t.Errorf("fade batch = %d %v", b.priority, batchKinds(b))
	}
	if got := b.cmds[1].Colors; len(got) != 1 || got[0] != command.Black {
		t.Errorf("fade colours = %v", got)
	}
	if h.sentiment.running {
		t.Error("sentiment still running in cool_down")
	}
	if h.fleet.cameraOn {
		t.Error("camera on in cool_down")
	}

	h.tick(t0.Add(62 * time.Second))
	if got := h.schedule.State(); got != schedule.StateOff {
		t.Fatalf("state = %s, want off", got)
	}
	if !slices.Equal(h.remote.sent, []string{"/state/off"}) {
		t.Errorf("sent = %v, want [/state/off]", h.remote.sent)
	}
}

func TestRemote_RebootAndRebooted(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.remote.push("", remote.Power{Option: remote.PowerReboot})
	h.tick(t0.Add(time.Second))
	if got := h.schedule.State(); got != schedule.StateCoolDown {
		t.Fatalf("state = %s, want cool_down", got)
	}

	h.remote.push("", remote.Power{Option: remote.PowerRebooted})
	h.tick(t0.Add(5 * time.Second))
	if got := h.schedule.State(); got != schedule.StateCustom {
		t.Fatalf("state = %s, want custom", got)
	}

	want := []string{"/state/reboot", "/state/on", "/state/rebooted"}
	if !slices.Equal(h.remote.sent, want) {
		t.Errorf("sent = %v, want %v", h.remote.sent, want)
	}
}

func TestRemote_UnknownAnimationReported(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.remote.push("kiosk", remote.Animation{Name: "nope"})
	h.tick(t0.Add(time.Second))

	if len(h.remoteErrs) != 1 || !errors.Is(h.remoteErrs[0], ErrUnknownAnimation) {
		t.Fatalf("remote errors = %v, want ErrUnknownAnimation", h.remoteErrs)
	}
	if got := h.schedule.State(); got != schedule.StateOn {
		t.Errorf("state = %s, want on", got)
	}
}

func TestRemote_AnimationStepsClearQueues(t *testing.T) {
	lib := NewLibrary(Animation{
		Name:    "pulse",
		Enabled: true,
		Steps: []command.Command{
			command.New(command.KindCrossFade).WithSeconds(1).WithColors(command.Color{255, 0, 0}).WithStart(command.StartAfterPrevious),
			command.New(command.KindCrossFade).WithSeconds(1).WithColors(command.Color{0, 0, 255}),
		},
	})
	h := newHarness(t, testChoreography(), lib, nil)
	h.start(t)

	h.remote.push("kiosk", remote.Animation{Name: "pulse"})
	now := t0.Add(time.Second)
	h.tick(now)
	if got := h.engine.Status().Animation; got != "pulse" {
		t.Fatalf("animation = %q, want pulse", got)
	}

	h.tick(now.Add(25 * time.Millisecond))
	b := onlyBatch(t, h.fleet)
	if b.priority != priorityAnimation || len(b.cmds) != 1 || b.cmds[0].Colors[0] != (command.Color{255, 0, 0}) {
		t.Errorf("first step = %+v", b)
	}
	if h.fleet.cleared != 1 {
		t.Errorf("ClearQueues called %d times, want 1", h.fleet.cleared)
	}

	// the step lasts one second
	h.tick(now.Add(500 * time.Millisecond))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("queued %d batches mid-step", len(b))
	}
	h.tick(now.Add(1100 * time.Millisecond))
	b = onlyBatch(t, h.fleet)
	if b.cmds[0].Colors[0] != (command.Color{0, 0, 255}) {
		t.Errorf("second step = %+v", b)
	}
}

func TestRemote_RainToggle(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.remote.push("", remote.Rain{Option: remote.RainToggle})
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindStartRain || b.priority != priorityAnimation {
		t.Errorf("first toggle = %d %v", b.priority, batchKinds(b))
	}
	if !h.engine.Status().Raining {
		t.Error("not raining after toggle on")
	}

	h.remote.push("", remote.Rain{Option: remote.RainToggle})
	h.tick(t0.Add(2 * time.Second))
	b = onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindStopRain {
		t.Errorf("second toggle = %v", batchKinds(b))
	}
	if h.engine.Status().Raining {
		t.Error("still raining after toggle off")
	}
}

func TestRemote_ZoneStripAndPixels(t *testing.T) {
	zones := NewZoneMaps()
	zones.Add("adapi1", testZoneMap())
	h := newHarness(t, testChoreography(), nil, zones)
	h.fleet.clients = []string{"DMX", "adapi1"}
	h.start(t)

	red := command.Color{255, 0, 0}
	h.remote.push("", remote.Zone{Zone: 2, Color: red})
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	cols, _ := b.cmds[0].Get("columns")
	if b.cmds[0].Target != "adapi1" || b.priority != priorityPixels || len(cols.([]Column)) != 3 {
		t.Errorf("zone batch = %+v", b)
	}

	h.remote.push("", remote.Strip{Target: "0", Strip: 7, Color: red})
	h.tick(t0.Add(2 * time.Second))
	b = onlyBatch(t, h.fleet)
	cols, _ = b.cmds[0].Get("columns")
	if b.cmds[0].Target != "adapi1" || cols.([]Column)[0] != (Column{Index: 7, Color: red}) {
		t.Errorf("strip batch = %+v", b)
	}

	h.remote.push("", remote.Pixels{Target: "adapi1", Strip: 1, LEDs: "0-5", Color: red})
	h.tick(t0.Add(3 * time.Second))
	b = onlyBatch(t, h.fleet)
	px, _ := b.cmds[0].Get("pixels")
	if b.cmds[0].Kind != command.KindSetPixels || px.([]Pixels)[0].LEDs != "0-5" {
		t.Errorf("pixels batch = %+v", b)
	}

	h.remote.push("", remote.Gradient{Target: DMXTarget, Strip: -1, Colors: []command.Color{red}})
	h.tick(t0.Add(4 * time.Second))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("gradient to DMX queued %d batches", len(b))
	}
}

func TestCamera_FacesStartRainbow(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.fleet.clients = []string{"DMX"}
	h.start(t)

	h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraFaces, Faces: 3}}
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindRainbow || b.priority != priorityAnimation {
		t.Fatalf("batch = %d %v", b.priority, batchKinds(b))
	}
	if v, _ := b.cmds[0].Get("length"); v != rainbowLength {
		t.Errorf("length = %v", v)
	}
	if b.cmds[0].Hold == nil || *b.cmds[0].Hold != 30 {
		t.Errorf("hold = %v, want 30", b.cmds[0].Hold)
	}

	// sentiment waits for the rainbow
	h.sentiment.updates = [][]string{{"Sadness"}}
	h.tick(t0.Add(10 * time.Second))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("queued %d batches during rainbow", len(b))
	}
	h.tick(t0.Add(32 * time.Second))
	if b := h.fleet.takeBatches(); len(b) == 0 {
		t.Error("sentiment not applied after the rainbow")
	}
}

func TestCamera_EmotionsBlush(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraEmotions, Emotions: []string{"Sadness", "Happiness", "Sadness"}}}
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	if b.priority != priorityCamera || b.cmds[0].Colors[0] != sad {
		t.Errorf("blush = %d %v", b.priority, b.cmds[0].Colors)
	}
	if b.cmds[0].Hold == nil || *b.cmds[0].Hold != 4 {
		t.Errorf("hold = %v, want 4", b.cmds[0].Hold)
	}
}

func TestCamera_MovementRainIsDebounced(t *testing.T) {
	cfg := testChoreography()
	cfg.EnableMovement = true
	h := newHarness(t, cfg, nil, nil)
	h.start(t)

	moving := fleet.CameraSignal{Kind: fleet.CameraMovement, Moving: true}

	h.fleet.camera = []fleet.CameraSignal{moving}
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindStartRain {
		t.Fatalf("batch = %v, want StartRain", batchKinds(b))
	}
	if v, _ := b.cmds[0].Get("size"); v != rainSize {
		t.Errorf("size = %v", v)
	}

	h.fleet.camera = []fleet.CameraSignal{moving}
	h.tick(t0.Add(5 * time.Second))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("debounced movement queued %d batches", len(b))
	}

	h.tick(t0.Add(22 * time.Second))
	b = onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindStopRain || b.priority != priorityAnimation {
		t.Errorf("expiry batch = %d %v", b.priority, batchKinds(b))
	}
}

func TestCamera_MovementDisabled(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraMovement, Moving: true}}
	h.tick(t0.Add(time.Second))
	if b := h.fleet.takeBatches(); len(b) != 0 {
		t.Errorf("movement queued %d batches with movement disabled", len(b))
	}
}

func TestSentiment_FadesZonesAndDMX(t *testing.T) {
	zones := NewZoneMaps()
	zones.Add("adapi1", testZoneMap())
	h := newHarness(t, testChoreography(), nil, zones)
	h.fleet.clients = []string{"DMX", "adapi1", "IPCAMERA"}
	h.start(t)

	h.sentiment.updates = [][]string{{"Happiness", "Sadness"}}
	h.tick(t0.Add(time.Second))

	batches := h.fleet.takeBatches()
	if len(batches) != 2 {
		t.Fatalf("queued %d batches, want 2: %+v", len(batches), batches)
	}

	dmx := batches[0].cmds[0]
	if dmx.Kind != command.KindSensei || dmx.Target != DMXTarget {
		t.Errorf("dmx command = %+v", dmx)
	}
	wantDMX := []command.Color{dmxFloor, dmxFloor, dmxSad}
	if !slices.Equal(dmx.Colors, wantDMX) {
		t.Errorf("dmx colours = %v, want %v", dmx.Colors, wantDMX)
	}

	fade := batches[1].cmds[0]
	if fade.Kind != command.KindColumnFade || fade.Target != "adapi1" || batches[1].priority != priorityColor {
		t.Errorf("zone fade = %+v", fade)
	}
	v, _ := fade.Get("columns")
	cols := v.([]Column)
	want := []Column{{0, happy}, {1, sad}, {2, sad}, {3, sad}}
	if !slices.Equal(cols, want) {
		t.Errorf("columns = %v, want %v", cols, want)
	}
}

func TestSentiment_QuorumBlushesAndResetsCore(t *testing.T) {
	zones := NewZoneMaps()
	zones.Add("adapi1", testZoneMap())
	h := newHarness(t, testChoreography(), nil, zones)
	h.fleet.clients = []string{"adapi1"}
	h.start(t)

	// a rainbow lights the core; the next sentiment fade resets it
	h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraFaces, Faces: 4}}
	h.tick(t0.Add(time.Second))
	h.fleet.takeBatches()

	h.sentiment.updates = [][]string{{"Sadness", "Sadness", "Sadness"}}
	h.tick(t0.Add(40 * time.Second))

	batches := h.fleet.takeBatches()
	if len(batches) != 2 {
		t.Fatalf("queued %d batches, want 2", len(batches))
	}
	blush := batches[0].cmds[0]
	if blush.Kind != command.KindCrossFade || blush.Target != "adapi1" || blush.Colors[0] != sad {
		t.Errorf("blush = %+v", blush)
	}
	if blush.Hold == nil || *blush.Hold != 5 {
		t.Errorf("blush hold = %v, want 5", blush.Hold)
	}

	kinds := batchKinds(batches[1])
	want := []string{command.KindColumnFade, command.KindSetPixels, command.KindColumnFade}
	if !slices.Equal(kinds, want) {
		t.Errorf("fade kinds = %v, want %v", kinds, want)
	}

	h.sentiment.updates = [][]string{{"Happiness"}}
	h.tick(t0.Add(41 * time.Second))
	if got := h.fleet.takeBatches(); len(got) != 1 || len(got[0].cmds) != 1 {
		t.Errorf("core reset repeated: %+v", got)
	}
}

func TestStaleClientsGetLastColor(t *testing.T) {
	h := newHarness(t, testChoreography(), nil, nil)
	h.start(t)

	h.fleet.stale = []string{"adapi2"}
	h.tick(t0.Add(time.Second))
	b := onlyBatch(t, h.fleet)
	c := b.cmds[0]
	if c.Kind != command.KindCrossFade || c.Target != "adapi2" || c.Colors[0] != command.Black {
		t.Errorf("replay = %+v", c)
	}
}

func TestSentiment_QuorumSkipsDMXBlush(t *testing.T) {
	zones := NewZoneMaps()
	zones.Add("adapi1", testZoneMap())
	h := newHarness(t, testChoreography(), nil, zones)
	h.fleet.clients = []string{"DMX", "adapi1"}
	h.start(t)

	h.sentiment.updates = [][]string{{"Sadness", "Sadness", "Sadness"}}
	h.tick(t0.Add(time.Second))

	var blushes []string
	for _, b := range h.fleet.takeBatches() {
		for _, c := range b.cmds {
			if c.Target == DMXTarget && c.Kind != command.KindSensei {
				t.Errorf("DMX got %s, want sensei only", c.Kind)
			}
			if c.Kind == command.KindCrossFade {
				blushes = append(blushes, c.Target)
			}
		}
	}
	if !slices.Equal(blushes, []string{"adapi1"}) {
		t.Errorf("blushed %v, want [adapi1]", blushes)
	}
}

func TestStaleClientsGetBlushColor(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "camera blush",
			setup: func(h *harness) {
				h.fleet.camera = []fleet.CameraSignal{{Kind: fleet.CameraEmotions, Emotions: []string{"Sadness", "Sadness"}}}
			},
		},
		{
			name: "sentiment quorum",
			setup: func(h *harness) {
				h.sentiment.updates = [][]string{{"Sadness", "Sadness", "Sadness"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zones := NewZoneMaps()
			zones.Add("adapi1", testZoneMap())
			h := newHarness(t, testChoreography(), nil, zones)
			h.fleet.clients = []string{"adapi1"}
			h.start(t)

			tt.setup(h)
			h.tick(t0.Add(time.Second))
			h.fleet.takeBatches()

			if got := h.engine.Status().LastColor; got != sad {
				t.Errorf("LastColor = %v, want %v", got, sad)
			}

			h.fleet.stale = []string{"adapi2"}
			h.tick(t0.Add(2 * time.Second))
			b := onlyBatch(t, h.fleet)
			c := b.cmds[0]
			if c.Kind != command.KindCrossFade || c.Target != "adapi2" || c.Colors[0] != sad {
				t.Errorf("replay = %+v, want %v", c, sad)
			}
		})
	}
}

func TestSentimentKeepsCoolAnimationAway(t *testing.T) {
	lib := NewLibrary(Animation{
		Name:    "sparkle",
		Enabled: true,
		Repeat:  RepeatForever,
		Steps:   []command.Command{command.New(command.KindRainbow).WithSeconds(1)},
	})
	zones := NewZoneMaps()
	zones.Add("adapi1", testZoneMap())
	h := newHarness(t, testChoreography(), lib, zones)
	h.fleet.clients = []string{"adapi1"}
	h.start(t)

	for at := 10 * time.Second; at <= 60*time.Second; at += 10 * time.Second {
		h.sentiment.updates = [][]string{{"Happiness", "Sadness"}}
		h.tick(t0.Add(at))
	}

	h.tick(t0.Add(71 * time.Second))
	if got := h.engine.Status().Animation; got != "" {
		t.Errorf("animation = %q while sentiment is flowing", got)
	}

	h.tick(t0.Add(121 * time.Second))
	if got := h.engine.Status().Animation; got != "sparkle" {
		t.Errorf("animation = %q after sentiment went quiet, want sparkle", got)
	}
}

func TestCoolAnimationWhenIdle(t *testing.T) {
	lib := NewLibrary(Animation{
		Name:    "sparkle",
		Enabled: true,
		Repeat:  RepeatForever,
		Steps:   []command.Command{command.New(command.KindRainbow).WithSeconds(1)},
	})
	h := newHarness(t, testChoreography(), lib, nil)
	h.start(t)

	h.tick(t0.Add(30 * time.Second))
	if got := h.engine.Status().Animation; got != "" {
		t.Fatalf("animation started early: %q", got)
	}

	now := t0.Add(61 * time.Second)
	h.tick(now)
	if got := h.engine.Status().Animation; got != "sparkle" {
		t.Fatalf("animation = %q, want sparkle", got)
	}

	h.tick(now.Add(25 * time.Millisecond))
	b := onlyBatch(t, h.fleet)
	if b.cmds[0].Kind != command.KindRainbow {
		t.Errorf("step = %v", batchKinds(b))
	}

	h.tick(now.Add(61 * time.Second))
	if got := h.engine.Status().Animation; got != "" {
		t.Errorf("animation %q still running after its timeout", got)
	}
}

func TestAutoReboot(t *testing.T) {
	cfg := testChoreography()
	cfg.AutoReboot = 1
	h := newHarness(t, cfg, nil, nil)
	h.start(t)

	h.tick(t0.Add(59 * time.Minute))
	if got := h.schedule.State(); got != schedule.StateOn {
		t.Fatalf("state = %s before the reboot is due", got)
	}

	h.tick(t0.Add(time.Hour + time.Second))
	if got := h.schedule.State(); got != schedule.StateCoolDown {
		t.Fatalf("state = %s, want cool_down", got)
	}
	if !h.schedule.Status(t0.Add(time.Hour + time.Second)).Rebooting {
		t.Error("reboot flag not set")
	}
	if !slices.Contains(h.remote.sent, "/state/reboot") {
		t.Errorf("sent = %v, want /state/reboot", h.remote.sent)
	}
}

func TestBridgeSyncedWithPowerState(t *testing.T) {
	conn := &fakeBridgeConn{}
	bridge, err := kasa.NewClient("HS105Switches", conn, kasa.Options{PingInterval: time.Minute})
	if err != nil {
		t.Fatalf("kasa.NewClient() error = %v", err)
	}

	h := newHarness(t, testChoreography(), nil, nil)
	h.fleet.bridge = bridge
	h.tick(t0)

	got := conn.commands()
	if !slices.Contains(got, "status") || !slices.Contains(got, "on") {
		t.Errorf("bridge commands = %v, want status and on", got)
	}

	h.remote.push("", remote.Power{Option: remote.PowerOff})
	h.tick(t0.Add(time.Second))
	h.tick(t0.Add(62 * time.Second))

	got = conn.commands()
	if got[len(got)-1] != "off" {
		t.Errorf("last bridge command = %q, want off (all: %s)", got[len(got)-1], strings.Join(got, ","))
	}

	h.remote.push("", remote.Bridge{})
	h.tick(t0.Add(63 * time.Second))
	if last := h.remote.sent[len(h.remote.sent)-1]; last != "/bridge/ok" {
		t.Errorf("bridge reply = %q, want /bridge/ok", last)
	}
}

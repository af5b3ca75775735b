package schedule

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

var allDays = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// pdt is the fixed offset used throughout these tests.
var pdt = time.FixedZone("pdt", -7*3600)

func newTestMachine(t *testing.T, cfg Config) *StateMachine {
	t.Helper()
	if cfg.TurnOffTimeout == 0 {
		cfg.TurnOffTimeout = 60 * time.Second
	}
	if cfg.CustomTimeout == 0 {
		cfg.CustomTimeout = 30 * time.Second
	}
	if cfg.RebootTimeout == 0 {
		cfg.RebootTimeout = 10 * time.Second
	}
	cfg.UTCOffset = -7
	sm, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sm
}

func fixedDayConfig() Config {
	return Config{
		RunDays: allDays,
		OnTime:  At(8, 0),
		OffTime: At(20, 0),
	}
}

func mustAdvance(t *testing.T, sm *StateMachine, now time.Time) State {
	t.Helper()
	s, err := sm.Advance(now)
	if err != nil {
		t.Fatalf("Advance(%v) error = %v", now, err)
	}
	return s
}

func TestAdvance_InitialIsError(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	now := time.Date(2025, 8, 4, 12, 0, 0, 0, pdt)

	if _, err := sm.Advance(now); !errors.Is(err, ErrNotSeeded) {
		t.Fatalf("Advance() error = %v, want ErrNotSeeded", err)
	}

	if _, err := sm.SetState(StateOff, now); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := mustAdvance(t, sm, now); got != StateOn {
		t.Errorf("Advance() = %s, want on", got)
	}
}

func TestSetState_Invalid(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	now := time.Date(2025, 8, 4, 12, 0, 0, 0, pdt)

	for _, s := range []State{StateInitial, "dimmed", ""} {
		if _, err := sm.SetState(s, now); !errors.Is(err, ErrInvalidState) {
			t.Errorf("SetState(%q) error = %v, want ErrInvalidState", s, err)
		}
	}
}

func TestAdvance_DailyCycleWithCoolDown(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOff, day.Add(6*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	steps := []struct {
		at   time.Duration
		want State
	}{
		{7 * time.Hour, StateOff},
		{8 * time.Hour, StateOn},
		{19*time.Hour + 59*time.Minute, StateOn},
		{20 * time.Hour, StateCoolDown},
		{20*time.Hour + 30*time.Second, StateCoolDown},
		{20*time.Hour + 61*time.Second, StateOff},
		{23 * time.Hour, StateOff},
	}
	for _, step := range steps {
		if got := mustAdvance(t, sm, day.Add(step.at)); got != step.want {
			t.Errorf("at %v: state = %s, want %s", step.at, got, step.want)
		}
	}
}

func TestAdvance_WrappedWindow(t *testing.T) {
	sm := newTestMachine(t, Config{RunDays: allDays, OnTime: At(20, 0), OffTime: At(6, 0)})
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	tests := []struct {
		at   time.Duration
		want bool
	}{
		{1 * time.Hour, true},
		{6 * time.Hour, false},
		{12 * time.Hour, false},
		{20 * time.Hour, true},
		{23 * time.Hour, true},
	}
	for _, tt := range tests {
		sm.mu.Lock()
		got := sm.desired(day.Add(tt.at))
		sm.mu.Unlock()
		if got != tt.want {
			t.Errorf("desired at %v = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestAdvance_OffThroughoutNonRunDays(t *testing.T) {
	sm := newTestMachine(t, Config{
		RunDays:   weekdays,
		OnTime:    TimeSetting{Sun: Sunset},
		OffTime:   TimeSetting{Sun: Sunrise},
		Latitude:  47.67399,
		Longitude: -122.12151,
	})

	// Friday noon, rolling through the weekend.
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, pdt)
	if _, err := sm.SetState(StateOff, now); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	weekendStart := time.Date(2025, 8, 2, 2, 0, 0, 0, pdt)
	weekendEnd := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)
	sawFridayOn, sawMondayOn := false, false

	for i := 0; i < 24*5; i++ {
		now = now.Add(time.Hour)
		state := mustAdvance(t, sm, now)

		if !now.Before(weekendStart) && now.Before(weekendEnd) && state != StateOff {
			t.Errorf("%v (%s): state = %s, want off", now, now.Weekday(), state)
		}
		if now.Weekday() == time.Friday && now.Hour() == 22 && state == StateOn {
			sawFridayOn = true
		}
		if now.Weekday() == time.Monday && now.Hour() == 22 && state == StateOn {
			sawMondayOn = true
		}
	}

	if !sawFridayOn {
		t.Error("expected lights on Friday night")
	}
	if !sawMondayOn {
		t.Error("expected lights on Monday night")
	}
}

func TestTurnOn_HoldsUntilNextBoundary(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOff, day.Add(21*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := sm.TurnOn(day.Add(21 * time.Hour)); got != StateOn {
		t.Fatalf("TurnOn() = %s, want on", got)
	}

	steps := []struct {
		at   time.Duration
		want State
	}{
		{21*time.Hour + time.Minute, StateOn},
		{23 * time.Hour, StateOn},
		{31 * time.Hour, StateOn},                   // 07:00 next day, still frozen
		{36 * time.Hour, StateOn},                   // 12:00 next day, schedule on
		{44*time.Hour + time.Minute, StateCoolDown}, // 20:01 next day
		{44*time.Hour + 3*time.Minute, StateOff},
	}
	for _, step := range steps {
		if got := mustAdvance(t, sm, day.Add(step.at)); got != step.want {
			t.Errorf("at %v: state = %s, want %s", step.at, got, step.want)
		}
	}
}

func TestTurnOn_NonRunDayHoldsUntilOffBoundary(t *testing.T) {
	sm := newTestMachine(t, Config{
		RunDays: []time.Weekday{time.Tuesday, time.Wednesday},
		OnTime:  At(8, 0),
		OffTime: At(20, 0),
	})
	monday := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOff, monday.Add(6*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	sm.TurnOn(monday.Add(6 * time.Hour))

	if got := sm.Status(monday.Add(6 * time.Hour)).FreezeUntil; !got.Equal(monday.Add(20 * time.Hour)) {
		t.Errorf("FreezeUntil = %v, want %v", got, monday.Add(20*time.Hour))
	}

	steps := []struct {
		at   time.Duration
		want State
	}{
		{9 * time.Hour, StateOn},
		{19*time.Hour + 59*time.Minute, StateOn},
		{20*time.Hour + time.Minute, StateCoolDown},
	}
	for _, step := range steps {
		if got := mustAdvance(t, sm, monday.Add(step.at)); got != step.want {
			t.Errorf("at %v: state = %s, want %s", step.at, got, step.want)
		}
	}
}

func TestTurnOff_HoldsUntilOnBoundary(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOn, day.Add(10*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	sm.TurnOff(day.Add(10 * time.Hour))

	want := day.Add(32 * time.Hour) // 08:00 next day
	if got := sm.Status(day.Add(10 * time.Hour)).FreezeUntil; !got.Equal(want) {
		t.Errorf("FreezeUntil = %v, want %v", got, want)
	}
}

func TestSetStateOn_WithoutFreezeIsUndone(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOn, day.Add(21*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := mustAdvance(t, sm, day.Add(21*time.Hour+time.Minute)); got != StateCoolDown {
		t.Errorf("state = %s, want cool_down", got)
	}
}

func TestTurnOff_HoldsThenResumes(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOn, day.Add(10*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := sm.TurnOff(day.Add(10 * time.Hour)); got != StateCoolDown {
		t.Fatalf("TurnOff() = %s, want cool_down", got)
	}

	steps := []struct {
		at   time.Duration
		want State
	}{
		{10*time.Hour + 2*time.Minute, StateOff},
		{12 * time.Hour, StateOff},
		{33 * time.Hour, StateOn}, // 09:00 next day
	}
	for _, step := range steps {
		if got := mustAdvance(t, sm, day.Add(step.at)); got != step.want {
			t.Errorf("at %v: state = %s, want %s", step.at, got, step.want)
		}
	}
}

func TestReset_ClearsFreeze(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	day := time.Date(2025, 8, 4, 0, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOff, day.Add(21*time.Hour)); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	sm.TurnOn(day.Add(21 * time.Hour))

	got, err := sm.Reset(day.Add(21*time.Hour + time.Minute))
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got != StateCoolDown {
		t.Errorf("Reset() = %s, want cool_down", got)
	}
}

func TestCustom_ExpiresToSchedule(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	t0 := time.Date(2025, 8, 4, 12, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateCustom, t0); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := mustAdvance(t, sm, t0.Add(10*time.Second)); got != StateCustom {
		t.Errorf("state = %s, want custom", got)
	}
	if got := mustAdvance(t, sm, t0.Add(31*time.Second)); got != StateOn {
		t.Errorf("state = %s, want on", got)
	}

	// outside the window custom expires through cool_down
	t1 := time.Date(2025, 8, 4, 22, 0, 0, 0, pdt)
	if _, err := sm.SetState(StateCustom, t1); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if got := mustAdvance(t, sm, t1.Add(31*time.Second)); got != StateCoolDown {
		t.Errorf("state = %s, want cool_down", got)
	}
}

func TestReboot_Sequence(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	t0 := time.Date(2025, 8, 4, 12, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateOn, t0); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	got, err := sm.SetState(StateReboot, t0)
	if err != nil {
		t.Fatalf("SetState(reboot) error = %v", err)
	}
	if got != StateCoolDown {
		t.Fatalf("SetState(reboot) = %s, want cool_down", got)
	}

	steps := []struct {
		at   time.Duration
		want State
	}{
		{30 * time.Second, StateCoolDown},
		{61 * time.Second, StateOff},
		{65 * time.Second, StateOff},
		{72 * time.Second, StateCustom},
		{72*time.Second + 31*time.Second, StateOn},
	}
	for _, step := range steps {
		if got := mustAdvance(t, sm, t0.Add(step.at)); got != step.want {
			t.Errorf("at %v: state = %s, want %s", step.at, got, step.want)
		}
	}
	if sm.Status(t0.Add(2 * time.Minute)).Rebooting {
		t.Error("reboot flag should be cleared")
	}
}

func TestFinishReboot(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())
	t0 := time.Date(2025, 8, 4, 12, 0, 0, 0, pdt)

	if _, err := sm.SetState(StateReboot, t0); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	mustAdvance(t, sm, t0.Add(61*time.Second))

	if got := sm.FinishReboot(t0.Add(62 * time.Second)); got != StateCustom {
		t.Errorf("FinishReboot() = %s, want custom", got)
	}
	if got := sm.FinishReboot(t0.Add(63 * time.Second)); got != StateCustom {
		t.Errorf("second FinishReboot() = %s, want custom", got)
	}
}

func TestDayOverride(t *testing.T) {
	cfg := Config{
		RunDays: weekdays,
		OnTime:  At(8, 0),
		OffTime: At(20, 0),
		Overrides: []DayOverride{
			{Date: "2025-08-02", On: At(10, 0), Off: At(11, 0)},
		},
	}
	sm := newTestMachine(t, cfg)

	saturday := time.Date(2025, 8, 2, 0, 0, 0, 0, pdt)
	sunday := time.Date(2025, 8, 3, 0, 0, 0, 0, pdt)

	tests := []struct {
		now  time.Time
		want bool
	}{
		{saturday.Add(9 * time.Hour), false},
		{saturday.Add(10*time.Hour + 30*time.Minute), true},
		{saturday.Add(12 * time.Hour), false},
		{sunday.Add(10*time.Hour + 30*time.Minute), false},
	}
	for _, tt := range tests {
		sm.mu.Lock()
		got := sm.desired(tt.now)
		sm.mu.Unlock()
		if got != tt.want {
			t.Errorf("desired(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad on time", Config{OnTime: At(25, 0)}},
		{"bad offset", Config{UTCOffset: 20}},
		{"bad override date", Config{Overrides: []DayOverride{{Date: "tomorrow"}}}},
		{"negative timeout", Config{TurnOffTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestParseTimeSetting(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeSetting
		wantErr bool
	}{
		{"sunrise", TimeSetting{Sun: Sunrise}, false},
		{" Sunset ", TimeSetting{Sun: Sunset}, false},
		{"07:30", At(7, 30), false},
		{"23:59", At(23, 59), false},
		{"24:00", TimeSetting{}, true},
		{"noon", TimeSetting{}, true},
		{"7:xx", TimeSetting{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeSetting(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeSetting(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimeSetting(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeSetting_UnmarshalYAML(t *testing.T) {
	var doc struct {
		On  TimeSetting `yaml:"on"`
		Off TimeSetting `yaml:"off"`
	}
	if err := yaml.Unmarshal([]byte("on: sunset\noff: [6, 15]\n"), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if doc.On.Sun != Sunset {
		t.Errorf("On = %+v, want sunset", doc.On)
	}
	if doc.Off != At(6, 15) {
		t.Errorf("Off = %+v, want 06:15", doc.Off)
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"Monday", "fri"})
	if err != nil {
		t.Fatalf("ParseWeekdays() error = %v", err)
	}
	if len(days) != 2 || days[0] != time.Monday || days[1] != time.Friday {
		t.Errorf("ParseWeekdays() = %v", days)
	}
	if _, err := ParseWeekdays([]string{"Funday"}); err == nil {
		t.Error("ParseWeekdays() expected error for unknown day")
	}
}

func TestTimeOf(t *testing.T) {
	sm := newTestMachine(t, fixedDayConfig())

	// 02:00 UTC on the 2nd is still the 1st in the schedule's zone.
	now := time.Date(2025, 8, 2, 2, 0, 0, 0, time.UTC)
	got := sm.TimeOf(now, At(21, 30))
	want := time.Date(2025, 8, 1, 21, 30, 0, 0, pdt)
	if !got.Equal(want) {
		t.Errorf("TimeOf() = %v, want %v", got, want)
	}
}

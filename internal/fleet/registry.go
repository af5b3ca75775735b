package fleet

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/ada-core/internal/bridges/kasa"
	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/queue"
)

// cameraBacklog is how many camera signals ReadCamera keeps before
// discarding older ones.
const cameraBacklog = 2

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

// SessionEvent describes a session joining or leaving.
type SessionEvent struct {
	Name       string
	SessionID  string
	RemoteAddr string
	Connected  bool
}

// Options configures a Registry.
type Options struct {
	// Logger receives fleet diagnostics. Optional.
	Logger Logger

	// Firmware supplies the firmware hash and image. Optional.
	Firmware FirmwareSource

	// Metrics records sequence and dispatch measurements. Optional.
	Metrics Metrics

	// Timing overrides the dispatch loop intervals.
	Timing Timing

	// OnQueued is called with every batch accepted by QueueCommand, after
	// sequence stamping. Optional.
	OnQueued func(priority int, batch command.Batch)

	// OnSession is called when a session joins or leaves. Optional.
	OnSession func(SessionEvent)
}

// Registry tracks the connected devices and routes commands to them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The registry lock is never held across network I/O.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
	sequence int64
	queued   bool
	closed   bool

	camera   *queue.Queue[CameraSignal]
	cameraOn atomic.Bool

	bridgeMu sync.RWMutex
	bridge   *kasa.Client

	wg sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Firmware == nil {
		opts.Firmware = noopFirmware{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		camera:   queue.New[CameraSignal](),
	}
}

// Register starts a dispatch session for a device that completed the name
// handshake. A previous session under the same name is closed first, and
// Register waits for its loop to exit, so at most one session per name is
// ever active. The new session runs until its transport fails or ctx ends.
func (r *Registry) Register(ctx context.Context, name string, t Transport) (*Session, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		old := r.sessions[name]
		if old == nil {
			s := newSession(name, t, r.opts)
			r.sessions[name] = s
			r.wg.Add(1)
			r.mu.Unlock()

			r.opts.Logger.Info("device connected", "device", name, "session", s.id, "addr", t.RemoteAddr())
			r.notify(s, true)
			go r.runSession(ctx, s)
			return s, nil
		}
		r.mu.Unlock()

		r.opts.Logger.Info("replacing previous session", "device", name, "session", old.id)
		old.close()
		select {
		case <-old.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) runSession(ctx context.Context, s *Session) {
	defer r.wg.Done()

	s.run(ctx)

	r.mu.Lock()
	if r.sessions[s.name] == s {
		delete(r.sessions, s.name)
	}
	r.mu.Unlock()

	r.opts.Logger.Info("device disconnected", "device", s.name, "session", s.id)
	r.notify(s, false)
	close(s.done)
}

func (r *Registry) notify(s *Session, connected bool) {
	if r.opts.OnSession == nil {
		return
	}
	r.opts.OnSession(SessionEvent{
		Name:       s.name,
		SessionID:  s.id,
		RemoteAddr: s.RemoteAddr(),
		Connected:  connected,
	})
}

// QueueCommand stamps cmds with the current sequence and enqueues them as
// one batch. A batch with an explicit target goes to that device only; a
// batch without one is broadcast. Commands for a device that is not
// connected are dropped. Mixing targets returns ErrMixedTargets and
// enqueues nothing.
func (r *Registry) QueueCommand(priority int, cmds ...command.Command) error {
	batch := command.Batch(cmds)
	if len(batch) == 0 {
		return nil
	}
	target, err := batch.Target()
	if err != nil {
		return err
	}

	r.mu.Lock()
	seq := r.sequence
	stamped := batch.WithSequence(seq)
	r.queued = true

	if target != "" {
		s, ok := r.sessions[target]
		if ok {
			s.enqueue(priority, stamped, seq)
		}
		r.mu.Unlock()
		if !ok {
			r.opts.Logger.Warn("dropping command for disconnected device", "device", target, "kinds", batch.Kinds())
		}
	} else {
		for _, s := range r.sessions {
			s.enqueue(priority, stamped, seq)
		}
		r.mu.Unlock()
	}

	if r.opts.OnQueued != nil {
		r.opts.OnQueued(priority, stamped)
	}
	return nil
}

// Increment advances the batch sequence, but only if something was queued
// since the last call.
func (r *Registry) Increment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queued {
		r.queued = false
		r.sequence++
	}
}

// Sequence returns the current batch sequence.
func (r *Registry) Sequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sequence
}

// StaleClients returns the devices whose reported sequence has drifted
// from the sent one by more than StaleThreshold.
func (r *Registry) StaleClients() []string {
	r.mu.RLock()
	var stale []string
	for name, s := range r.sessions {
		if s.Stale() {
			stale = append(stale, name)
		}
	}
	r.mu.RUnlock()

	slices.Sort(stale)
	for _, name := range stale {
		r.opts.Logger.Warn("stale device", "device", name)
	}
	return stale
}

// Idle reports whether every device queue is empty.
func (r *Registry) Idle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.queue.Size() > 0 {
			return false
		}
	}
	return true
}

// Clients returns the connected device names, sorted.
func (r *Registry) Clients() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Session returns the active session for name.
func (r *Registry) Session(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Snapshot returns reporting info for every session, sorted by name.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return infos
}

// ClearQueues drops every pending camera signal and device command.
func (r *Registry) ClearQueues() {
	r.camera.Clear()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.queue.Clear()
	}
}

// PushCamera queues a camera signal.
func (r *Registry) PushCamera(sig CameraSignal) {
	r.camera.Enqueue(0, sig)
}

// ReadCamera returns the next camera signal, first discarding all but the
// newest few so the choreography reacts to current activity.
func (r *Registry) ReadCamera() (CameraSignal, bool) {
	if r.camera.Size() > cameraBacklog {
		r.camera.Prune(cameraBacklog)
	}
	e, ok := r.camera.Dequeue()
	return e.Item, ok
}

// SetCamera switches camera signalling on or off. It reports whether the
// setting changed.
func (r *Registry) SetCamera(on bool) bool {
	if r.cameraOn.Swap(on) == on {
		return false
	}
	r.opts.Logger.Info("camera switched", "on", on)
	return true
}

// CameraOn reports whether the camera should be sending signals.
func (r *Registry) CameraOn() bool {
	return r.cameraOn.Load()
}

// SetBridge installs a newly connected smart-plug bridge, closing any
// previous one.
func (r *Registry) SetBridge(b *kasa.Client) {
	r.bridgeMu.Lock()
	old := r.bridge
	r.bridge = b
	r.bridgeMu.Unlock()

	if old != nil && old != b {
		_ = old.Close()
	}
}

// Bridge returns the current smart-plug bridge, or nil.
func (r *Registry) Bridge() *kasa.Client {
	r.bridgeMu.RLock()
	defer r.bridgeMu.RUnlock()
	return r.bridge
}

// Close stops every session and waits for the dispatch loops to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	r.wg.Wait()

	if b := r.Bridge(); b != nil {
		_ = b.Close()
	}
}

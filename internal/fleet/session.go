package fleet

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/queue"
)

// Dispatch policy.
const (
	// PruneLimit caps a device queue after every dequeue.
	PruneLimit = 5

	// StaleThreshold is the sequence gap that marks a device stale.
	StaleThreshold = 5

	// initialPriority is the priority a fresh session pretends to be
	// running, so any real command may start immediately.
	initialPriority = 50

	// maxSendAttempts bounds retries of one command exchange.
	maxSendAttempts = 3

	defaultPollInterval      = 100 * time.Millisecond
	defaultHeartbeatInterval = time.Second
	defaultRetryDelay        = time.Second

	replyOK     = "ok"
	replyUpdate = "update"
)

// SessionState is the lifecycle of one device connection.
type SessionState int32

// Session states.
const (
	SessionHandshake SessionState = iota
	SessionActive
	SessionClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionHandshake:
		return "handshake"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Timing holds the dispatch loop intervals. Zero values use defaults.
type Timing struct {
	// PollInterval is the sleep between queue checks. Default: 100ms.
	PollInterval time.Duration

	// HeartbeatInterval is the idle ping period. Default: 1s.
	HeartbeatInterval time.Duration

	// RetryDelay is the pause before re-sending a rejected command.
	// Default: 1s.
	RetryDelay time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.PollInterval <= 0 {
		t.PollInterval = defaultPollInterval
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = defaultHeartbeatInterval
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = defaultRetryDelay
	}
	return t
}

// FirmwareSource supplies the current device firmware. Hash returns "" when
// no firmware has been published.
type FirmwareSource interface {
	Hash() string
	Firmware() ([]byte, error)
}

// Metrics receives dispatch measurements. Optional.
type Metrics interface {
	RecordSequence(device string, reported, sent int64)
	RecordDispatch(device string, kinds []string, attempts int, ok bool)
}

type noopFirmware struct{}

func (noopFirmware) Hash() string              { return "" }
func (noopFirmware) Firmware() ([]byte, error) { return nil, nil }

type noopMetrics struct{}

func (noopMetrics) RecordSequence(string, int64, int64)        {}
func (noopMetrics) RecordDispatch(string, []string, int, bool) {}

// SessionInfo is a reporting snapshot of one session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	Reported    int64     `json:"reported_sequence"`
	Sent        int64     `json:"sent_sequence"`
	QueueDepth  int       `json:"queue_depth"`
	Stale       bool      `json:"stale"`
	ConnectedAt time.Time `json:"connected_at"`
	Delivered   uint64    `json:"delivered"`
	Failed      uint64    `json:"failed"`
}

// Session is the server side of one connected device. It owns the device's
// queue and runs the dispatch loop.
type Session struct {
	id          string
	name        string
	transport   Transport
	queue       *queue.Queue[command.Batch]
	firmware    FirmwareSource
	metrics     Metrics
	logger      Logger
	timing      Timing
	connectedAt time.Time

	state atomic.Int32
	done  chan struct{}

	seqMu    sync.Mutex
	reported int64
	sent     int64

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func newSession(name string, t Transport, opts Options) *Session {
	s := &Session{
		id:          "ses-" + uuid.NewString()[:8],
		name:        name,
		transport:   t,
		queue:       queue.New[command.Batch](),
		firmware:    opts.Firmware,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		timing:      opts.Timing.withDefaults(),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
		// start deliberately out of sync so the first ping cannot be
		// mistaken for an applied command
		reported: -2 * PruneLimit,
		sent:     0,
	}
	s.state.Store(int32(SessionHandshake))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the device name.
func (s *Session) Name() string { return s.name }

// RemoteAddr returns the device address.
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// State returns the lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Done is closed once the dispatch loop has exited and the registry has
// forgotten the session.
func (s *Session) Done() <-chan struct{} { return s.done }

// QueueDepth returns the number of pending batches.
func (s *Session) QueueDepth() int { return s.queue.Size() }

// Sequences returns the reported and sent sequence numbers.
func (s *Session) Sequences() (reported, sent int64) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.reported, s.sent
}

// Stale reports whether the device has drifted from what was sent. A
// device reporting zero or less (no ping answered yet, or freshly
// restarted) is never stale.
func (s *Session) Stale() bool {
	reported, sent := s.Sequences()
	gap := reported - sent
	if gap < 0 {
		gap = -gap
	}
	return reported > 0 && gap > StaleThreshold
}

// Info returns a reporting snapshot.
func (s *Session) Info() SessionInfo {
	reported, sent := s.Sequences()
	return SessionInfo{
		ID:          s.id,
		Name:        s.name,
		RemoteAddr:  s.RemoteAddr(),
		State:       s.State().String(),
		Reported:    reported,
		Sent:        sent,
		QueueDepth:  s.queue.Size(),
		Stale:       s.Stale(),
		ConnectedAt: s.connectedAt,
		Delivered:   s.delivered.Load(),
		Failed:      s.failed.Load(),
	}
}

func (s *Session) enqueue(priority int, batch command.Batch, seq int64) {
	s.queue.Enqueue(priority, batch)
	s.seqMu.Lock()
	s.reported = seq
	s.sent = seq
	s.seqMu.Unlock()
}

func (s *Session) setReported(seq int64) (changed bool, sent int64) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.reported != seq {
		s.reported = seq
		changed = true
	}
	return changed, s.sent
}

// close tears down the connection, unblocking any pending exchange.
func (s *Session) close() {
	_ = s.transport.Close()
}

// run is the dispatch loop. It returns when the transport fails or ctx
// ends.
func (s *Session) run(ctx context.Context) {
	s.state.Store(int32(SessionActive))
	defer s.state.Store(int32(SessionClosed))

	stop := context.AfterFunc(ctx, s.close)
	defer stop()
	defer s.close()

	var (
		advertised      string
		currentPriority = initialPriority
		nextCommandTime = time.Now()
		pingTime        = time.Now().Add(s.timing.HeartbeatInterval)
	)

	for ctx.Err() == nil {
		if hash := s.firmware.Hash(); hash != "" && hash != advertised {
			advertised = hash
			notice := command.New(command.KindFirmwareHash).With("hash", hash)
			s.queue.Enqueue(0, command.Batch{notice})
			s.logger.Info("advertising firmware", "device", s.name, "hash", hash)
		}

		var batch command.Batch
		if next, ok := s.queue.Peek(); ok {
			// let the running command finish unless something more urgent arrived
			if next.Priority >= currentPriority && time.Now().Before(nextCommandTime) {
				if !sleep(ctx, s.timing.PollInterval) {
					return
				}
				continue
			}

			entry, ok := s.queue.Dequeue()
			if !ok {
				continue
			}
			batch = entry.Item
			currentPriority = entry.Priority
			hold := batch.HoldDuration()
			nextCommandTime = time.Now().Add(hold)
			s.logger.Debug("next command", "device", s.name, "kinds", batch.Kinds(), "hold", hold)

			if dropped := s.queue.Prune(PruneLimit); dropped > 0 {
				s.logger.Debug("pruned device queue", "device", s.name, "dropped", dropped)
			}
		} else if time.Now().Before(pingTime) {
			if !sleep(ctx, s.timing.PollInterval) {
				return
			}
			continue
		}

		var err error
		if batch != nil {
			err = s.deliver(ctx, batch)
		} else {
			err = s.heartbeat(ctx)
			pingTime = time.Now().Add(s.timing.HeartbeatInterval)
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("device connection lost", "device", s.name, "error", err)
			}
			return
		}
	}
}

// deliver sends one batch, retrying rejected exchanges. Only transport
// errors are returned; a batch the device keeps rejecting is dropped.
func (s *Session) deliver(ctx context.Context, batch command.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		s.logger.Error("dropping unencodable command", "device", s.name, "error", err)
		return nil
	}

	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		reply, err := s.exchange(ctx, payload)
		if err != nil {
			return err
		}
		if reply == replyUpdate {
			if reply, err = s.sendFirmware(ctx); err != nil {
				return err
			}
		}
		if reply == replyOK {
			s.delivered.Add(1)
			s.metrics.RecordDispatch(s.name, batch.Kinds(), attempt, true)
			return nil
		}

		s.logger.Warn("unexpected reply from device", "device", s.name, "reply", reply, "attempt", attempt)
		if attempt < maxSendAttempts && !sleep(ctx, s.timing.RetryDelay) {
			return ctx.Err()
		}
	}

	s.failed.Add(1)
	s.metrics.RecordDispatch(s.name, batch.Kinds(), maxSendAttempts, false)
	s.logger.Error("dropping command after retries", "device", s.name, "kinds", batch.Kinds())
	return nil
}

// sendFirmware streams the firmware image and returns the device's reply.
func (s *Session) sendFirmware(ctx context.Context) (string, error) {
	image, err := s.firmware.Firmware()
	if err != nil || len(image) == 0 {
		s.logger.Warn("device requested firmware but none is available", "device", s.name, "error", err)
		return "", nil
	}

	msg := make([]byte, 4+len(image))
	binary.BigEndian.PutUint32(msg, uint32(len(image)))
	copy(msg[4:], image)

	s.logger.Info("sending firmware", "device", s.name, "bytes", len(image))
	return s.exchange(ctx, msg)
}

// heartbeat pings the device and records its reported sequence.
func (s *Session) heartbeat(ctx context.Context) error {
	payload, err := json.Marshal(command.Ping())
	if err != nil {
		return err
	}
	reply, err := s.exchange(ctx, payload)
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}

	seq, err := strconv.ParseInt(reply, 10, 64)
	if err != nil {
		s.logger.Error("unexpected ping reply", "device", s.name, "reply", reply)
		return nil
	}
	if changed, sent := s.setReported(seq); changed {
		s.logger.Info("device resynchronised", "device", s.name, "reported", seq, "sent", sent)
		s.metrics.RecordSequence(s.name, seq, sent)
	}
	return nil
}

func (s *Session) exchange(ctx context.Context, msg []byte) (string, error) {
	if err := s.transport.Send(ctx, msg); err != nil {
		return "", err
	}
	data, err := s.transport.Receive(ctx)
	if err != nil {
		return "", err
	}
	return trimReply(data), nil
}

// sleep waits for d or until ctx ends. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ada-core/internal/queue"
)

// Broker is the MQTT capability the bus needs. *mqtt.Client implements it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

var _ Broker = (*mqtt.Client)(nil)

// Logger is the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Defaults for BusOptions.
const (
	DefaultRateLimit  = 5
	DefaultBurst      = 10
	DefaultQueueLimit = 100
)

// BusOptions configures a Bus.
type BusOptions struct {
	// ClientID is our own sender id; messages from it are ignored.
	ClientID string

	// QoS for subscriptions and publishes.
	QoS byte

	// RateLimit is the sustained inbound messages per second.
	RateLimit rate.Limit

	// Burst is the token bucket size.
	Burst int

	// QueueLimit caps pending messages; the oldest are dropped beyond it.
	QueueLimit int

	Logger Logger
}

// wirePayload is the JSON form of a control message.
type wirePayload struct {
	From string `json:"fromUserId,omitempty"`
	Data string `json:"data"`
}

// Bus receives remote-control messages from MQTT and publishes replies.
//
// Inbound messages are parsed, rate limited and queued in arrival order.
// The choreography engine drains them one per tick with Next.
type Bus struct {
	broker  Broker
	opts    BusOptions
	limiter *rate.Limiter
	pending *queue.Queue[Envelope]
	topics  mqtt.Topics

	mu      sync.Mutex
	started bool

	now func() time.Time
}

// NewBus creates a bus over broker. Zero option values take the defaults.
func NewBus(broker Broker, opts BusOptions) *Bus {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Bus{
		broker:  broker,
		opts:    opts,
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		pending: queue.New[Envelope](),
		now:     time.Now,
	}
}

// Start subscribes to every sender's control topic.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}
	if err := b.broker.Subscribe(b.topics.AllControl(), b.opts.QoS, b.handle); err != nil {
		return fmt.Errorf("subscribing to control topic: %w", err)
	}
	b.started = true
	b.opts.Logger.Info("remote bus started", "topic", b.topics.AllControl())
	return nil
}

// Stop unsubscribes. Pending messages stay queued.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false
	if err := b.broker.Unsubscribe(b.topics.AllControl()); err != nil {
		return fmt.Errorf("unsubscribing from control topic: %w", err)
	}
	return nil
}

// handle is the MQTT handler for control topics.
func (b *Bus) handle(topic string, payload []byte) error {
	from, path := decodePayload(payload)
	if from == "" {
		from = mqtt.SenderFromControl(topic)
	}
	if from != "" && from == b.opts.ClientID {
		return nil
	}
	if err := b.Submit(from, path); err != nil {
		b.opts.Logger.Warn("remote message rejected", "from", from, "path", path, "error", err)
		return err
	}
	return nil
}

// decodePayload accepts a bare path or {"fromUserId": ..., "data": ...}.
func decodePayload(payload []byte) (from, path string) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var w wirePayload
		if err := json.Unmarshal([]byte(text), &w); err == nil {
			return w.From, w.Data
		}
	}
	return "", text
}

// Submit parses and queues a message from a sender. It is used by the MQTT
// handler and by the HTTP control endpoint.
func (b *Bus) Submit(from, path string) error {
	msg, err := Parse(path)
	if err != nil {
		return err
	}
	if !b.limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, path)
	}

	b.pending.Enqueue(0, Envelope{From: from, Message: msg, Received: b.now()})
	if dropped := b.pending.Prune(b.opts.QueueLimit); dropped > 0 {
		b.opts.Logger.Warn("remote queue full, dropped oldest messages", "dropped", dropped)
	}
	return nil
}

// Next returns the oldest pending message.
func (b *Bus) Next() (Envelope, bool) {
	entry, ok := b.pending.Dequeue()
	if !ok {
		return Envelope{}, false
	}
	return entry.Item, true
}

// Pending returns the number of queued messages.
func (b *Bus) Pending() int {
	return b.pending.Size()
}

// Send publishes a reply or state path on the state topic.
func (b *Bus) Send(path string) error {
	if !b.isStarted() {
		return ErrNotStarted
	}
	data, err := json.Marshal(wirePayload{From: b.opts.ClientID, Data: path})
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	return b.broker.Publish(b.topics.State(), data, b.opts.QoS, false)
}

// Echo publishes a batch queued to the fleet on the commands topic.
// Its signature matches fleet.RegistryOptions.OnQueued.
func (b *Bus) Echo(priority int, batch command.Batch) {
	if !b.isStarted() {
		return
	}
	data, err := json.Marshal(struct {
		Priority int           `json:"priority"`
		Commands command.Batch `json:"commands"`
	}{priority, batch})
	if err != nil {
		b.opts.Logger.Warn("encoding command echo", "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.Commands(), data, 0, false); err != nil {
		b.opts.Logger.Debug("command echo not published", "error", err)
	}
}

func (b *Bus) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

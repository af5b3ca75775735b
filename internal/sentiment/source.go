package sentiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/ada-core/internal/infrastructure/mqtt"
)

// ErrInvalidPayload is returned for a sentiment message that is not a JSON
// array of strings.
var ErrInvalidPayload = errors.New("sentiment: invalid payload")

// Source supplies the latest per-zone emotions.
type Source interface {
	// Start begins accepting data.
	Start()

	// Stop discards pending data and ignores new data until Start.
	Stop()

	// Next returns the latest emotion list if it is new.
	Next() ([]string, bool)
}

// Subscriber is the MQTT capability MQTTSource needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

var _ Subscriber = (*mqtt.Client)(nil)

// Logger is the logging interface used by the source.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTSource reads emotion lists from the sentiment topic.
type MQTTSource struct {
	sub    Subscriber
	topic  string
	logger Logger

	mu      sync.Mutex
	running bool
	latest  []string
	fresh   bool
	last    []string
}

var _ Source = (*MQTTSource)(nil)

// NewMQTTSource subscribes to the sentiment topic. The source starts
// stopped.
func NewMQTTSource(sub Subscriber, qos byte) (*MQTTSource, error) {
	s := &MQTTSource{
		sub:    sub,
		topic:  mqtt.Topics{}.Sentiment(),
		logger: noopLogger{},
	}
	if err := sub.Subscribe(s.topic, qos, s.handle); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	return s, nil
}

// SetLogger sets the logger.
func (s *MQTTSource) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Close unsubscribes.
func (s *MQTTSource) Close() error {
	return s.sub.Unsubscribe(s.topic)
}

// Start implements Source.
func (s *MQTTSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// Stop implements Source.
func (s *MQTTSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.latest = nil
	s.fresh = false
	s.last = nil
}

// Next implements Source.
func (s *MQTTSource) Next() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh {
		return nil, false
	}
	s.fresh = false
	if slices.Equal(s.latest, s.last) {
		return nil, false
	}
	s.last = s.latest
	return slices.Clone(s.latest), true
}

func (s *MQTTSource) handle(_ string, payload []byte) error {
	var emotions []string
	if err := json.Unmarshal(payload, &emotions); err != nil {
		s.mu.Lock()
		logger := s.logger
		s.mu.Unlock()
		logger.Warn("ignoring sentiment payload", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.latest = emotions
	s.fresh = true
	return nil
}

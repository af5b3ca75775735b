package kasa

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus summarises the bridge for dashboards.
type HealthStatus string

// Health states.
const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthDisconnected HealthStatus = "disconnected"
	HealthStopping     HealthStatus = "stopping"
)

// DefaultHealthTopic is where health messages are published.
const DefaultHealthTopic = "ada/bridge/health"

// HealthMessage is the JSON payload published on each report.
type HealthMessage struct {
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Bridge    *Status      `json:"bridge,omitempty"`
	Uptime    int64        `json:"uptime_seconds"`
	Timestamp time.Time    `json:"timestamp"`
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Topic overrides DefaultHealthTopic.
	Topic string

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Bridge returns the currently connected bridge, or nil.
	Bridge func() *Client
}

// HealthReporter periodically publishes the bridge status.
type HealthReporter struct {
	interval  time.Duration
	topic     string
	publisher HealthPublisher
	bridge    func() *Client
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultHealthTopic
	}
	bridge := cfg.Bridge
	if bridge == nil {
		bridge = func() *Client { return nil }
	}

	return &HealthReporter{
		interval:  interval,
		topic:     topic,
		publisher: cfg.Publisher,
		bridge:    bridge,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic health reporting until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthMessage{Status: HealthStopping})
	})
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Message())
}

// Message builds the current health message.
func (h *HealthReporter) Message() HealthMessage {
	msg := HealthMessage{Status: HealthHealthy}

	client := h.bridge()
	switch {
	case client == nil:
		msg.Status = HealthDisconnected
		msg.Reason = "bridge not connected"
	default:
		st := client.Status()
		msg.Bridge = &st
		if !st.Connected {
			msg.Status = HealthDisconnected
			msg.Reason = st.Error
		} else if st.Error != "" || st.LightsOn == nil {
			msg.Status = HealthDegraded
			msg.Reason = st.Error
		}
	}
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial bridge health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish bridge health", err)
			}
		}
	}
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}

	now := time.Now()
	msg.Timestamp = now.UTC()
	msg.Uptime = int64(now.Sub(h.startTime).Seconds())

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}

package api

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/infrastructure/logging"
)

// Event channels broadcast on the hub.
const (
	// EventPowerStateChanged carries {"from", "to"} on every power transition.
	EventPowerStateChanged = "power.state_changed"

	// EventFleetSessionChanged carries a device's session snapshot when it
	// connects or disconnects.
	EventFleetSessionChanged = "fleet.session_changed"
)

// EventChannels lists every channel a new client is subscribed to.
var EventChannels = []string{EventPowerStateChanged, EventFleetSessionChanged}

// Hub fans events out to WebSocket clients. The latest event on each
// channel is retained and replayed to clients as they subscribe, so a panel
// that connects mid-evening learns the power state without waiting for the
// next transition.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	retained map[string][]byte
}

// NewHub creates a new WebSocket hub. Zero settings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		clients:  make(map[*wsClient]struct{}),
		retained: make(map[string][]byte),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Broadcast sends an event to every client subscribed to channel and
// retains it for clients that subscribe later.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Time:    h.now().UTC(),
		Data:    payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	h.retained[channel] = data
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range clients {
		if c.subscribed(channel) && c.send(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add registers c and replays the retained events it is subscribed to.
func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.replay(c, c.channels())
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", h.ClientCount())
}

// remove unregisters c. Safe to call more than once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	if existed {
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", h.ClientCount())
	}
}

// replay sends c the retained event of each channel, in EventChannels order.
func (h *Hub) replay(c *wsClient, channels []string) {
	h.mu.RLock()
	var frames [][]byte
	for _, ch := range EventChannels {
		if data, ok := h.retained[ch]; ok && slices.Contains(channels, ch) {
			frames = append(frames, data)
		}
	}
	h.mu.RUnlock()

	for _, data := range frames {
		c.send(data)
	}
}

func knownChannel(name string) bool {
	return slices.Contains(EventChannels, name)
}

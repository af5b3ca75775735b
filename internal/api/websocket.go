package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types.
const (
	FrameEvent       = "event"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameControl     = "control"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameResponse    = "response"
	FrameError       = "error"

	// clientSendBuffer is the per-client outbound frame buffer.
	clientSendBuffer = 64
)

// Frame is one JSON message on the socket, in either direction.
//
// Clients send {"type":"control","id":"7","path":"/color/255,0,0"} or
// {"type":"unsubscribe","channels":["power.state_changed"]}. The server
// sends events as {"type":"event","channel":...,"time":...,"data":...} and
// answers requests with a response or error frame carrying the same id.
type Frame struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Time    time.Time `json:"time,omitzero"`
	Data    any       `json:"data,omitempty"`

	Path     string   `json:"path,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one connected socket. The outbound channel is closed exactly
// once, under mu, so send never races close.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	control Controller

	mu     sync.Mutex
	out    chan []byte
	subs   map[string]bool
	closed bool
}

// handleWebSocket upgrades the connection and subscribes the client to
// every event channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:     s.hub,
		conn:    conn,
		subject: subjectFrom(r.Context()),
		control: s.control,
		out:     make(chan []byte, clientSendBuffer),
		subs:    make(map[string]bool, len(EventChannels)),
	}
	for _, ch := range EventChannels {
		c.subs[ch] = true
	}

	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *wsClient) timing() (ping, pong time.Duration) {
	return time.Duration(c.hub.cfg.PingInterval) * time.Second,
		time.Duration(c.hub.cfg.PongTimeout) * time.Second
}

func (c *wsClient) readLoop() {
	defer c.hub.remove(c)

	ping, pong := c.timing()
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + pong)) }

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	//nolint:errcheck // the first read reports a broken connection
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // see above
		extend()

		var req Frame
		if err := json.Unmarshal(data, &req); err != nil {
			c.fail("", "invalid JSON frame")
			continue
		}
		c.handle(req)
	}
}

func (c *wsClient) writeLoop() {
	ping, pong := c.timing()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			//nolint:errcheck // a failed write below ends the loop
			c.conn.SetWriteDeadline(time.Now().Add(pong))
			if !ok {
				//nolint:errcheck // best effort on the way out
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // a failed ping below ends the loop
			c.conn.SetWriteDeadline(time.Now().Add(pong))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(req Frame) {
	switch req.Type {
	case FrameControl:
		c.handleControl(req)
	case FrameSubscribe, FrameUnsubscribe:
		c.handleSubscription(req)
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: req.ID})
	default:
		c.fail(req.ID, "unknown frame type: "+req.Type)
	}
}

// handleControl queues a remote-control path, the same as POST /control.
func (c *wsClient) handleControl(req Frame) {
	if req.Path == "" {
		c.fail(req.ID, "path is required")
		return
	}
	if err := c.control.Submit(c.subject, req.Path); err != nil {
		status, code, msg := controlFailure(err)
		if status == http.StatusInternalServerError {
			c.hub.logger.Error("control submit failed", "path", req.Path, "error", err)
		}
		c.reply(Frame{Type: FrameError, ID: req.ID, Data: map[string]string{"code": code, "message": msg}})
		return
	}
	c.reply(Frame{Type: FrameResponse, ID: req.ID, Data: map[string]string{"queued": req.Path}})
}

func (c *wsClient) handleSubscription(req Frame) {
	for _, ch := range req.Channels {
		if !knownChannel(ch) {
			c.fail(req.ID, fmt.Sprintf("unknown channel %q", ch))
			return
		}
	}

	subscribe := req.Type == FrameSubscribe
	var added []string
	c.mu.Lock()
	for _, ch := range req.Channels {
		if subscribe && !c.subs[ch] {
			added = append(added, ch)
		}
		c.subs[ch] = subscribe
	}
	c.mu.Unlock()

	c.reply(Frame{Type: FrameResponse, ID: req.ID, Data: map[string]any{"channels": c.channels()}})
	if len(added) > 0 {
		c.hub.replay(c, added)
	}
}

// channels returns the client's subscriptions in EventChannels order.
func (c *wsClient) channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, ch := range EventChannels {
		if c.subs[ch] {
			out = append(out, ch)
		}
	}
	return out
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

// send queues data without blocking. It reports false when the client is
// gone or too slow to keep up.
func (c *wsClient) send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// close ends the write loop. Safe to call more than once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *wsClient) reply(f Frame) {
	f.Time = c.hub.now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket reply", "error", err)
		return
	}
	c.send(data)
}

func (c *wsClient) fail(id, message string) {
	c.reply(Frame{Type: FrameError, ID: id, Data: map[string]string{"code": ErrCodeBadRequest, "message": message}})
}

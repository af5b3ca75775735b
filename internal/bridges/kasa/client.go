package kasa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPingInterval throttles status polling.
	DefaultPingInterval = 600 * time.Second

	// maxReadAttempts bounds empty reads while waiting for a reply.
	maxReadAttempts = 10

	cmdOn     = "on"
	cmdOff    = "off"
	cmdStatus = "status"
	replyOK   = "ok"
)

// Conn is the bridge connection. The fleet transport satisfies it.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

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

// Options configures a Client.
type Options struct {
	// PingInterval is the minimum time between status polls.
	// Default: 600 seconds.
	PingInterval time.Duration

	// Logger receives bridge diagnostics. Optional.
	Logger Logger
}

// Status is a snapshot of the bridge.
type Status struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	LightsOn  *bool     `json:"lights_on"`
	Error     string    `json:"error,omitempty"`
	LastPing  time.Time `json:"last_ping,omitzero"`
}

// Client controls the smart-plug bridge over one connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Commands are serialised.
type Client struct {
	name         string
	pingInterval time.Duration
	logger       Logger

	mu       sync.Mutex
	conn     Conn
	lightsOn *bool
	lastErr  string
	lastPing time.Time
}

// NewClient wraps an established bridge connection.
func NewClient(name string, conn Conn, opts Options) (*Client, error) {
	if conn == nil {
		return nil, fmt.Errorf("kasa: connection is required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		name:         name,
		conn:         conn,
		pingInterval: opts.PingInterval,
		logger:       logger,
	}, nil
}

// Name returns the name the bridge connected with.
func (c *Client) Name() string {
	return c.name
}

// TurnOn switches every plug on.
func (c *Client) TurnOn(ctx context.Context) error {
	return c.switchPower(ctx, cmdOn, true)
}

// TurnOff switches every plug off.
func (c *Client) TurnOff(ctx context.Context) error {
	return c.switchPower(ctx, cmdOff, false)
}

func (c *Client) switchPower(ctx context.Context, cmd string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.lastErr = "disconnected"
		return ErrDisconnected
	}

	reply, err := c.send(ctx, cmd)
	if err != nil {
		return err
	}
	if reply != replyOK {
		c.lastErr = fmt.Sprintf("failed to turn %s the lights: %s", cmd, reply)
		c.logger.Warn("bridge rejected power command", "bridge", c.name, "command", cmd, "reply", reply)
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
	c.lightsOn = &on
	c.logger.Info("bridge power switched", "bridge", c.name, "on", on)
	return nil
}

// UpdateSwitchStatus polls the plugs, at most once per PingInterval. It
// doubles as the keep-alive for the bridge socket. The raw status reply is
// returned when a poll happened.
func (c *Client) UpdateSwitchStatus(ctx context.Context, now time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.lightsOn = nil
		return "", ErrDisconnected
	}
	if !c.lastPing.IsZero() && now.Before(c.lastPing.Add(c.pingInterval)) {
		return "", nil
	}

	reply, err := c.send(ctx, cmdStatus)
	c.lastPing = now
	if err != nil {
		return "", err
	}
	c.lightsOn = parseStatus(reply)
	return reply, nil
}

// LightsOn reports the last known plug state: true when every plug is on,
// false when every plug is off, nil when unknown or mixed.
func (c *Client) LightsOn() *bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lightsOn == nil {
		return nil
	}
	v := *c.lightsOn
	return &v
}

// Err returns the last bridge error, or "" when healthy.
func (c *Client) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connected reports whether the bridge connection is still usable.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Status returns a snapshot for reporting.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Name:      c.name,
		Connected: c.conn != nil,
		Error:     c.lastErr,
		LastPing:  c.lastPing,
	}
	if c.lightsOn != nil {
		v := *c.lightsOn
		st.LightsOn = &v
	}
	return st
}

// Close drops the bridge connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.lastErr = "disconnected"
	return err
}

// send writes cmd and waits for a non-empty reply. A transport failure
// drops the connection. Caller must hold c.mu.
func (c *Client) send(ctx context.Context, cmd string) (string, error) {
	c.lastErr = ""

	if err := c.conn.Send(ctx, []byte(cmd)); err != nil {
		return "", c.fail(err)
	}
	for range maxReadAttempts {
		data, err := c.conn.Receive(ctx)
		if err != nil {
			return "", c.fail(err)
		}
		if reply := strings.TrimSpace(strings.TrimRight(string(data), "\x00")); reply != "" {
			return reply, nil
		}
	}
	return "", ErrNoResponse
}

func (c *Client) fail(err error) error {
	c.logger.Error("bridge connection failed", "bridge", c.name, "error", err)
	_ = c.conn.Close()
	c.conn = nil
	c.lastErr = err.Error()
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

// parseStatus turns "ip:True,ip:False" into all-on, all-off or unknown.
func parseStatus(reply string) *bool {
	var on, off int
	for _, device := range strings.Split(reply, ",") {
		_, state, ok := strings.Cut(device, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(state) == "True" {
			on++
		} else {
			off++
		}
	}

	var v bool
	switch {
	case on > 0 && off == 0:
		v = true
	case off > 0 && on == 0:
		v = false
	default:
		return nil
	}
	return &v
}

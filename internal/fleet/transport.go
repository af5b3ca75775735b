package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/ada-core/internal/command"
)

// Transport timeouts and buffer sizes.
const (
	// defaultReadTimeout bounds a single reply wait.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout bounds a single write.
	defaultWriteTimeout = 5 * time.Second

	// readBufferSize matches the device firmware's largest reply.
	readBufferSize = 16000
)

// Transport is one device connection. Each Send is answered by exactly one
// Receive.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Ensure both variants implement Transport.
var (
	_ Transport = (*ConnTransport)(nil)
	_ Transport = (*NoopTransport)(nil)
)

// TransportOptions configures a ConnTransport.
type TransportOptions struct {
	// ReadTimeout bounds a reply wait. Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a write. Default: 5 seconds.
	WriteTimeout time.Duration
}

// ConnTransport carries messages over a stream connection, one message per
// write and one reply per read.
type ConnTransport struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	readMu sync.Mutex
	buf    []byte

	closeOnce sync.Once
	closeErr  error
}

// NewConnTransport wraps an accepted connection.
func NewConnTransport(conn net.Conn, opts TransportOptions) *ConnTransport {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &ConnTransport{
		conn:         conn,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		buf:          make([]byte, readBufferSize),
	}
}

// Send writes msg as a single message.
func (t *ConnTransport) Send(ctx context.Context, msg []byte) error {
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(msg)
	return err
}

// Receive reads one reply.
func (t *ConnTransport) Receive(ctx context.Context) ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := t.conn.SetReadDeadline(deadline(ctx, t.readTimeout)); err != nil {
		return nil, err
	}
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

// Close closes the connection. Safe to call multiple times.
func (t *ConnTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// RemoteAddr returns the peer address.
func (t *ConnTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// deadline picks the earlier of the context deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// NoopTransport stands in for a device without hardware. It acknowledges
// every command and answers pings with the last sequence it saw.
type NoopTransport struct {
	name string

	mu      sync.Mutex
	replies [][]byte
	sent    [][]byte
	lastSeq int64
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

// NewNoopTransport creates a simulated device connection.
func NewNoopTransport(name string) *NoopTransport {
	return &NoopTransport{
		name:   name,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send records msg and prepares the device's reply.
func (t *NoopTransport) Send(_ context.Context, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	t.sent = append(t.sent, bytes.Clone(msg))

	reply := []byte("ok")
	if cmds, ok := decodeSent(msg); ok {
		for _, c := range cmds {
			if c.Kind == command.KindPing {
				reply = []byte(strconv.FormatInt(t.lastSeq, 10))
				continue
			}
			if c.Sequence != nil && *c.Sequence > t.lastSeq {
				t.lastSeq = *c.Sequence
			}
		}
	}
	t.replies = append(t.replies, reply)

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns the next prepared reply, waiting for one if needed.
func (t *NoopTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrTransportClosed
		}
		if len(t.replies) > 0 {
			r := t.replies[0]
			t.replies = t.replies[1:]
			t.mu.Unlock()
			return r, nil
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
			return nil, ErrTransportClosed
		case <-t.notify:
		}
	}
}

// Close marks the simulated device disconnected.
func (t *NoopTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// RemoteAddr identifies the simulated device.
func (t *NoopTransport) RemoteAddr() string {
	return "noop://" + t.name
}

// Sent returns a copy of every message sent so far.
func (t *NoopTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.sent))
	for i, m := range t.sent {
		out[i] = bytes.Clone(m)
	}
	return out
}

// LastSequence returns the highest sequence the device applied.
func (t *NoopTransport) LastSequence() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeq
}

// decodeSent parses a command object or array.
func decodeSent(msg []byte) ([]command.Command, bool) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, false
	}
	if msg[0] == '[' {
		var cmds []command.Command
		if err := json.Unmarshal(msg, &cmds); err != nil {
			return nil, false
		}
		return cmds, true
	}
	var c command.Command
	if err := json.Unmarshal(msg, &c); err != nil {
		return nil, false
	}
	return []command.Command{c}, true
}

// trimReply strips the trailing NULs and whitespace devices pad replies with.
func trimReply(data []byte) string {
	return string(bytes.Trim(data, "\x00 \t\r\n"))
}

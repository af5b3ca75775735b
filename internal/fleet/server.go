package fleet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/ada-core/internal/bridges/kasa"
)

// Reserved client names.
const (
	CameraName = "IPCAMERA"
	BridgeName = "HS105Switches"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	acceptRetryDelay        = 100 * time.Millisecond
	cameraPing              = "ping"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Transport timeouts applied to every accepted connection.
	Transport TransportOptions

	// HandshakeTimeout bounds the wait for the client name.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// BridgePingInterval throttles smart-plug status polling.
	BridgePingInterval time.Duration

	// Logger receives server diagnostics. Optional.
	Logger Logger
}

// Server accepts device connections and hands them to the registry.
type Server struct {
	registry *Registry
	opts     ServerOptions
	logger   Logger

	wg sync.WaitGroup
}

// NewServer creates a server feeding registry.
func NewServer(registry *Registry, opts ServerOptions) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("fleet: registry is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{registry: registry, opts: opts, logger: logger}, nil
}

// ListenAndServe listens on addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. Each connection is
// handled on its own goroutine. Serve closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("fleet server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			if !sleep(ctx, acceptRetryDelay) {
				return nil
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	t := NewConnTransport(conn, s.opts.Transport)

	name, err := s.handshake(ctx, t)
	if err != nil {
		s.logger.Warn("handshake failed", "addr", t.RemoteAddr(), "error", err)
		_ = t.Close()
		return
	}

	switch name {
	case CameraName:
		s.handleCamera(ctx, t)
	case BridgeName:
		s.handleBridge(ctx, name, t)
	default:
		session, err := s.registry.Register(ctx, name, t)
		if err != nil {
			s.logger.Warn("registration failed", "device", name, "error", err)
			_ = t.Close()
			return
		}
		<-session.Done()
	}
}

func (s *Server) handshake(ctx context.Context, t Transport) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	data, err := t.Receive(hctx)
	if err != nil {
		return "", err
	}
	name := trimReply(data)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// handleCamera runs the reversed camera protocol: the server sends the
// enable flag and the camera answers with a signal or a keep-alive ping.
func (s *Server) handleCamera(ctx context.Context, t Transport) {
	defer t.Close()
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	s.logger.Info("camera connected", "addr", t.RemoteAddr())

	for ctx.Err() == nil {
		flag := "False"
		if s.registry.CameraOn() {
			flag = "True"
		}
		if err := t.Send(ctx, []byte(flag)); err != nil {
			s.logCameraError(ctx, err)
			return
		}

		data, err := t.Receive(ctx)
		if err != nil {
			s.logCameraError(ctx, err)
			return
		}
		msg := trimReply(data)
		if msg == "" || msg == cameraPing {
			continue
		}

		sig, err := ParseCameraSignal(msg)
		if err != nil {
			s.logger.Warn("ignoring camera message", "message", msg, "error", err)
			continue
		}
		s.logger.Debug("camera signal", "kind", sig.Kind.String())
		s.registry.PushCamera(sig)
	}
}

func (s *Server) logCameraError(ctx context.Context, err error) {
	if ctx.Err() == nil {
		s.logger.Error("camera connection lost", "error", err)
	}
}

func (s *Server) handleBridge(ctx context.Context, name string, t Transport) {
	s.logger.Info("smart-plug bridge connected", "addr", t.RemoteAddr())

	client, err := kasa.NewClient(name, t, kasa.Options{
		PingInterval: s.opts.BridgePingInterval,
		Logger:       s.logger,
	})
	if err != nil {
		s.logger.Error("creating bridge client", "error", err)
		_ = t.Close()
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	if _, err := client.UpdateSwitchStatus(pctx, time.Now()); err != nil {
		s.logger.Warn("initial bridge status failed", "error", err)
	}
	s.registry.SetBridge(client)
}

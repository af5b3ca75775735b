package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/ada-core/internal/choreography"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/infrastructure/logging"
	"github.com/nerrad567/ada-core/internal/process"
	"github.com/nerrad567/ada-core/internal/schedule"
	"github.com/nerrad567/ada-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// FleetView is the read side of the fleet registry.
type FleetView interface {
	Snapshot() []fleet.SessionInfo
	Sequence() int64
	StaleClients() []string
}

// ScheduleView reports the power schedule.
type ScheduleView interface {
	Status(now time.Time) schedule.Status
}

// EngineView reports the choreography engine.
type EngineView interface {
	Status() choreography.Status
}

// Controller accepts remote-control paths, the same ones carried over MQTT.
type Controller interface {
	Submit(from, path string) error
}

// EventLister lists the persisted event log.
type EventLister interface {
	List(ctx context.Context, f store.Filter) ([]store.Event, error)
}

// ProcessView reports supervised helper processes.
type ProcessView interface {
	Stats() []process.Stats
}

var (
	_ FleetView    = (*fleet.Registry)(nil)
	_ ScheduleView = (*schedule.StateMachine)(nil)
	_ EngineView   = (*choreography.Engine)(nil)
	_ EventLister  = (*store.EventLog)(nil)
	_ ProcessView  = (*process.Group)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Fleet    FleetView
	Schedule ScheduleView
	Control  Controller

	// Optional.
	Engine    EngineView
	Events    EventLister
	Processes ProcessView

	// Hub is shared with the components that publish events. If nil the
	// server creates its own.
	Hub     *Hub
	Version string
}

// Server is the status and control HTTP API.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	fleet    FleetView
	schedule ScheduleView
	control  Controller
	engine   EngineView
	events   EventLister
	procs    ProcessView
	version  string
	now      func() time.Time

	hub         *Hub
	externalHub bool
	limiter     *ipLimiter
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}
	if deps.Schedule == nil {
		return nil, fmt.Errorf("schedule is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		fleet:    deps.Fleet,
		schedule: deps.Schedule,
		control:  deps.Control,
		engine:   deps.Engine,
		events:   deps.Events,
		procs:    deps.Processes,
		version:  deps.Version,
		now:      time.Now,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	if deps.Security.RateLimit.Enabled {
		s.limiter = newIPLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}
	return s, nil
}

// Hub returns the WebSocket hub events are broadcast on.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

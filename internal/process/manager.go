package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay    = 5 * time.Second
	defaultGracefulTimeout = 10 * time.Second

	// stableAfter is how long a process must stay up before its
	// restart backoff starts over.
	stableAfter = 2 * time.Minute
)

// Config describes a supervised process.
type Config struct {
	// Name identifies the process in logs and stats.
	Name string

	Binary string
	Args   []string

	// Env is appended to the parent environment (key=value).
	Env []string

	RestartOnFailure bool

	// RestartDelay is the first delay after a failure. It doubles on each
	// consecutive failure up to MaxRestartDelay; zero MaxRestartDelay keeps
	// the delay fixed.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	OnStart   func(pid int)
	OnExit    func(err error)
	OnRestart func(attempt int)
}

// Logger defines the logging interface for process supervision.
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

// Manager runs one process and restarts it when it exits unexpectedly.
type Manager struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	failures      int
	lastErr       error
	startedAt     time.Time
	stopRequested bool
	stop          chan struct{}
	done          chan struct{}
}

// NewManager creates a stopped manager, filling zero durations with defaults.
func NewManager(cfg Config, logger Logger) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		status: StatusStopped,
	}
}

// Name returns the configured process name.
func (m *Manager) Name() string {
	return m.cfg.Name
}

// Start launches the process and supervises it until Stop is called or ctx
// is cancelled. A failure to launch the first time is returned directly.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.status == StatusBackoff {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, m.stop, done)
	return nil
}

func (m *Manager) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary and args come from the operator's config file
	// own process group so Stop reaches children (ssh spawns its own)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(m.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStartFailed, m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	if m.stopRequested {
		// Stop arrived while restarting; Wait in supervise reaps it.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	m.mu.Unlock()

	go m.logLines("stdout", stdout)
	go m.logLines("stderr", stderr)

	m.logger.Info("process started", "name", m.cfg.Name, "pid", cmd.Process.Pid, "args", m.cfg.Args)
	if m.cfg.OnStart != nil {
		m.cfg.OnStart(cmd.Process.Pid)
	}
	return nil
}

func (m *Manager) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("process output", "name", m.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

func (m *Manager) supervise(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := cmd.Wait()

		m.mu.Lock()
		stopping := m.stopRequested
		uptime := time.Since(m.startedAt)
		if uptime >= stableAfter {
			m.failures = 0
		}
		m.lastErr = err
		if stopping {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.failures++
		}
		failures := m.failures
		m.mu.Unlock()

		if m.cfg.OnExit != nil {
			m.cfg.OnExit(err)
		}
		if stopping {
			m.logger.Info("process stopped", "name", m.cfg.Name)
			return
		}

		m.logger.Warn("process exited", "name", m.cfg.Name, "error", err, "uptime", uptime)
		if !m.cfg.RestartOnFailure || ctx.Err() != nil {
			return
		}

		for {
			m.mu.Lock()
			m.restarts++
			attempt := m.restarts
			m.status = StatusBackoff
			m.mu.Unlock()

			if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
				m.logger.Error("giving up on process", "name", m.cfg.Name, "attempts", attempt-1)
				m.setStatus(StatusFailed)
				return
			}

			delay := backoffDelay(m.cfg.RestartDelay, m.cfg.MaxRestartDelay, failures)
			m.logger.Info("restarting process", "name", m.cfg.Name, "attempt", attempt, "delay", delay)
			if m.cfg.OnRestart != nil {
				m.cfg.OnRestart(attempt)
			}

			select {
			case <-ctx.Done():
				m.setStatus(StatusStopped)
				return
			case <-stop:
				m.setStatus(StatusStopped)
				return
			case <-time.After(delay):
			}

			if err := m.launch(ctx); err != nil {
				m.logger.Error("restart failed", "name", m.cfg.Name, "error", err)
				m.mu.Lock()
				m.lastErr = err
				m.failures++
				failures = m.failures
				m.mu.Unlock()
				continue
			}
			break
		}
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL
// after the graceful timeout. Stopping a stopped manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil || m.stopRequested {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	close(m.stop)
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.cfg.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("SIGTERM failed", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, killing", "name", m.cfg.Name, "timeout", m.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Stats is a point-in-time view of a supervised process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Name:     m.cfg.Name,
		Status:   m.status,
		Restarts: m.restarts,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
		s.Uptime = time.Since(m.startedAt)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// backoffDelay doubles base for each consecutive failure after the first,
// capped at limit. A zero limit disables growth.
func backoffDelay(base, limit time.Duration, failures int) time.Duration {
	if limit <= 0 || failures <= 1 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ada-core/internal/infrastructure/config"
)

const defaultSSHBinary = "ssh"

// Group supervises the auxiliary processes the installation depends on:
// one SSH session per controller Pi and, optionally, the DMX controller.
type Group struct {
	managers []*Manager
	logger   Logger
}

// NewGroup builds managers for every managed process in the configuration.
// Nothing is started until Start.
func NewGroup(pis config.PisConfig, dmx config.DMXConfig, logger Logger) *Group {
	if logger == nil {
		logger = noopLogger{}
	}
	g := &Group{logger: logger}
	if pis.Managed {
		for _, host := range pis.Hosts {
			g.managers = append(g.managers, NewManager(PiConfig(pis, host), logger))
		}
	}
	if dmx.Managed {
		g.managers = append(g.managers, NewManager(DMXProcessConfig(dmx), logger))
	}
	return g
}

// PiConfig returns the supervision settings for the SSH session that runs
// the controller program on host. Restarts are unlimited at a fixed delay.
func PiConfig(pis config.PisConfig, host string) Config {
	user := pis.User
	if user == "" {
		user = "pi"
	}
	return Config{
		Name:   "pi@" + host,
		Binary: defaultSSHBinary,
		Args: []string{
			"-o", "BatchMode=yes",
			"-o", "ServerAliveInterval=10",
			user + "@" + host,
			pis.SSHCommand,
		},
		RestartOnFailure: true,
		RestartDelay:     time.Duration(pis.RestartDelay) * time.Second,
	}
}

// DMXProcessConfig returns the supervision settings for the DMX controller.
func DMXProcessConfig(dmx config.DMXConfig) Config {
	return Config{
		Name:             "dmx",
		Binary:           dmx.Binary,
		Args:             dmx.Args,
		RestartOnFailure: true,
		RestartDelay:     time.Duration(dmx.RestartDelay) * time.Second,
	}
}

// Len returns the number of supervised processes.
func (g *Group) Len() int {
	return len(g.managers)
}

// Start launches every process. A process that cannot start is logged and
// skipped so one unreachable Pi does not block the rest; the joined errors
// are returned.
func (g *Group) Start(ctx context.Context) error {
	var errs []error
	for _, m := range g.managers {
		if err := m.Start(ctx); err != nil {
			g.logger.Error("supervised process did not start", "name", m.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every process, in reverse start order.
func (g *Group) Stop() error {
	var errs []error
	for i := len(g.managers) - 1; i >= 0; i-- {
		if err := g.managers[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.managers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot for every supervised process.
func (g *Group) Stats() []Stats {
	out := make([]Stats, 0, len(g.managers))
	for _, m := range g.managers {
		out = append(out, m.Stats())
	}
	return out
}

// Package process supervises the long-running helper processes Ada relies
// on: an SSH session per controller Pi running the LED client, and the
// optional local DMX controller.
//
// Each process runs in its own process group. When one exits unexpectedly
// it is restarted after RestartDelay (doubling up to MaxRestartDelay when
// set); Stop sends SIGTERM to the group and SIGKILL after GracefulTimeout.
//
// Example:
//
//	group := process.NewGroup(cfg.Pis, cfg.DMX, log)
//	if err := group.Start(ctx); err != nil {
//	    log.Warn("some helpers did not start", "error", err)
//	}
//	defer group.Stop()
package process

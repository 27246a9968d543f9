package cmd

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"firestige.xyz/pausefilter/internal/config"
	"firestige.xyz/pausefilter/internal/daemon"
)

const defaultPIDFile = "/var/run/pausefilter.pid"

// ControlClient controls a running daemon.
type ControlClient interface {
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
}

var (
	cli         ControlClient
	pidFileFlag string
	stopTimeout time.Duration
)

// SetClient replaces the client used by stop and reload.
func SetClient(c ControlClient) { cli = c }

// GetClient returns the client set by SetClient, or nil.
func GetClient() ControlClient { return cli }

func controlClient() ControlClient {
	if cli != nil {
		return cli
	}
	return &pidClient{pidFile: resolvePIDFile(), timeout: stopTimeout}
}

// resolvePIDFile prefers --pidfile, then control.pid_file from the config.
func resolvePIDFile() string {
	if pidFileFlag != "" {
		return pidFileFlag
	}
	if cfg, err := config.Load(configFile); err == nil && cfg.Control.PIDFile != "" {
		return cfg.Control.PIDFile
	}
	return defaultPIDFile
}

// pidClient signals the daemon named by a PID file.
type pidClient struct {
	pidFile string
	timeout time.Duration
}

func (c *pidClient) Stop(ctx context.Context) error {
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return daemon.StopRunning(c.pidFile, timeout)
}

func (c *pidClient) Reload(context.Context) error {
	if _, err := daemon.SignalRunning(c.pidFile, syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal %s: %w", c.pidFile, err)
	}
	return nil
}

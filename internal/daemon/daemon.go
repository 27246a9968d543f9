// Package daemon implements the pausefilter process lifecycle.
package daemon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pausefilter/internal/config"
	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/filter"
	"firestige.xyz/pausefilter/internal/host"
	"firestige.xyz/pausefilter/internal/host/afpacket"
	logpkg "firestige.xyz/pausefilter/internal/log"
	"firestige.xyz/pausefilter/internal/metrics"
)

const (
	filterComponent = "filter"
	requestTimeout  = 2 * time.Second
)

// Binding is a host the daemon attaches the filter to. Run blocks while the
// binding delivers adapter events; Close is called only after Run returned.
type Binding interface {
	host.Framework
	Handle() core.Handle
	AttachParameters() *core.AttachParameters
	Bind(m host.Module)
	Run(ctx context.Context) error
	Close() error
}

// BindingFactory opens the binding described by the host section.
type BindingFactory func(cfg config.HostConfig, log *slog.Logger) (Binding, error)

// AFPacketBinding opens the Linux AF_PACKET binding.
func AFPacketBinding(cfg config.HostConfig, log *slog.Logger) (Binding, error) {
	h, err := afpacket.New(afpacket.ConfigFrom(cfg), log)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithBindingFactory replaces the AF_PACKET binding.
func WithBindingFactory(f BindingFactory) Option {
	return func(d *Daemon) { d.newBinding = f }
}

// Daemon manages the pausefilter daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	params     filter.Params
	newBinding BindingFactory

	// Core components
	binding       Binding
	driver        *filter.Driver
	filter        *filter.Filter
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	bindingStop  context.CancelFunc
	bindingDone  chan error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a new Daemon instance.
func New(configPath string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		newBinding:   AFPacketBinding,
		shutdownChan: make(chan struct{}, 1),
		bindingDone:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes logging, loads the engine, attaches it to the binding
// and starts delivering adapter events.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting pausefilter daemon",
		"config", d.configPath,
		"interface", d.config.Host.Interface,
	)

	// 2. Decode the parameter store
	params, warnings := filter.ParseParameters(d.config.Parameters)
	for _, w := range warnings {
		slog.Warn("parameter ignored", "reason", w)
	}
	d.params = params
	d.applyFilterLevel()

	// 3. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 4. Open the binding and load the engine against it
	binding, err := d.newBinding(d.config.Host, logpkg.Get())
	if err != nil {
		return fmt.Errorf("failed to open host binding: %w", err)
	}
	d.binding = binding

	driver, err := filter.NewDriver(binding, params, filter.WithLogger(logpkg.Get()))
	if err != nil {
		binding.Close()
		return fmt.Errorf("failed to load filter driver: %w", err)
	}
	d.driver = driver

	// 5. Attach and restart
	f, err := driver.Attach(binding.Handle(), binding.AttachParameters())
	if err != nil {
		binding.Close()
		return fmt.Errorf("failed to attach filter: %w", err)
	}
	d.filter = f
	binding.Bind(f)

	attrs := &core.RestartAttributes{}
	if err := f.Restart(&core.RestartParameters{Attributes: attrs}); err != nil {
		d.teardown()
		return fmt.Errorf("failed to restart filter: %w", err)
	}

	// 6. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.teardown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. Deliver adapter events
	runCtx, stop := context.WithCancel(d.ctx)
	d.bindingStop = stop
	go func() {
		d.bindingDone <- binding.Run(runCtx)
	}()

	d.negotiate(attrs)

	slog.Info("daemon started successfully", "filter", f.Handle().String())
	return nil
}

// negotiate pushes the restart lookahead down and logs what the adapter
// reports. Failures are informational only.
func (d *Daemon) negotiate(attrs *core.RestartAttributes) {
	ctx, cancel := context.WithTimeout(d.ctx, requestTimeout)
	defer cancel()

	if attrs.LookaheadSize > 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, attrs.LookaheadSize)
		if _, err := d.filter.SetInformation(ctx, core.OidGenCurrentLookahead, buf); err != nil {
			slog.Warn("failed to set lookahead", "size", attrs.LookaheadSize, "error", err)
		}
	}

	buf := make([]byte, 4)
	n, err := d.filter.QueryInformation(ctx, core.OidGenLinkSpeed, buf)
	if err != nil || n < 4 {
		slog.Debug("link speed unavailable", "error", err)
		return
	}
	// 100 bps units
	slog.Info("adapter link speed", "mbps", binary.LittleEndian.Uint32(buf)/10_000)
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Quiesce the engine and release the binding
	d.teardown()

	// 2. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 3. Cancel context to signal all goroutines
	d.cancel()

	// 4. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 5. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 6. Flush logs
	logpkg.Flush()
}

// teardown runs Pause, stops the binding, then Detach and Unload.
func (d *Daemon) teardown() {
	if d.filter != nil && d.filter.State() == filter.StateRunning {
		if err := d.filter.Pause(); err != nil {
			slog.Error("failed to pause filter", "error", err)
		}
	}

	if d.bindingStop != nil {
		d.bindingStop()
		if err := <-d.bindingDone; err != nil {
			slog.Error("host binding stopped with error", "error", err)
		}
		d.bindingStop = nil
	}

	if d.filter != nil && d.filter.State() == filter.StatePaused {
		if err := d.filter.Detach(); err != nil {
			slog.Error("failed to detach filter", "error", err)
		}
	}
	if d.driver != nil {
		if err := d.driver.Unload(); err != nil {
			slog.Error("failed to unload filter driver", "error", err)
		}
		d.driver = nil
	}
	if d.binding != nil {
		if err := d.binding.Close(); err != nil {
			slog.Error("failed to close host binding", "error", err)
		}
		d.binding = nil
	}
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. the binding failing
//
// SIGHUP triggers a reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case err := <-d.bindingDone:
			// The binding gave up on its own; teardown must not wait for it again.
			d.bindingStop = nil
			slog.Error("host binding stopped", "error", err)
			d.Stop()
			if err == nil {
				err = errors.New("host binding stopped")
			}
			return err

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads logging and the engine debug level.
// Hot-reloadable: log level/format/components, parameters.DebugLevel.
// Cold (requires restart): host, metrics, every other parameter.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	requiresRestart := []string{}

	if newConfig.Host != d.config.Host {
		requiresRestart = append(requiresRestart, "host")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	newParams, warnings := filter.ParseParameters(newConfig.Parameters)
	for _, w := range warnings {
		slog.Warn("parameter ignored", "reason", w)
	}
	if !sameEngineParams(d.params, newParams) {
		requiresRestart = append(requiresRestart, "parameters")
	}

	oldConfig := d.config
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		d.config = oldConfig
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	hotReloaded = append(hotReloaded, "log")

	if newParams.DebugLevel != d.params.DebugLevel {
		hotReloaded = append(hotReloaded, "parameters.DebugLevel")
	}
	d.params.DebugLevel = newParams.DebugLevel
	d.applyFilterLevel()

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Filter returns the attached filter, or nil before Start.
func (d *Daemon) Filter() *filter.Filter { return d.filter }

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// applyFilterLevel maps the engine debug level onto the filter component,
// unless the log section sets that component explicitly.
func (d *Daemon) applyFilterLevel() {
	if _, ok := d.config.Log.Components[filterComponent]; ok {
		return
	}
	logpkg.SetComponentLevel(filterComponent, d.params.DebugLevel.SlogLevel())
}

// startMetrics starts the metrics HTTP server if enabled. It serves the
// default registry, where the host binding metrics live, together with a
// registry holding this daemon's engine collector.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(d.driver)); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path,
		prometheus.Gatherers{prometheus.DefaultGatherer, reg})
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}

	slog.Debug("PID file removed", "path", path)
	return nil
}

// sameEngineParams compares the parameters that only take effect on load.
func sameEngineParams(a, b filter.Params) bool {
	sameAddr := func(x, y net.HardwareAddr) bool { return bytes.Equal(x, y) }
	return slices.EqualFunc(a.AllowedAddresses, b.AllowedAddresses, sameAddr) &&
		a.TimerPeriod == b.TimerPeriod &&
		a.PauseValue == b.PauseValue &&
		a.DropLength == b.DropLength &&
		a.TrackSends == b.TrackSends &&
		a.TrackReceives == b.TrackReceives &&
		a.DetachGrace == b.DetachGrace &&
		a.Strict == b.Strict
}

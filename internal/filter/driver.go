// Package filter implements the packet filter engine: the per-adapter
// lifecycle, receive classification with CPU-affinitized deferred
// indication, the control-request proxy and periodic pause-frame injection.
//
// The engine owns no goroutines. Every entry point is a callback from the
// host binding, and deferred work runs on the binding's scheduler.
package filter

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host"
	"firestige.xyz/pausefilter/internal/nbl"
)

// Driver is the load-time state shared by all attachments: parameters, the
// scratch frame pool and the registry of attached filters.
type Driver struct {
	fw            host.Framework
	params        Params
	pool          *nbl.Pool
	registry      *Registry
	numProcessors int
	log           *slog.Logger

	violations atomic.Uint64
}

// Option configures a Driver.
type Option func(*driverOptions)

type driverOptions struct {
	logger    *slog.Logger
	poolLimit int
	registry  *Registry
}

// WithLogger sets the logger the driver and its filters write to.
func WithLogger(l *slog.Logger) Option {
	return func(o *driverOptions) { o.logger = l }
}

// WithPoolLimit caps the number of pause frames in flight.
func WithPoolLimit(n int) Option {
	return func(o *driverOptions) { o.poolLimit = n }
}

// WithRegistry makes the driver register filters in r.
func WithRegistry(r *Registry) Option {
	return func(o *driverOptions) { o.registry = r }
}

// NewDriver loads the engine against a host binding.
func NewDriver(fw host.Framework, params Params, opts ...Option) (*Driver, error) {
	o := driverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}

	pool, err := nbl.NewPool(nbl.PoolConfig{
		Name:     "pause-frames",
		DataSize: PauseFrameLen,
		Limit:    o.poolLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create frame pool: %w", err)
	}

	n := fw.NumProcessors()
	if n < 1 {
		n = 1
	}

	d := &Driver{
		fw:            fw,
		params:        params,
		pool:          pool,
		registry:      o.registry,
		numProcessors: n,
		log:           o.logger.With("component", "filter"),
	}

	d.log.Info("filter driver loaded",
		"processors", n,
		"allowed_addresses", len(params.AllowedAddresses),
		"timer_period", params.TimerPeriod,
		"pause_value", params.PauseValue,
		"drop_length", params.DropLength,
		"debug_level", int(params.DebugLevel),
	)
	return d, nil
}

// Attach creates the filter for one adapter. The adapter must be 802.3 and
// its address must be in the allow-list. On failure nothing is registered.
func (d *Driver) Attach(h core.Handle, ap *core.AttachParameters) (*Filter, error) {
	if ap == nil {
		return nil, fmt.Errorf("attach %s: %w: missing attach parameters", h, core.ErrInvalidRequest)
	}
	log := d.log.With("handle", h.String(), "adapter", ap.MiniportName)

	if ap.Medium != core.Medium802_3 {
		log.Error("unsupported media type", "medium", ap.Medium.String())
		return nil, fmt.Errorf("attach %s: %w: %s", h, core.ErrUnsupportedMedium, ap.Medium)
	}
	if !d.params.Allows(ap.CurrentAddress) {
		log.Error("address is not configured for filtering", "address", ap.CurrentAddress.String())
		return nil, fmt.Errorf("attach %s: %w: %s", h, core.ErrAddressNotAllowed, ap.CurrentAddress)
	}

	payload, err := NewPausePayload(ap.CurrentAddress, d.params.PauseValue)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", h, err)
	}

	f := newFilter(d, h, ap, payload, log)

	timer, err := d.fw.NewTimer(h, f.tick)
	if err != nil {
		log.Warn("failed to set up the timer", "error", err)
		return nil, fmt.Errorf("attach %s: %w: timer: %v", h, core.ErrResources, err)
	}
	f.timer = timer

	if err := d.registry.Add(f); err != nil {
		timer.Free()
		return nil, fmt.Errorf("attach %s: %w", h, err)
	}

	log.Info("filter attached", "address", ap.CurrentAddress.String(), "slots", len(f.slots))
	return f, nil
}

// Unload releases load-time resources. All filters must be detached.
func (d *Driver) Unload() error {
	if n := d.registry.Len(); n > 0 {
		return fmt.Errorf("%w: %d attached", core.ErrDriverBusy, n)
	}
	if n := d.pool.InUse(); n > 0 {
		d.log.Warn("unloading with pause frames still in flight", "in_use", n)
	}
	d.log.Info("filter driver unloaded")
	return nil
}

// Registry returns the registry of attached filters.
func (d *Driver) Registry() *Registry { return d.registry }

// Params returns the parameters the driver was loaded with.
func (d *Driver) Params() Params { return d.params }

// Pool returns the scratch frame pool.
func (d *Driver) Pool() *nbl.Pool { return d.pool }

// NumProcessors is the processor count captured at load.
func (d *Driver) NumProcessors() int { return d.numProcessors }

// Violations counts host contract violations seen so far.
func (d *Driver) Violations() uint64 { return d.violations.Load() }

// violation reports a broken host contract. It panics in strict mode.
func (d *Driver) violation(log *slog.Logger, op string, cause error, attrs ...any) error {
	d.violations.Add(1)

	err := fmt.Errorf("%s: %w", op, core.ErrContractViolation)
	if cause != nil {
		err = fmt.Errorf("%s: %w: %w", op, core.ErrContractViolation, cause)
	}
	log.Error("host contract violation", append([]any{"op", op, "error", err}, attrs...)...)
	if d.params.Strict {
		panic(err)
	}
	return err
}

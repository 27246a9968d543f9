package filter

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host"
)

// State is the lifecycle state of an attachment.
type State uint32

const (
	StateDetached State = iota
	StatePaused
	StatePausing
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StatePaused:
		return "paused"
	case StatePausing:
		return "pausing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Filter is the engine state for one adapter attachment. It implements
// host.Module.
type Filter struct {
	driver  *Driver
	fw      host.Framework
	handle  core.Handle
	name    string
	address net.HardwareAddr
	params  Params
	payload PausePayload
	timer   host.Timer
	log     *slog.Logger

	// mu guards the lifecycle state transitions, link state, the timer
	// arming decision, the outstanding request and status re-entrancy.
	mu          sync.Mutex
	state       atomic.Uint32
	linkUp      bool
	timerArmed  bool
	pendingOid  *core.OidRequest
	indicating  int
	lookahead   uint32
	internalReq sync.Map // *core.OidRequest -> *Future
	nextReqID   atomic.Uint64

	slots    []slot
	lastSlot atomic.Uint32
	lastCPU  atomic.Uint32

	indications   atomic.Uint64
	dropped       atomic.Uint64
	lastDropped   atomic.Uint64
	stall         atomic.Uint32
	ticks         atomic.Uint64
	inflightTicks atomic.Int32
	slotExhausted atomic.Uint64
	deferred      atomic.Uint64
	pauseSent     atomic.Uint64
	pauseSkipped  atomic.Uint64
	oidForwarded  atomic.Uint64
	oidCompleted  atomic.Uint64

	outstandingSends atomic.Int64
	outstandingRcvs  atomic.Int64

	fallbackLog *rate.Limiter
	skipLog     *rate.Limiter
}

var _ host.Module = (*Filter)(nil)

func newFilter(d *Driver, h core.Handle, ap *core.AttachParameters, payload PausePayload, log *slog.Logger) *Filter {
	f := &Filter{
		driver:      d,
		fw:          d.fw,
		handle:      h,
		name:        ap.MiniportName,
		address:     append(net.HardwareAddr(nil), ap.CurrentAddress...),
		params:      d.params,
		payload:     payload,
		log:         log,
		slots:       make([]slot, d.numProcessors),
		fallbackLog: rate.NewLimiter(rate.Every(time.Second), 1),
		skipLog:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for i := range f.slots {
		f.slots[i].index = i
	}
	// Rotation starts at slot 0 and processor 0.
	f.lastSlot.Store(uint32(len(f.slots) - 1))
	f.lastCPU.Store(uint32(d.numProcessors - 1))
	f.nextReqID.Store(internalRequestIDBase)
	f.state.Store(uint32(StatePaused))
	return f
}

// Handle returns the attachment handle.
func (f *Filter) Handle() core.Handle { return f.handle }

// Address returns the adapter hardware address.
func (f *Filter) Address() net.HardwareAddr { return f.address }

// State returns the current lifecycle state.
func (f *Filter) State() State { return State(f.state.Load()) }

func (f *Filter) setStateLocked(s State) {
	f.state.Store(uint32(s))
}

// TimerArmed reports whether the pause-frame timer is armed.
func (f *Filter) TimerArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timerArmed
}

// LinkUp reports the last link state indicated by the adapter.
func (f *Filter) LinkUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkUp
}

// Stats is a snapshot of an attachment's counters.
type Stats struct {
	Handle     core.Handle
	Name       string
	Address    string
	State      State
	LinkUp     bool
	TimerArmed bool
	PendingOid bool

	Indications         uint64
	Dropped             uint64
	LastDropped         uint64
	SlotExhausted       uint64
	DeferredIndications uint64
	PauseFramesSent     uint64
	PauseFramesSkipped  uint64
	Ticks               uint64
	OidForwarded        uint64
	OidCompleted        uint64

	OutstandingSends    int64
	OutstandingReceives int64
}

// Stats returns a snapshot of the counters.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	link, armed, pending := f.linkUp, f.timerArmed, f.pendingOid != nil
	f.mu.Unlock()

	return Stats{
		Handle:              f.handle,
		Name:                f.name,
		Address:             f.address.String(),
		State:               f.State(),
		LinkUp:              link,
		TimerArmed:          armed,
		PendingOid:          pending,
		Indications:         f.indications.Load(),
		Dropped:             f.dropped.Load(),
		LastDropped:         f.lastDropped.Load(),
		SlotExhausted:       f.slotExhausted.Load(),
		DeferredIndications: f.deferred.Load(),
		PauseFramesSent:     f.pauseSent.Load(),
		PauseFramesSkipped:  f.pauseSkipped.Load(),
		Ticks:               f.ticks.Load(),
		OidForwarded:        f.oidForwarded.Load(),
		OidCompleted:        f.oidCompleted.Load(),
		OutstandingSends:    f.outstandingSends.Load(),
		OutstandingReceives: f.outstandingRcvs.Load(),
	}
}

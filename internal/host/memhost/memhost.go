// Package memhost is an in-memory host binding. It records everything the
// engine hands it, runs deferred work in a selectable mode and exposes
// manually fired timers, which makes engine behaviour deterministic.
package memhost

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host"
	"firestige.xyz/pausefilter/internal/nbl"
)

// DeferMode selects how QueueDeferred runs work.
type DeferMode int

const (
	// DeferInline runs work before QueueDeferred returns.
	DeferInline DeferMode = iota
	// DeferAsync runs work on a new goroutine.
	DeferAsync
	// DeferManual queues work until RunDeferred is called.
	DeferManual
	// DeferReject refuses all work.
	DeferReject
)

// ErrTimerUnavailable is returned by NewTimer when FailTimers is set.
var ErrTimerUnavailable = errors.New("memhost: timer unavailable")

// Indication is one IndicateReceive call.
type Indication struct {
	Lists []*nbl.NetBufferList
	Port  core.PortNumber
	Count int
	Flags core.ReceiveFlags
}

// Send is one SendNetBufferLists call.
type Send struct {
	Lists []*nbl.NetBufferList
	Port  core.PortNumber
	Flags core.SendFlags
}

// OidCompletion is one completion of a request that came from above.
type OidCompletion struct {
	Request *core.OidRequest
	Status  core.Status
}

// Config configures a Host.
type Config struct {
	Handle        core.Handle
	NumProcessors int
	Medium        core.Medium
	Address       net.HardwareAddr
	DeferMode     DeferMode
	AutoComplete  bool // complete sends back into the module as soon as they arrive
	FailTimers    bool
	FailClones    bool
}

// Host is an in-memory host.Framework.
type Host struct {
	cfg Config

	current atomic.Int32
	module  atomic.Pointer[moduleRef]

	// OidHandler answers requests the engine sends down. Nil completes
	// every request synchronously with StatusSuccess.
	OidHandler func(req *core.OidRequest) core.Status

	mu             sync.Mutex
	indications    []Indication
	returned       []*nbl.NetBufferList
	sends          []Send
	sendCompletes  []*nbl.NetBufferList
	oidRequests    []*core.OidRequest
	oidCompletions []OidCompletion
	cancels        []core.RequestID
	statuses       []*core.StatusIndication
	pnpEvents      []*core.DevicePnPEvent
	deferredCPUs   []int
	manual         []func()
	timers         []*Timer
	clones         int

	async sync.WaitGroup
}

type moduleRef struct{ m host.Module }

var _ host.Framework = (*Host)(nil)

// New creates a Host.
func New(cfg Config) *Host {
	if cfg.NumProcessors <= 0 {
		cfg.NumProcessors = 1
	}
	if cfg.Handle == 0 {
		cfg.Handle = 1
	}
	return &Host{cfg: cfg}
}

// Handle returns the attachment handle this host hands to the engine.
func (h *Host) Handle() core.Handle { return h.cfg.Handle }

// AttachParameters describes the simulated adapter.
func (h *Host) AttachParameters() *core.AttachParameters {
	return &core.AttachParameters{
		Medium:         h.cfg.Medium,
		CurrentAddress: h.cfg.Address,
		IfIndex:        1,
		MiniportName:   "memhost",
		FriendlyName:   "in-memory adapter",
	}
}

// Bind routes completions to m.
func (h *Host) Bind(m host.Module) {
	h.module.Store(&moduleRef{m: m})
}

func (h *Host) bound() host.Module {
	if ref := h.module.Load(); ref != nil {
		return ref.m
	}
	return nil
}

// SetCurrentProcessor sets what CurrentProcessor reports.
func (h *Host) SetCurrentProcessor(cpu int) {
	h.current.Store(int32(cpu))
}

// SetDeferMode changes how deferred work runs.
func (h *Host) SetDeferMode(mode DeferMode) {
	h.mu.Lock()
	h.cfg.DeferMode = mode
	h.mu.Unlock()
}

// ---- DataPath ----

func (h *Host) IndicateReceive(_ core.Handle, chain *nbl.NetBufferList, port core.PortNumber, count int, flags core.ReceiveFlags) {
	h.mu.Lock()
	h.indications = append(h.indications, Indication{
		Lists: nbl.Slice(chain),
		Port:  port,
		Count: count,
		Flags: flags,
	})
	h.mu.Unlock()
}

func (h *Host) ReturnNetBufferLists(_ core.Handle, chain *nbl.NetBufferList, _ core.ReturnFlags) {
	h.mu.Lock()
	h.returned = append(h.returned, nbl.Slice(chain)...)
	h.mu.Unlock()
}

func (h *Host) SendNetBufferLists(_ core.Handle, chain *nbl.NetBufferList, port core.PortNumber, flags core.SendFlags) {
	h.mu.Lock()
	h.sends = append(h.sends, Send{Lists: nbl.Slice(chain), Port: port, Flags: flags})
	auto := h.cfg.AutoComplete
	h.mu.Unlock()

	if auto {
		if m := h.bound(); m != nil {
			for l := chain; l != nil; l = l.Next {
				l.Status = core.StatusSuccess
			}
			m.SendNetBufferListsComplete(chain, 0)
		}
	}
}

func (h *Host) SendNetBufferListsComplete(_ core.Handle, chain *nbl.NetBufferList, _ core.SendCompleteFlags) {
	h.mu.Lock()
	h.sendCompletes = append(h.sendCompletes, nbl.Slice(chain)...)
	h.mu.Unlock()
}

// ---- ControlPath ----

func (h *Host) CloneOidRequest(_ core.Handle, req *core.OidRequest) (*core.OidRequest, error) {
	if h.cfg.FailClones {
		return nil, core.ErrResources
	}
	h.mu.Lock()
	h.clones++
	h.mu.Unlock()
	return req.Clone(), nil
}

func (h *Host) FreeCloneOidRequest(_ core.Handle, _ *core.OidRequest) {
	h.mu.Lock()
	h.clones--
	h.mu.Unlock()
}

func (h *Host) OidRequest(_ core.Handle, req *core.OidRequest) core.Status {
	h.mu.Lock()
	h.oidRequests = append(h.oidRequests, req)
	handler := h.OidHandler
	h.mu.Unlock()

	if handler == nil {
		return core.StatusSuccess
	}
	return handler(req)
}

func (h *Host) CancelOidRequest(_ core.Handle, id core.RequestID) {
	h.mu.Lock()
	h.cancels = append(h.cancels, id)
	h.mu.Unlock()
}

func (h *Host) OidRequestComplete(_ core.Handle, req *core.OidRequest, status core.Status) {
	h.mu.Lock()
	h.oidCompletions = append(h.oidCompletions, OidCompletion{Request: req, Status: status})
	h.mu.Unlock()
}

func (h *Host) IndicateStatus(_ core.Handle, ind *core.StatusIndication) {
	h.mu.Lock()
	h.statuses = append(h.statuses, ind)
	h.mu.Unlock()
}

func (h *Host) DevicePnPEventNotify(_ core.Handle, ev *core.DevicePnPEvent) {
	h.mu.Lock()
	h.pnpEvents = append(h.pnpEvents, ev)
	h.mu.Unlock()
}

// CompleteOid finishes a request the OidHandler left pending.
func (h *Host) CompleteOid(req *core.OidRequest, status core.Status) {
	if m := h.bound(); m != nil {
		m.OidRequestComplete(req, status)
	}
}

// ---- Services ----

func (h *Host) NumProcessors() int { return h.cfg.NumProcessors }

func (h *Host) CurrentProcessor() int { return int(h.current.Load()) }

func (h *Host) QueueDeferred(cpu int, fn func()) bool {
	h.mu.Lock()
	mode := h.cfg.DeferMode
	if mode == DeferReject {
		h.mu.Unlock()
		return false
	}
	h.deferredCPUs = append(h.deferredCPUs, cpu)
	if mode == DeferManual {
		h.manual = append(h.manual, fn)
		h.mu.Unlock()
		return true
	}
	if mode == DeferAsync {
		h.async.Add(1)
	}
	h.mu.Unlock()

	switch mode {
	case DeferAsync:
		go func() {
			defer h.async.Done()
			fn()
		}()
	default:
		fn()
	}
	return true
}

// RunDeferred runs all work queued in DeferManual mode and returns how many
// items ran.
func (h *Host) RunDeferred() int {
	h.mu.Lock()
	work := h.manual
	h.manual = nil
	h.mu.Unlock()

	for _, fn := range work {
		fn()
	}
	return len(work)
}

// WaitDeferred blocks until all DeferAsync work has finished.
func (h *Host) WaitDeferred() {
	h.async.Wait()
}

func (h *Host) NewTimer(_ core.Handle, fn func()) (host.Timer, error) {
	if h.cfg.FailTimers {
		return nil, ErrTimerUnavailable
	}
	t := &Timer{fn: fn}
	h.mu.Lock()
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	return t, nil
}

// ---- Recordings ----

// Indications returns a copy of every IndicateReceive call.
func (h *Host) Indications() []Indication {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Indication(nil), h.indications...)
}

// Returned returns every list handed back to the adapter.
func (h *Host) Returned() []*nbl.NetBufferList {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*nbl.NetBufferList(nil), h.returned...)
}

// Sends returns every SendNetBufferLists call.
func (h *Host) Sends() []Send {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Send(nil), h.sends...)
}

// SendCompletes returns every list completed upward.
func (h *Host) SendCompletes() []*nbl.NetBufferList {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*nbl.NetBufferList(nil), h.sendCompletes...)
}

// OidRequests returns every request sent down.
func (h *Host) OidRequests() []*core.OidRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*core.OidRequest(nil), h.oidRequests...)
}

// OidCompletions returns every completion delivered upward.
func (h *Host) OidCompletions() []OidCompletion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]OidCompletion(nil), h.oidCompletions...)
}

// Cancels returns every cancellation forwarded down.
func (h *Host) Cancels() []core.RequestID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.RequestID(nil), h.cancels...)
}

// Statuses returns every status indication forwarded up.
func (h *Host) Statuses() []*core.StatusIndication {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*core.StatusIndication(nil), h.statuses...)
}

// PnPEvents returns every device event forwarded down.
func (h *Host) PnPEvents() []*core.DevicePnPEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*core.DevicePnPEvent(nil), h.pnpEvents...)
}

// DeferredCPUs returns the target processor of every queued deferred item.
func (h *Host) DeferredCPUs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.deferredCPUs...)
}

// OutstandingClones is the number of clones not yet freed.
func (h *Host) OutstandingClones() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clones
}

// Timers returns every timer created.
func (h *Host) Timers() []*Timer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Timer(nil), h.timers...)
}

// Reset clears all recordings.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.indications = nil
	h.returned = nil
	h.sends = nil
	h.sendCompletes = nil
	h.oidRequests = nil
	h.oidCompletions = nil
	h.cancels = nil
	h.statuses = nil
	h.pnpEvents = nil
	h.deferredCPUs = nil
}

//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host"
	"firestige.xyz/pausefilter/internal/metrics"
	"firestige.xyz/pausefilter/internal/nbl"
)

// Host is a host.Framework over one AF_PACKET socket.
//
// The socket is owned by the receive loop in Run: Close must not be called
// until Run has returned, since the ring is unmapped on close.
type Host struct {
	cfg Config
	log *slog.Logger

	tp     *afpacket.TPacket
	frames *framePool
	oids   *oidResponder
	sink   *pcapSink

	module atomic.Pointer[moduleRef]
	link   atomic.Pointer[linkInfo]

	workers       []*worker
	cpus          cpuMap
	workerCtx     context.Context
	stopWorkers   context.CancelFunc
	workerWG      sync.WaitGroup
	running       atomic.Bool
	runDone       chan struct{}
	closeOnce     sync.Once
	lastRingDrops uint

	rxFrames    prometheus.Counter
	txFrames    prometheus.Counter
	upFrames    prometheus.Counter
	rxErrors    prometheus.Counter
	txErrors    prometheus.Counter
	sinkErrors  prometheus.Counter
	ringDrops   prometheus.Counter
	rejects     prometheus.Counter
	latency     prometheus.Observer
	linkUpGauge prometheus.Gauge
}

type moduleRef struct{ m host.Module }

var _ host.Framework = (*Host)(nil)

// New opens the ring on cfg.Interface, installs the receive filter and
// starts one deferred worker per processor. Frames are not read until Run.
func New(cfg Config, log *slog.Logger) (*Host, error) {
	cfg.applyDefaults()
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: interface is required", core.ErrConfigInvalid)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "host", "interface", cfg.Interface)

	li, err := readLinkInfo(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", cfg.Interface, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(cfg.SnapLen),
		afpacket.OptBlockSize(cfg.BlockSize),
		afpacket.OptNumBlocks(cfg.NumBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	prog, err := assembleReceiveFilter(cfg.SnapLen, true)
	if err == nil {
		err = tp.SetBPF(prog)
	}
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("failed to set BPF: %w", err)
	}
	if err := tp.InitSocketStats(); err != nil {
		log.Warn("failed to init socket stats", "error", err)
	}

	h := &Host{
		cfg:     cfg,
		log:     log,
		tp:      tp,
		frames:  newFramePool(cfg.SnapLen),
		oids:    newOidResponder(),
		runDone: make(chan struct{}),

		rxFrames:    metrics.HostFramesTotal.WithLabelValues(cfg.Interface, metrics.DirectionRx),
		txFrames:    metrics.HostFramesTotal.WithLabelValues(cfg.Interface, metrics.DirectionTx),
		upFrames:    metrics.HostFramesTotal.WithLabelValues(cfg.Interface, metrics.DirectionUp),
		rxErrors:    metrics.HostErrorsTotal.WithLabelValues(cfg.Interface, "read"),
		txErrors:    metrics.HostErrorsTotal.WithLabelValues(cfg.Interface, "write"),
		sinkErrors:  metrics.HostErrorsTotal.WithLabelValues(cfg.Interface, "sink"),
		ringDrops:   metrics.HostErrorsTotal.WithLabelValues(cfg.Interface, "ring_drop"),
		rejects:     metrics.DeferredRejectsTotal.WithLabelValues(cfg.Interface),
		latency:     metrics.DeferredLatencySeconds.WithLabelValues(cfg.Interface),
		linkUpGauge: metrics.HostLinkUp.WithLabelValues(cfg.Interface),
	}
	h.link.Store(&li)
	h.linkUpGauge.Set(boolGauge(li.Up))

	if cfg.PcapPath != "" {
		sink, err := openPcapSink(cfg.PcapPath, cfg.SnapLen)
		if err != nil {
			tp.Close()
			return nil, err
		}
		h.sink = sink
	}

	h.startWorkers()

	log.Info("afpacket host opened",
		"address", li.Address.String(),
		"mtu", li.MTU,
		"link_up", li.Up,
		"speed_mbps", li.SpeedMbps,
		"workers", len(h.workers),
		"pcap", cfg.PcapPath)
	return h, nil
}

// Handle returns the attachment handle this host hands to the engine.
func (h *Host) Handle() core.Handle { return h.cfg.Handle }

// AttachParameters describes the bound interface.
func (h *Host) AttachParameters() *core.AttachParameters {
	li := h.link.Load()
	return &core.AttachParameters{
		Medium:         core.Medium802_3,
		CurrentAddress: li.Address,
		IfIndex:        li.Index,
		MiniportName:   h.cfg.Interface,
		FriendlyName:   "afpacket " + h.cfg.Interface,
	}
}

// Bind routes adapter events to m.
func (h *Host) Bind(m host.Module) {
	h.module.Store(&moduleRef{m: m})
}

func (h *Host) bound() host.Module {
	if ref := h.module.Load(); ref != nil {
		return ref.m
	}
	return nil
}

// LinkUp reports the link state seen by the last poll.
func (h *Host) LinkUp() bool {
	return h.link.Load().Up
}

// Run reads the ring and polls the link until ctx is cancelled. The current
// link state is indicated to the bound module before the first frame.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("afpacket host already running")
	}
	defer close(h.runDone)

	h.indicateLink(*h.link.Load())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pollLink(ctx)
	}()
	defer wg.Wait()

	return h.receiveLoop(ctx)
}

func (h *Host) receiveLoop(ctx context.Context) error {
	if h.cfg.RxCPU >= 0 {
		if err := pinToCPU(h.cfg.RxCPU); err != nil {
			h.log.Warn("failed to pin receive loop", "cpu", h.cfg.RxCPU, "error", err)
		}
		defer runtime.UnlockOSThread()
	}

	h.log.Info("afpacket receive started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("afpacket receive stopped")
			return nil
		default:
		}

		data, ci, err := h.tp.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				h.log.Info("afpacket receive stopped")
				return nil
			}
			if !errors.Is(err, afpacket.ErrTimeout) {
				h.rxErrors.Inc()
				h.log.Debug("ring read failed", "error", err)
			}
			continue
		}
		h.rxFrames.Inc()

		m := h.bound()
		if m == nil {
			continue
		}
		m.ReceiveNetBufferLists(h.frames.wrap(data, ci.Timestamp), 0, 1, core.ReceiveFlagDispatchLevel)
	}
}

func (h *Host) pollLink(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.LinkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.updateRingDrops()

		li, err := readLinkInfo(h.cfg.Interface)
		if err != nil {
			h.log.Warn("link poll failed", "error", err)
			continue
		}
		prev := h.link.Swap(&li)
		if prev.Up != li.Up || prev.SpeedMbps != li.SpeedMbps {
			h.indicateLink(li)
		}
	}
}

func (h *Host) indicateLink(li linkInfo) {
	h.linkUpGauge.Set(boolGauge(li.Up))
	h.log.Info("link state", "up", li.Up, "speed_mbps", li.SpeedMbps)

	if m := h.bound(); m != nil {
		m.Status(&core.StatusIndication{
			Source:     h.cfg.Handle,
			StatusCode: core.StatusLinkState,
			Payload:    li.state(),
		})
	}
}

func (h *Host) updateRingDrops() {
	stats, _, err := h.tp.SocketStats()
	if err != nil {
		return
	}
	if drops := stats.Drops(); drops > h.lastRingDrops {
		h.ringDrops.Add(float64(drops - h.lastRingDrops))
		h.lastRingDrops = drops
	}
}

// Close stops the deferred workers and releases the ring and the sink. It
// waits for Run to return if Run was started.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.running.Load() {
			<-h.runDone
		}
		h.stopWorkers()
		h.workerWG.Wait()
		h.tp.Close()
		if h.sink != nil {
			err = h.sink.Close()
		}
		h.log.Info("afpacket host closed")
	})
	return err
}

// ---- DataPath ----

// IndicateReceive delivers frames to the sink above the filter. Lists that
// may be pended are handed straight back through the module.
func (h *Host) IndicateReceive(_ core.Handle, chain *nbl.NetBufferList, _ core.PortNumber, count int, flags core.ReceiveFlags) {
	if h.sink != nil {
		if err := h.sink.write(chain, time.Now()); err != nil {
			h.sinkErrors.Inc()
			h.log.Debug("pcap write failed", "error", err)
		}
	}
	h.upFrames.Add(float64(count))

	if !flags.CanPend() {
		return
	}
	if m := h.bound(); m != nil {
		m.ReturnNetBufferLists(chain, returnFlags(flags))
	}
}

// ReturnNetBufferLists recycles the receive buffers of lists this host
// indicated.
func (h *Host) ReturnNetBufferLists(_ core.Handle, chain *nbl.NetBufferList, _ core.ReturnFlags) {
	h.frames.recycle(chain)
}

// SendNetBufferLists writes every buffer of the chain to the socket as one
// frame and completes the chain before returning.
func (h *Host) SendNetBufferLists(_ core.Handle, chain *nbl.NetBufferList, _ core.PortNumber, flags core.SendFlags) {
	for l := chain; l != nil; l = l.Next {
		l.Status = core.StatusSuccess
		for nb := l.First; nb != nil; nb = nb.Next {
			if err := h.tp.WritePacketData(nb.Bytes()); err != nil {
				h.txErrors.Inc()
				h.log.Debug("socket write failed", "error", err)
				l.Status = core.StatusFailure
				break
			}
			h.txFrames.Inc()
		}
	}

	if m := h.bound(); m != nil {
		var cf core.SendCompleteFlags
		if flags&core.SendFlagDispatchLevel != 0 {
			cf = core.SendCompleteFlagDispatchLevel
		}
		m.SendNetBufferListsComplete(chain, cf)
	}
}

// SendNetBufferListsComplete receives completions of sends issued from
// above. Nothing above this host sends, so the chain is only counted.
func (h *Host) SendNetBufferListsComplete(_ core.Handle, chain *nbl.NetBufferList, _ core.SendCompleteFlags) {
	h.log.Debug("unexpected upper send completion", "lists", nbl.Count(chain))
}

// ---- ControlPath ----

func (h *Host) CloneOidRequest(_ core.Handle, req *core.OidRequest) (*core.OidRequest, error) {
	return req.Clone(), nil
}

func (h *Host) FreeCloneOidRequest(core.Handle, *core.OidRequest) {}

// OidRequest answers from the interface state. It never pends.
func (h *Host) OidRequest(_ core.Handle, req *core.OidRequest) core.Status {
	status := h.oids.answer(*h.link.Load(), req)
	h.log.Debug("oid request", "type", req.Type.String(), "oid", req.Oid.String(), "status", status.String())
	return status
}

func (h *Host) CancelOidRequest(_ core.Handle, id core.RequestID) {
	h.log.Debug("oid cancel for a request that never pends", "request_id", uint64(id))
}

func (h *Host) OidRequestComplete(_ core.Handle, req *core.OidRequest, status core.Status) {
	h.log.Debug("oid request completed upward", "oid", req.Oid.String(), "status", status.String())
}

func (h *Host) IndicateStatus(_ core.Handle, ind *core.StatusIndication) {
	h.log.Debug("status indicated", "status", ind.StatusCode.String())
}

func (h *Host) DevicePnPEventNotify(_ core.Handle, ev *core.DevicePnPEvent) {
	h.log.Info("device event", "kind", ev.Kind.String())
}

// ---- Services ----

func (h *Host) NumProcessors() int { return len(h.workers) }

// CurrentProcessor maps the running CPU onto the worker numbering.
func (h *Host) CurrentProcessor() int { return h.cpus.processor(currentCPU()) }

// QueueDeferred hands fn to the worker pinned to cpu. It refuses the work
// when that worker's queue is full.
func (h *Host) QueueDeferred(cpu int, fn func()) bool {
	if cpu < 0 || cpu >= len(h.workers) || h.workerCtx.Err() != nil {
		h.rejects.Inc()
		return false
	}
	select {
	case h.workers[cpu].queue <- deferredWork{fn: fn, queued: time.Now()}:
		return true
	default:
		h.rejects.Inc()
		return false
	}
}

func (h *Host) NewTimer(_ core.Handle, fn func()) (host.Timer, error) {
	return newTimer(fn), nil
}

func returnFlags(f core.ReceiveFlags) core.ReturnFlags {
	if f&core.ReceiveFlagDispatchLevel != 0 {
		return core.ReturnFlagDispatchLevel
	}
	return 0
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

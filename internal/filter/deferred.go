package filter

import (
	"sync/atomic"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/nbl"
)

// slot is one deferred-indication work unit. A classifier owns it from a
// successful claim until the deferred run releases it.
type slot struct {
	index     int
	allocated atomic.Int32
	running   atomic.Bool

	cpu   int
	chain *nbl.NetBufferList
	count int
	port  core.PortNumber
	flags core.ReceiveFlags
}

func (s *slot) release() {
	s.chain = nil
	s.count = 0
	s.allocated.Add(-1)
}

// claimSlot scans the slots once, starting after the last one used, and
// returns the first it wins. A lost race is undone before moving on.
func (f *Filter) claimSlot() *slot {
	n := uint32(len(f.slots))
	start := f.lastSlot.Load()
	for i := uint32(1); i <= n; i++ {
		idx := (start + i) % n
		s := &f.slots[idx]
		if s.allocated.Add(1) == 1 {
			f.lastSlot.Store(idx)
			return s
		}
		s.allocated.Add(-1)
	}
	return nil
}

// nextProcessor rotates through processors, skipping the current one when
// there is another to choose.
func (f *Filter) nextProcessor() int {
	n := uint32(f.driver.numProcessors)
	current := uint32(f.fw.CurrentProcessor())
	next := (f.lastCPU.Load() + 1) % n
	if next == current && n > 1 {
		next = (next + 1) % n
	}
	f.lastCPU.Store(next)
	return int(next)
}

// dispatchDeferred queues chain for indication on another processor. When
// no slot is free or the queue refuses, the chain is indicated inline.
func (f *Filter) dispatchDeferred(chain *nbl.NetBufferList, count int, port core.PortNumber, flags core.ReceiveFlags) {
	s := f.claimSlot()
	if s == nil {
		f.indicateInline(chain, count, port, flags, "no free slot")
		return
	}

	s.cpu = f.nextProcessor()
	s.chain = chain
	s.count = count
	s.port = port
	s.flags = flags | core.ReceiveFlagDispatchLevel

	if !f.fw.QueueDeferred(s.cpu, func() { f.runSlot(s) }) {
		s.release()
		f.indicateInline(chain, count, port, flags, "queue rejected")
	}
}

// runSlot is the deferred half of dispatchDeferred.
func (f *Filter) runSlot(s *slot) {
	if !s.running.CompareAndSwap(false, true) {
		f.driver.violation(f.log, "deferred indicate", nil, "slot", s.index, "reason", "slot already running")
	}
	chain, count, port, flags := s.chain, s.count, s.port, s.flags

	f.deferred.Add(1)
	f.indicate(chain, port, count, flags)

	s.running.Store(false)
	s.release()
}

func (f *Filter) indicateInline(chain *nbl.NetBufferList, count int, port core.PortNumber, flags core.ReceiveFlags, reason string) {
	f.slotExhausted.Add(1)
	if f.fallbackLog.Allow() {
		f.log.Warn("deferred slot unavailable, indicating inline",
			"reason", reason,
			"lists", count,
			"total", f.slotExhausted.Load(),
		)
	}
	f.indicate(chain, port, count, flags)
}

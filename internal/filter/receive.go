package filter

import (
	"context"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/nbl"
)

// ReceiveNetBufferLists classifies an inbound chain. Lists whose buffers
// all exceed the drop length are diverted to a deferred indication on
// another processor; the rest are indicated at once. Elevated.
//
// The two sub-chains keep their internal order, but the diverted one may
// reach the upper layer after lists from later receives.
func (f *Filter) ReceiveNetBufferLists(chain *nbl.NetBufferList, port core.PortNumber, count int, flags core.ReceiveFlags) {
	f.indications.Add(1)

	if f.State() != StateRunning {
		// The adapter should not indicate while paused. Hand pendable
		// lists straight back; the rest stay with the caller.
		if flags.CanPend() {
			f.fw.ReturnNetBufferLists(f.handle, chain, returnFlags(flags))
		}
		return
	}

	if f.params.TrackReceives {
		f.outstandingRcvs.Add(int64(count))
	}

	threshold := f.params.DropLength
	if !flags.CanPend() || threshold == 0 {
		f.indicate(chain, port, count, flags)
		return
	}

	// Every buffer over the threshold counts as dropped, including those in
	// lists that are passed up because another buffer is short.
	var oversize uint64
	drop, pass := nbl.Partition(chain, func(l *nbl.NetBufferList) bool {
		for nb := l.First; nb != nil; nb = nb.Next {
			if nb.DataLength() > threshold {
				oversize++
			}
		}
		return l.AllBuffers(func(nb *nbl.NetBuffer) bool {
			return nb.DataLength() > threshold
		})
	})
	f.dropped.Add(oversize)

	if pass.Len() > 0 {
		f.indicate(pass.Head(), port, pass.Len(), flags)
	}
	if drop.Len() > 0 {
		f.log.Log(context.Background(), LevelTrace, "diverting lists", "lists", drop.Len(), "oversize_buffers", oversize)
		f.dispatchDeferred(drop.Head(), drop.Len(), port, flags)
	}
}

// indicate passes a chain up and settles receive tracking for lists the
// caller reclaims on return.
func (f *Filter) indicate(chain *nbl.NetBufferList, port core.PortNumber, count int, flags core.ReceiveFlags) {
	f.fw.IndicateReceive(f.handle, chain, port, count, flags)
	if f.params.TrackReceives && !flags.CanPend() {
		f.outstandingRcvs.Add(-int64(count))
	}
}

// ReturnNetBufferLists hands lists the upper layer is done with back to
// the adapter. Elevated.
func (f *Filter) ReturnNetBufferLists(chain *nbl.NetBufferList, flags core.ReturnFlags) {
	if f.params.TrackReceives {
		f.outstandingRcvs.Add(-int64(nbl.Count(chain)))
	}
	f.fw.ReturnNetBufferLists(f.handle, chain, flags)
}

func returnFlags(flags core.ReceiveFlags) core.ReturnFlags {
	if flags&core.ReceiveFlagDispatchLevel != 0 {
		return core.ReturnFlagDispatchLevel
	}
	return 0
}

package filter

import (
	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/nbl"
)

// SendNetBufferLists forwards an outbound chain. While not Running every
// list is completed at once with StatusPaused. Elevated.
func (f *Filter) SendNetBufferLists(chain *nbl.NetBufferList, port core.PortNumber, flags core.SendFlags) {
	if f.State() != StateRunning {
		for l := chain; l != nil; l = l.Next {
			l.Status = core.StatusPaused
		}
		f.fw.SendNetBufferListsComplete(f.handle, chain, sendCompleteFlags(flags))
		return
	}

	if f.params.TrackSends {
		f.outstandingSends.Add(int64(nbl.Count(chain)))
	}
	f.fw.SendNetBufferLists(f.handle, chain, port, flags)
}

// SendNetBufferListsComplete strips the pause frames this engine sent and
// completes the remainder upward. Elevated.
func (f *Filter) SendNetBufferListsComplete(chain *nbl.NetBufferList, flags core.SendCompleteFlags) {
	pool := f.driver.pool
	own, rest := nbl.Partition(chain, pool.Owns)

	for l := own.Head(); l != nil; {
		next := l.Next
		if l.Status.IsError() {
			f.log.Debug("pause frame send failed", "status", l.Status.String())
		}
		l.AdvanceDataStart(PauseFrameLen)
		_ = pool.Free(l)
		l = next
	}

	if rest.Len() == 0 {
		return
	}
	if f.params.TrackSends {
		f.outstandingSends.Add(-int64(rest.Len()))
	}
	f.fw.SendNetBufferListsComplete(f.handle, rest.Head(), flags)
}

func sendCompleteFlags(flags core.SendFlags) core.SendCompleteFlags {
	if flags&core.SendFlagDispatchLevel != 0 {
		return core.SendCompleteFlagDispatchLevel
	}
	return 0
}

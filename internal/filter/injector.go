package filter

import (
	"time"

	"firestige.xyz/pausefilter/internal/core"
)

const (
	// tickReportInterval is how many ticks pass between progress reports.
	tickReportInterval = 1024
	// slowTimerPeriod is the period at which the stall heuristic runs.
	slowTimerPeriod = 5 * time.Second
	// stallLimit is how many stalled ticks clear the drop counters.
	stallLimit = 3
)

// tick is the timer callback: send one pause frame, then update the drop
// heuristics.
func (f *Filter) tick() {
	f.inflightTicks.Add(1)
	defer f.inflightTicks.Add(-1)

	if f.State() != StateRunning {
		return
	}

	f.sendPauseFrame()

	n := f.ticks.Add(1)
	if n%tickReportInterval == 0 {
		f.log.Debug("another 1024 ticks", "ticks", n, "dropped", f.dropped.Load())
		return
	}
	if f.params.TimerPeriod >= slowTimerPeriod {
		f.trackStall()
	}
}

// trackStall clears the drop counters once they have been nonzero and
// unchanged for stallLimit ticks.
func (f *Filter) trackStall() {
	dropped := f.dropped.Load()
	f.log.Debug("tick", "dropped", dropped)

	if dropped != f.lastDropped.Load() {
		f.lastDropped.Store(dropped)
		f.stall.Store(0)
		return
	}
	if dropped == 0 {
		return
	}
	if f.stall.Add(1) >= stallLimit {
		f.dropped.Store(0)
		f.lastDropped.Store(0)
		f.stall.Store(0)
		f.log.Debug("drop counters cleared", "indications", f.indications.Load())
	}
}

// sendPauseFrame transmits one pause frame from the scratch pool. Any
// allocation failure skips the frame.
func (f *Filter) sendPauseFrame() {
	pool := f.driver.pool

	l, err := pool.Allocate()
	if err != nil {
		f.skipPauseFrame(err)
		return
	}
	if err := l.RetreatDataStart(PauseFrameLen); err != nil {
		_ = pool.Free(l)
		f.skipPauseFrame(err)
		return
	}

	var region []byte
	for nb := l.First; nb != nil; nb = nb.Next {
		if nb.DataLength() == PauseFrameLen {
			region = nb.Bytes()
			break
		}
	}
	if region == nil {
		l.AdvanceDataStart(PauseFrameLen)
		_ = pool.Free(l)
		f.pauseSkipped.Add(1)
		return
	}

	f.payload.Put(region)
	l.SourceHandle = f.handle
	l.Status = core.StatusSuccess
	f.pauseSent.Add(1)
	f.fw.SendNetBufferLists(f.handle, l, 0, core.SendFlagDispatchLevel)
}

func (f *Filter) skipPauseFrame(err error) {
	skipped := f.pauseSkipped.Add(1)
	if f.skipLog.Allow() {
		f.log.Warn("pause frame skipped", "error", err, "total", skipped)
	}
}

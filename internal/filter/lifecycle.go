package filter

import (
	"time"

	"firestige.xyz/pausefilter/internal/core"
)

// restartLookahead is the lookahead size negotiated on every restart.
const restartLookahead = 128

// Pause stops the data path. Legal only from Running; always ends Paused.
func (f *Filter) Pause() error {
	f.mu.Lock()
	if s := f.State(); s != StateRunning {
		f.mu.Unlock()
		return f.driver.violation(f.log, "pause", core.ErrInvalidState, "state", s.String())
	}
	f.setStateLocked(StatePausing)
	// Nothing is held across callbacks, so there is nothing to drain.
	f.setStateLocked(StatePaused)
	f.updateTimerLocked()
	f.mu.Unlock()

	f.log.Info("filter paused")
	return nil
}

// Restart resumes the data path. Legal only from Paused; ends Running.
func (f *Filter) Restart(params *core.RestartParameters) error {
	f.mu.Lock()
	if s := f.State(); s != StatePaused {
		f.mu.Unlock()
		return f.driver.violation(f.log, "restart", core.ErrInvalidState, "state", s.String())
	}
	if params != nil && params.Attributes != nil {
		params.Attributes.LookaheadSize = restartLookahead
		f.lookahead = restartLookahead
	}
	f.setStateLocked(StateRunning)
	f.updateTimerLocked()
	armed := f.timerArmed
	f.mu.Unlock()

	f.log.Info("filter restarted", "timer_armed", armed)
	return nil
}

// Detach tears the attachment down. Legal only from Paused.
func (f *Filter) Detach() error {
	f.mu.Lock()
	if s := f.State(); s != StatePaused {
		f.mu.Unlock()
		return f.driver.violation(f.log, "detach", core.ErrInvalidState, "state", s.String())
	}
	pending := f.pendingOid
	f.setStateLocked(StateDetached)
	f.timerArmed = false
	f.mu.Unlock()

	f.driver.registry.Remove(f.handle)
	f.stopTimer()

	if pending != nil {
		f.driver.violation(f.log, "detach", nil, "reason", "control request outstanding",
			"oid", pending.Oid.String())
	}

	f.log.Info("filter detached",
		"indications", f.indications.Load(),
		"pause_frames", f.pauseSent.Load(),
	)
	return nil
}

// updateTimerLocked arms the pause-frame timer exactly when the filter is
// Running, the link is up and a period is configured.
func (f *Filter) updateTimerLocked() {
	period := f.params.TimerPeriod
	arm := period > 0 && f.linkUp && f.State() == StateRunning
	if arm {
		f.timer.Set(period, period)
	} else {
		f.timer.Cancel()
	}
	f.timerArmed = arm
}

// stopTimer cancels the timer, gives a running tick the grace period to
// finish, cancels again and frees it.
func (f *Filter) stopTimer() {
	f.timer.Cancel()

	deadline := time.Now().Add(f.params.DetachGrace)
	for f.inflightTicks.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := f.inflightTicks.Load(); n > 0 {
		f.log.Warn("timer tick still running after grace period", "grace", f.params.DetachGrace)
	}

	f.timer.Cancel()
	f.timer.Free()
}

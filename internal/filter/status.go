package filter

import (
	"firestige.xyz/pausefilter/internal/core"
)

// Status tracks link state from adapter indications and forwards every
// indication up. Elevated.
func (f *Filter) Status(ind *core.StatusIndication) {
	if ind == nil {
		return
	}

	f.mu.Lock()
	f.indicating++
	nested := f.indicating > 1
	if up, ok := linkStateOf(ind); ok && up != f.linkUp {
		f.linkUp = up
		f.updateTimerLocked()
		f.log.Info("link state changed", "up", up, "timer_armed", f.timerArmed)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.indicating--
		f.mu.Unlock()
	}()

	if nested {
		f.driver.violation(f.log, "status", nil, "reason", "nested status indication",
			"status", ind.StatusCode.String())
	}
	f.fw.IndicateStatus(f.handle, ind)
}

// linkStateOf extracts the link state an indication carries, if any.
func linkStateOf(ind *core.StatusIndication) (up bool, ok bool) {
	switch ind.StatusCode {
	case core.StatusLinkState:
		switch ls := ind.Payload.(type) {
		case core.LinkState:
			return ls.MediaConnectState == core.MediaConnectStateConnected, true
		case *core.LinkState:
			if ls != nil {
				return ls.MediaConnectState == core.MediaConnectStateConnected, true
			}
		}
	case core.StatusMediaConnect:
		return true, true
	case core.StatusMediaDisconnect:
		return false, true
	}
	return false, false
}

// DevicePnPEventNotify forwards a device event down.
func (f *Filter) DevicePnPEventNotify(ev *core.DevicePnPEvent) {
	if ev == nil || !ev.Kind.Valid() {
		f.driver.violation(f.log, "device event", core.ErrInvalidRequest, "reason", "malformed device event")
		if ev == nil {
			return
		}
	}
	f.log.Debug("device event", "kind", ev.Kind.String())
	f.fw.DevicePnPEventNotify(f.handle, ev)
}

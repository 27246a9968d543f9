package filter

import (
	"firestige.xyz/pausefilter/internal/core"
)

// OidRequest forwards a control request from above through a clone. At most
// one forwarded request is outstanding per filter. The original is always
// completed through OidRequestComplete, so a successful forward reports
// StatusPending.
func (f *Filter) OidRequest(req *core.OidRequest) core.Status {
	clone, err := f.fw.CloneOidRequest(f.handle, req)
	if err != nil {
		f.log.Warn("failed to clone control request", "oid", req.Oid.String(), "error", err)
		req.ResetResults()
		return core.StatusResources
	}
	clone.SourceReserved = req
	clone.RequestID = req.RequestID

	f.mu.Lock()
	if f.pendingOid != nil {
		busy := f.pendingOid
		f.mu.Unlock()
		f.fw.FreeCloneOidRequest(f.handle, clone)
		req.ResetResults()
		f.driver.violation(f.log, "control request", core.ErrRequestBusy,
			"oid", req.Oid.String(), "outstanding", busy.Oid.String())
		return core.StatusInvalidDeviceRequest
	}
	f.pendingOid = clone
	f.mu.Unlock()

	f.oidForwarded.Add(1)
	f.log.Debug("forwarding control request",
		"type", req.Type.String(), "oid", req.Oid.String(), "request_id", uint64(req.RequestID))

	if status := f.fw.OidRequest(f.handle, clone); status != core.StatusPending {
		f.OidRequestComplete(clone, status)
	}
	return core.StatusPending
}

// OidRequestComplete finishes a request sent down by this filter: either a
// forwarded clone or an internal request.
func (f *Filter) OidRequestComplete(req *core.OidRequest, status core.Status) {
	orig, ok := req.SourceReserved.(*core.OidRequest)
	if !ok {
		f.completeInternal(req, status)
		return
	}

	f.mu.Lock()
	if f.pendingOid != req {
		f.mu.Unlock()
		f.driver.violation(f.log, "control request complete", nil,
			"oid", req.Oid.String(), "reason", "completion does not match the outstanding request")
	} else {
		f.pendingOid = nil
		f.mu.Unlock()
	}

	orig.CopyResultsFrom(req)
	req.SourceReserved = nil
	f.fw.FreeCloneOidRequest(f.handle, req)

	f.oidCompleted.Add(1)
	f.log.Debug("control request complete", "oid", orig.Oid.String(), "status", status.String())
	f.fw.OidRequestComplete(f.handle, orig, status)
}

// CancelOidRequest forwards a cancellation when id names the outstanding
// request. Any other id is ignored.
func (f *Filter) CancelOidRequest(id core.RequestID) {
	f.mu.Lock()
	match := false
	if f.pendingOid != nil {
		if orig, ok := f.pendingOid.SourceReserved.(*core.OidRequest); ok && orig.RequestID == id {
			match = true
		}
	}
	f.mu.Unlock()

	if !match {
		return
	}
	f.log.Debug("cancelling control request", "request_id", uint64(id))
	f.fw.CancelOidRequest(f.handle, id)
}

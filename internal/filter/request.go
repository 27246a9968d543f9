package filter

import (
	"context"
	"fmt"

	"firestige.xyz/pausefilter/internal/core"
)

// internalRequestIDBase keeps internal request ids out of the range used by
// the layers above.
const internalRequestIDBase uint64 = 1 << 63

// submitInternal sends req down and returns the future its completion
// resolves.
func (f *Filter) submitInternal(req *core.OidRequest) *Future {
	fut := newFuture()
	f.internalReq.Store(req, fut)

	if status := f.fw.OidRequest(f.handle, req); status != core.StatusPending {
		f.completeInternal(req, status)
	}
	return fut
}

// completeInternal resolves the future of an internal request.
func (f *Filter) completeInternal(req *core.OidRequest, status core.Status) {
	v, ok := f.internalReq.LoadAndDelete(req)
	if !ok {
		f.driver.violation(f.log, "control request complete", nil,
			"oid", req.Oid.String(), "reason", "completion for an unknown request")
		return
	}
	v.(*Future).Resolve(status)
}

// doInternalRequest issues a request of its own and waits for it. On
// success it returns the byte count for the request type, truncated to the
// caller's buffer.
func (f *Filter) doInternalRequest(ctx context.Context, typ core.RequestType, oid core.Oid, buf []byte, outLen uint32, methodID uint32) (uint32, error) {
	req := &core.OidRequest{
		Type:              typ,
		Oid:               oid,
		RequestID:         core.RequestID(f.nextReqID.Add(1)),
		InformationBuffer: buf,
		MethodID:          methodID,
	}
	if typ == core.RequestMethod {
		req.InputBufferLength = uint32(len(buf))
		req.OutputBufferLength = outLen
	}

	fut := f.submitInternal(req)
	status, err := fut.Wait(ctx)
	if err != nil {
		f.log.Warn("internal control request abandoned", "oid", oid.String(), "error", err)
		f.fw.CancelOidRequest(f.handle, req.RequestID)
		return 0, fmt.Errorf("%s %s: %w", typ, oid, err)
	}
	if status != core.StatusSuccess {
		return 0, fmt.Errorf("%s %s: %w", typ, oid, status.Err())
	}

	n := req.BytesWritten
	if typ == core.RequestSetInformation {
		n = req.BytesRead
	}
	limit := uint32(len(buf))
	if typ == core.RequestMethod {
		limit = outLen
	}
	return min(n, limit), nil
}

// QueryInformation reads an adapter attribute into buf and returns the
// number of bytes written. It blocks, so it must not be called from an
// elevated callback.
func (f *Filter) QueryInformation(ctx context.Context, oid core.Oid, buf []byte) (uint32, error) {
	return f.doInternalRequest(ctx, core.RequestQueryInformation, oid, buf, 0, 0)
}

// SetInformation writes buf to an adapter attribute and returns the number
// of bytes read. It blocks, so it must not be called from an elevated
// callback.
func (f *Filter) SetInformation(ctx context.Context, oid core.Oid, buf []byte) (uint32, error) {
	return f.doInternalRequest(ctx, core.RequestSetInformation, oid, buf, 0, 0)
}

// InvokeMethod runs a method request. buf carries the input and receives up
// to outLen bytes of output. It blocks, so it must not be called from an
// elevated callback.
func (f *Filter) InvokeMethod(ctx context.Context, oid core.Oid, methodID uint32, buf []byte, outLen uint32) (uint32, error) {
	return f.doInternalRequest(ctx, core.RequestMethod, oid, buf, outLen, methodID)
}

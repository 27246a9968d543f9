package filter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host/memhost"
)

func TestOidForwardCompletesInline(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		copy(req.InformationBuffer, []byte{0xDE, 0xAD, 0xBE, 0xEF})
		req.BytesWritten = 4
		return core.StatusSuccess
	}

	req := &core.OidRequest{
		Type:              core.RequestQueryInformation,
		Oid:               core.OidGenLinkSpeed,
		RequestID:         42,
		InformationBuffer: make([]byte, 8),
	}
	assert.Equal(t, core.StatusPending, e.filter.OidRequest(req))

	sent := e.host.OidRequests()
	require.Len(t, sent, 1)
	assert.NotSame(t, req, sent[0])
	assert.Equal(t, core.RequestID(42), sent[0].RequestID)
	assert.Nil(t, sent[0].SourceReserved)

	done := e.host.OidCompletions()
	require.Len(t, done, 1)
	assert.Same(t, req, done[0].Request)
	assert.Equal(t, core.StatusSuccess, done[0].Status)
	assert.Equal(t, uint32(4), req.BytesWritten)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, req.InformationBuffer[:4])

	assert.Equal(t, 0, e.host.OutstandingClones())
	assert.False(t, e.filter.Stats().PendingOid)
	assert.Equal(t, uint64(1), e.filter.Stats().OidCompleted)
}

func TestOidForwardPending(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	var pending *core.OidRequest
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		pending = req
		return core.StatusPending
	}

	req := &core.OidRequest{Type: core.RequestSetInformation, Oid: core.OidGenCurrentPacketFilter, RequestID: 1, InformationBuffer: make([]byte, 4)}
	assert.Equal(t, core.StatusPending, e.filter.OidRequest(req))
	assert.True(t, e.filter.Stats().PendingOid)
	assert.Empty(t, e.host.OidCompletions())
	require.NotNil(t, pending)

	pending.BytesRead = 4
	pending.BytesNeeded = 0
	e.host.CompleteOid(pending, core.StatusSuccess)

	done := e.host.OidCompletions()
	require.Len(t, done, 1)
	assert.Same(t, req, done[0].Request)
	assert.Equal(t, uint32(4), req.BytesRead)
	assert.False(t, e.filter.Stats().PendingOid)
	assert.Equal(t, 0, e.host.OutstandingClones())
}

func TestOidSecondOutstandingRejected(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	var pending []*core.OidRequest
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		pending = append(pending, req)
		return core.StatusPending
	}

	first := &core.OidRequest{Oid: core.OidGenLinkSpeed, RequestID: 1}
	second := &core.OidRequest{Oid: core.OidGenMaximumFrameSize, RequestID: 2, BytesWritten: 9}

	assert.Equal(t, core.StatusPending, e.filter.OidRequest(first))
	assert.Equal(t, core.StatusInvalidDeviceRequest, e.filter.OidRequest(second))
	assert.Equal(t, uint64(1), e.driver.Violations())
	assert.Equal(t, uint32(0), second.BytesWritten)
	assert.Len(t, pending, 1)
	assert.Equal(t, 1, e.host.OutstandingClones())

	e.host.CompleteOid(pending[0], core.StatusSuccess)
	assert.Equal(t, core.StatusPending, e.filter.OidRequest(second))
	assert.Len(t, pending, 2)
}

func TestOidSequentialRequests(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	for i := 1; i <= 5; i++ {
		req := &core.OidRequest{Oid: core.OidGenStatistics, RequestID: core.RequestID(i)}
		assert.Equal(t, core.StatusPending, e.filter.OidRequest(req))
	}
	assert.Len(t, e.host.OidCompletions(), 5)
	assert.Equal(t, uint64(0), e.driver.Violations())
	assert.Equal(t, uint64(5), e.filter.Stats().OidForwarded)
}

func TestOidCloneFailure(t *testing.T) {
	e := newTestEnv(t, memhost.Config{FailClones: true}, testParams())

	req := &core.OidRequest{Type: core.RequestMethod, Oid: core.OidGenStatistics, BytesRead: 3, BytesWritten: 5, BytesNeeded: 7}
	assert.Equal(t, core.StatusResources, e.filter.OidRequest(req))

	assert.Zero(t, req.BytesRead)
	assert.Zero(t, req.BytesWritten)
	assert.Zero(t, req.BytesNeeded)
	assert.Empty(t, e.host.OidRequests())
	assert.Empty(t, e.host.OidCompletions())
}

func TestOidCancel(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	// Nothing outstanding.
	e.filter.CancelOidRequest(7)
	assert.Empty(t, e.host.Cancels())

	e.host.OidHandler = func(*core.OidRequest) core.Status { return core.StatusPending }
	require.Equal(t, core.StatusPending, e.filter.OidRequest(&core.OidRequest{Oid: core.OidGenLinkSpeed, RequestID: 7}))

	e.filter.CancelOidRequest(8)
	assert.Empty(t, e.host.Cancels())

	e.filter.CancelOidRequest(7)
	assert.Equal(t, []core.RequestID{7}, e.host.Cancels())

	// Cancellation does not complete the request.
	assert.True(t, e.filter.Stats().PendingOid)
	assert.Empty(t, e.host.OidCompletions())
}

func TestOidStrayCompletion(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	e.filter.OidRequestComplete(&core.OidRequest{Oid: core.OidGenLinkSpeed}, core.StatusSuccess)
	assert.Equal(t, uint64(1), e.driver.Violations())
	assert.Empty(t, e.host.OidCompletions())
}

func TestInternalRequestTruncation(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		switch req.Type {
		case core.RequestSetInformation:
			req.BytesRead = 64
		default:
			req.BytesWritten = 64
		}
		return core.StatusSuccess
	}
	ctx := context.Background()

	n, err := e.filter.QueryInformation(ctx, core.Oid802_3CurrentAddress, make([]byte, 6))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), n)

	n, err = e.filter.SetInformation(ctx, core.OidGenCurrentLookahead, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	n, err = e.filter.InvokeMethod(ctx, core.OidGenStatistics, 3, make([]byte, 32), 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), n)

	sent := e.host.OidRequests()
	require.Len(t, sent, 3)
	for _, req := range sent {
		assert.Nil(t, req.SourceReserved)
		assert.GreaterOrEqual(t, uint64(req.RequestID), internalRequestIDBase)
	}
	assert.Equal(t, uint32(3), sent[2].MethodID)
	assert.Equal(t, uint32(32), sent[2].InputBufferLength)
	assert.Equal(t, uint64(0), e.driver.Violations())
}

func TestInternalRequestShortResult(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		req.BytesWritten = 2
		return core.StatusSuccess
	}

	n, err := e.filter.QueryInformation(context.Background(), core.OidGenLinkSpeed, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)
}

func TestInternalRequestFailure(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.host.OidHandler = func(*core.OidRequest) core.Status { return core.StatusNotSupported }

	_, err := e.filter.QueryInformation(context.Background(), core.OidGenLinkSpeed, make([]byte, 8))
	assert.ErrorIs(t, err, core.ErrNotSupported)
	assert.Equal(t, core.StatusNotSupported, core.StatusOf(err))
}

func TestInternalRequestAsyncCompletion(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	var wg sync.WaitGroup
	e.host.OidHandler = func(req *core.OidRequest) core.Status {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			req.BytesWritten = 4
			e.host.CompleteOid(req, core.StatusSuccess)
		}()
		return core.StatusPending
	}

	n, err := e.filter.QueryInformation(context.Background(), core.OidGenMaximumFrameSize, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
	wg.Wait()

	// Internal requests never occupy the proxy slot.
	assert.False(t, e.filter.Stats().PendingOid)
	assert.Equal(t, uint64(0), e.driver.Violations())
}

func TestInternalRequestCancelled(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.host.OidHandler = func(*core.OidRequest) core.Status { return core.StatusPending }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := e.filter.QueryInformation(ctx, core.OidGenLinkSpeed, make([]byte, 8))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sent := e.host.OidRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, []core.RequestID{sent[0].RequestID}, e.host.Cancels())

	// A late completion still resolves cleanly.
	e.host.CompleteOid(sent[0], core.StatusRequestAborted)
	assert.Equal(t, uint64(0), e.driver.Violations())
}

func TestFuture(t *testing.T) {
	fut := newFuture()

	select {
	case <-fut.Done():
		t.Fatal("future resolved early")
	default:
	}

	assert.True(t, fut.Resolve(core.StatusSuccess))
	assert.False(t, fut.Resolve(core.StatusFailure))

	status, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err = newFuture().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.StatusRequestAborted, status)
}

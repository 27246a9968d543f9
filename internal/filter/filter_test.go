package filter

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host/memhost"
	"firestige.xyz/pausefilter/internal/nbl"
)

var testAddr = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

type testEnv struct {
	host   *memhost.Host
	driver *Driver
	filter *Filter
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() Params {
	p := DefaultParams()
	p.AllowedAddresses = []net.HardwareAddr{testAddr}
	p.TimerPeriod = 10 * time.Millisecond
	p.PauseValue = 0x1234
	p.DetachGrace = 5 * time.Millisecond
	return p
}

// newTestEnv attaches a filter to an in-memory host. The filter starts Paused.
func newTestEnv(t *testing.T, cfg memhost.Config, params Params, opts ...Option) *testEnv {
	t.Helper()
	if cfg.Address == nil {
		cfg.Address = testAddr
	}
	h := memhost.New(cfg)

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	d, err := NewDriver(h, params, opts...)
	require.NoError(t, err)

	f, err := d.Attach(h.Handle(), h.AttachParameters())
	require.NoError(t, err)
	h.Bind(f)

	return &testEnv{host: h, driver: d, filter: f}
}

// run restarts the filter and brings the link up.
func (e *testEnv) run(t *testing.T) {
	t.Helper()
	require.NoError(t, e.filter.Restart(nil))
	e.linkUp(true)
}

func (e *testEnv) linkUp(up bool) {
	state := core.MediaConnectStateDisconnected
	if up {
		state = core.MediaConnectStateConnected
	}
	e.filter.Status(&core.StatusIndication{
		StatusCode: core.StatusLinkState,
		Payload:    core.LinkState{MediaConnectState: state},
	})
}

func (e *testEnv) timer(t *testing.T) *memhost.Timer {
	t.Helper()
	timers := e.host.Timers()
	require.Len(t, timers, 1)
	return timers[0]
}

func frames(lengths ...int) []*nbl.NetBufferList {
	lists := make([]*nbl.NetBufferList, len(lengths))
	for i, n := range lengths {
		lists[i] = nbl.FromFrames(make([]byte, n))
	}
	return lists
}

func TestAttach(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	assert.Equal(t, StatePaused, e.filter.State())
	assert.Equal(t, testAddr, e.filter.Address())
	assert.False(t, e.filter.TimerArmed())
	assert.Equal(t, 1, e.driver.Registry().Len())

	got, ok := e.driver.Registry().Lookup(e.host.Handle())
	require.True(t, ok)
	assert.Same(t, e.filter, got)
}

func TestAttachRejected(t *testing.T) {
	tests := []struct {
		name    string
		cfg     memhost.Config
		wantErr error
	}{
		{
			name:    "unsupported medium",
			cfg:     memhost.Config{Medium: core.MediumNative802_11, Address: testAddr},
			wantErr: core.ErrUnsupportedMedium,
		},
		{
			name:    "address not allowed",
			cfg:     memhost.Config{Address: net.HardwareAddr{0x02, 0, 0, 0, 0, 1}},
			wantErr: core.ErrAddressNotAllowed,
		},
		{
			name:    "timer unavailable",
			cfg:     memhost.Config{Address: testAddr, FailTimers: true},
			wantErr: core.ErrResources,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := memhost.New(tt.cfg)
			d, err := NewDriver(h, testParams(), WithLogger(discardLogger()))
			require.NoError(t, err)

			f, err := d.Attach(h.Handle(), h.AttachParameters())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, f)
			assert.Equal(t, 0, d.Registry().Len())
		})
	}
}

func TestAttachDuplicateHandle(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	_, err := e.driver.Attach(e.host.Handle(), e.host.AttachParameters())
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	timers := e.host.Timers()
	require.Len(t, timers, 2)
	assert.True(t, timers[1].Freed())
	assert.False(t, timers[0].Freed())
}

func TestLifecycleTransitions(t *testing.T) {
	type op struct {
		name string
		do   func(f *Filter) error
	}
	pause := op{"pause", func(f *Filter) error { return f.Pause() }}
	restart := op{"restart", func(f *Filter) error { return f.Restart(nil) }}
	detach := op{"detach", func(f *Filter) error { return f.Detach() }}

	tests := []struct {
		from  State
		op    op
		legal bool
		to    State
	}{
		{StatePaused, pause, false, StatePaused},
		{StatePaused, restart, true, StateRunning},
		{StatePaused, detach, true, StateDetached},
		{StateRunning, pause, true, StatePaused},
		{StateRunning, restart, false, StateRunning},
		{StateRunning, detach, false, StateRunning},
		{StatePausing, pause, false, StatePausing},
		{StatePausing, restart, false, StatePausing},
		{StatePausing, detach, false, StatePausing},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.op.name, func(t *testing.T) {
			e := newTestEnv(t, memhost.Config{}, testParams())
			e.filter.setStateLocked(tt.from)

			err := tt.op.do(e.filter)
			if tt.legal {
				require.NoError(t, err)
				assert.Equal(t, uint64(0), e.driver.Violations())
			} else {
				assert.ErrorIs(t, err, core.ErrContractViolation)
				assert.ErrorIs(t, err, core.ErrInvalidState)
				assert.Equal(t, uint64(1), e.driver.Violations())
			}
			assert.Equal(t, tt.to, e.filter.State())
		})
	}
}

func TestStrictModePanics(t *testing.T) {
	p := testParams()
	p.Strict = true
	e := newTestEnv(t, memhost.Config{}, p)

	assert.Panics(t, func() { _ = e.filter.Pause() })
}

// reentrantHost calls back into the filter once from IndicateStatus.
type reentrantHost struct {
	*memhost.Host
	filter  *Filter
	reenter bool
}

func (h *reentrantHost) IndicateStatus(handle core.Handle, ind *core.StatusIndication) {
	if h.reenter {
		h.reenter = false
		h.filter.Status(ind)
	}
	h.Host.IndicateStatus(handle, ind)
}

func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call blocked")
	}
}

func TestStrictNestedStatusReleasesLock(t *testing.T) {
	p := testParams()
	p.Strict = true
	mh := memhost.New(memhost.Config{Address: testAddr})
	rh := &reentrantHost{Host: mh}

	d, err := NewDriver(rh, p, WithLogger(discardLogger()))
	require.NoError(t, err)
	f, err := d.Attach(mh.Handle(), mh.AttachParameters())
	require.NoError(t, err)
	mh.Bind(f)
	rh.filter = f
	rh.reenter = true

	ind := &core.StatusIndication{StatusCode: core.StatusMediaConnect}
	assert.Panics(t, func() { f.Status(ind) })
	assert.Equal(t, uint64(1), d.Violations())

	returnsWithin(t, time.Second, func() { f.Status(ind) })
	assert.Len(t, mh.Statuses(), 1)
	assert.Equal(t, uint64(1), d.Violations())
}

func TestStrictDetachWithOutstandingRequest(t *testing.T) {
	p := testParams()
	p.Strict = true
	e := newTestEnv(t, memhost.Config{}, p)
	e.host.OidHandler = func(*core.OidRequest) core.Status { return core.StatusPending }

	req := &core.OidRequest{Type: core.RequestQueryInformation, Oid: core.OidGenLinkSpeed, RequestID: 7, InformationBuffer: make([]byte, 4)}
	require.Equal(t, core.StatusPending, e.filter.OidRequest(req))

	assert.Panics(t, func() { _ = e.filter.Detach() })

	returnsWithin(t, time.Second, func() { _ = e.filter.Stats() })
	assert.Equal(t, StateDetached, e.filter.State())
	assert.Equal(t, 0, e.driver.Registry().Len())
	assert.True(t, e.timer(t).Freed())
}

func TestRestartSetsLookahead(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	rp := &core.RestartParameters{Attributes: &core.RestartAttributes{LookaheadSize: 1514, MtuSize: 1500}}
	require.NoError(t, e.filter.Restart(rp))

	assert.Equal(t, uint32(128), rp.Attributes.LookaheadSize)
	assert.Equal(t, uint32(1500), rp.Attributes.MtuSize)
}

func TestTimerArming(t *testing.T) {
	for _, period := range []time.Duration{0, 10 * time.Millisecond} {
		for _, link := range []bool{false, true} {
			for _, running := range []bool{false, true} {
				name := "period=" + period.String()
				if link {
					name += "/link-up"
				}
				if running {
					name += "/running"
				}
				t.Run(name, func(t *testing.T) {
					p := testParams()
					p.TimerPeriod = period
					e := newTestEnv(t, memhost.Config{}, p)

					if link {
						e.linkUp(true)
					}
					if running {
						require.NoError(t, e.filter.Restart(nil))
					}

					want := period > 0 && link && running
					assert.Equal(t, want, e.filter.TimerArmed())
					assert.Equal(t, want, e.timer(t).Armed())
					if want {
						assert.Equal(t, period, e.timer(t).Period())
					}
				})
			}
		}
	}
}

func TestTimerFollowsTransitions(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	tm := e.timer(t)

	e.run(t)
	assert.True(t, tm.Armed())

	e.linkUp(false)
	assert.False(t, tm.Armed())
	assert.False(t, e.filter.LinkUp())

	e.linkUp(true)
	assert.True(t, tm.Armed())

	require.NoError(t, e.filter.Pause())
	assert.False(t, tm.Armed())

	require.NoError(t, e.filter.Detach())
	assert.True(t, tm.Freed())
	assert.Equal(t, 0, e.driver.Registry().Len())
}

func TestDetachWaitsForTick(t *testing.T) {
	p := testParams()
	p.DetachGrace = 20 * time.Millisecond
	e := newTestEnv(t, memhost.Config{}, p)

	e.filter.inflightTicks.Store(1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.filter.inflightTicks.Store(0)
	}()

	require.NoError(t, e.filter.Detach())
	assert.Equal(t, int32(0), e.filter.inflightTicks.Load())
	assert.True(t, e.timer(t).Freed())
}

func TestDetachGraceIsBounded(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.filter.inflightTicks.Store(1)

	start := time.Now()
	require.NoError(t, e.filter.Detach())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, e.timer(t).Freed())
}

func TestUnload(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	assert.ErrorIs(t, e.driver.Unload(), core.ErrDriverBusy)

	require.NoError(t, e.filter.Detach())
	assert.NoError(t, e.driver.Unload())
}

func TestStatusForwardsIndications(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	require.NoError(t, e.filter.Restart(nil))

	tests := []struct {
		name string
		ind  *core.StatusIndication
		up   bool
	}{
		{"connected value", &core.StatusIndication{StatusCode: core.StatusLinkState, Payload: core.LinkState{MediaConnectState: core.MediaConnectStateConnected}}, true},
		{"disconnected pointer", &core.StatusIndication{StatusCode: core.StatusLinkState, Payload: &core.LinkState{MediaConnectState: core.MediaConnectStateDisconnected}}, false},
		{"media connect", &core.StatusIndication{StatusCode: core.StatusMediaConnect}, true},
		{"unrelated", &core.StatusIndication{StatusCode: core.StatusResources}, true},
		{"media disconnect", &core.StatusIndication{StatusCode: core.StatusMediaDisconnect}, false},
	}
	for i, tt := range tests {
		e.filter.Status(tt.ind)
		assert.Equal(t, tt.up, e.filter.LinkUp(), tt.name)
		assert.Equal(t, tt.up, e.filter.TimerArmed(), tt.name)

		statuses := e.host.Statuses()
		require.Len(t, statuses, i+1)
		assert.Same(t, tt.ind, statuses[i])
	}
	assert.Equal(t, uint64(0), e.driver.Violations())
}

func TestDevicePnPEventNotify(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	ev := &core.DevicePnPEvent{Kind: core.DevicePnPEventSurpriseRemoved}
	e.filter.DevicePnPEventNotify(ev)
	require.Len(t, e.host.PnPEvents(), 1)
	assert.Same(t, ev, e.host.PnPEvents()[0])
	assert.Equal(t, uint64(0), e.driver.Violations())

	e.filter.DevicePnPEventNotify(nil)
	assert.Len(t, e.host.PnPEvents(), 1)
	assert.Equal(t, uint64(1), e.driver.Violations())

	e.filter.DevicePnPEventNotify(&core.DevicePnPEvent{Kind: 99})
	assert.Len(t, e.host.PnPEvents(), 2)
	assert.Equal(t, uint64(2), e.driver.Violations())
}

func TestStats(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.run(t)

	s := e.filter.Stats()
	assert.Equal(t, e.host.Handle(), s.Handle)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", s.Address)
	assert.Equal(t, StateRunning, s.State)
	assert.True(t, s.LinkUp)
	assert.True(t, s.TimerArmed)
	assert.False(t, s.PendingOid)
}

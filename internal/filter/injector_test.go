package filter

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/host/memhost"
	"firestige.xyz/pausefilter/internal/nbl"
)

var wantPauseFrame = []byte{
	0x01, 0x80, 0xC2, 0x00, 0x00, 0x01,
	0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
	0x88, 0x08,
	0x00, 0x01,
	0x12, 0x34,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func TestPausePayload(t *testing.T) {
	p, err := NewPausePayload(testAddr, 0x1234)
	require.NoError(t, err)

	frame := p.Frame()
	require.Len(t, frame, PauseFrameLen)
	assert.Equal(t, wantPauseFrame, frame)

	decoded, err := DecodePauseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, PauseDestination, decoded.Destination)
	assert.Equal(t, testAddr, decoded.Source)
	assert.Equal(t, uint16(1), decoded.Opcode)
	assert.Equal(t, uint16(0x1234), decoded.Value)
}

func TestPausePayloadPutZeroesRegion(t *testing.T) {
	p, err := NewPausePayload(testAddr, 0x1234)
	require.NoError(t, err)

	region := make([]byte, PauseFrameLen)
	for i := range region {
		region[i] = 0xFF
	}
	p.Put(region)
	assert.Equal(t, wantPauseFrame, region)
}

func TestPausePayloadBadAddress(t *testing.T) {
	_, err := NewPausePayload([]byte{1, 2, 3}, 1)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestDecodePauseFrameRejects(t *testing.T) {
	notControl := append([]byte(nil), wantPauseFrame...)
	notControl[12], notControl[13] = 0x08, 0x00

	badOpcode := append([]byte(nil), wantPauseFrame...)
	badOpcode[15] = 0x02

	for name, data := range map[string][]byte{
		"short":      wantPauseFrame[:10],
		"ipv4":       notControl,
		"bad opcode": badOpcode,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePauseFrame(data)
			assert.ErrorIs(t, err, core.ErrNotPauseFrame)
		})
	}
}

func TestTickSendsPauseFrame(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.run(t)

	require.True(t, e.timer(t).Fire())

	sends := e.host.Sends()
	require.Len(t, sends, 1)
	require.Len(t, sends[0].Lists, 1)
	assert.Equal(t, core.SendFlagDispatchLevel, sends[0].Flags)

	l := sends[0].Lists[0]
	assert.Same(t, e.driver.Pool(), l.Owner())
	assert.Equal(t, e.host.Handle(), l.SourceHandle)
	require.NotNil(t, l.First)
	assert.Equal(t, wantPauseFrame, l.First.Bytes())

	s := e.filter.Stats()
	assert.Equal(t, uint64(1), s.PauseFramesSent)
	assert.Equal(t, uint64(1), s.Ticks)
	assert.Equal(t, int64(1), e.driver.Pool().InUse())
}

func TestTickWhilePaused(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	e.filter.tick()
	assert.Empty(t, e.host.Sends())
	assert.Equal(t, uint64(0), e.filter.Stats().Ticks)
}

func TestTickSkipsWhenPoolExhausted(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams(), WithPoolLimit(1))
	e.run(t)

	e.filter.tick()
	e.filter.tick()

	assert.Len(t, e.host.Sends(), 1)
	s := e.filter.Stats()
	assert.Equal(t, uint64(1), s.PauseFramesSent)
	assert.Equal(t, uint64(1), s.PauseFramesSkipped)
	assert.Equal(t, uint64(2), s.Ticks)
	assert.Equal(t, uint64(1), e.driver.Pool().Stats().Failed)
}

func TestSkippedTickWarningsAreRateLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := newTestEnv(t, memhost.Config{}, testParams(), WithPoolLimit(1), WithLogger(logger))
	e.run(t)

	for range 4 {
		e.filter.tick()
	}

	assert.Equal(t, uint64(3), e.filter.Stats().PauseFramesSkipped)
	assert.Equal(t, 1, strings.Count(buf.String(), "pause frame skipped"))
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestPauseFramesRecycled(t *testing.T) {
	e := newTestEnv(t, memhost.Config{AutoComplete: true}, testParams(), WithPoolLimit(1))
	e.run(t)

	for i := 0; i < 10; i++ {
		e.filter.tick()
	}

	assert.Len(t, e.host.Sends(), 10)
	assert.Empty(t, e.host.SendCompletes())
	assert.Equal(t, int64(0), e.driver.Pool().InUse())
	assert.Equal(t, uint64(0), e.filter.Stats().PauseFramesSkipped)
}

func TestSendCompleteStripsOwnFrames(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())
	e.run(t)

	e.filter.tick()
	e.filter.tick()
	sends := e.host.Sends()
	require.Len(t, sends, 2)
	own1, own2 := sends[0].Lists[0], sends[1].Lists[0]

	upper := frames(60, 70)
	e.filter.SendNetBufferListsComplete(nbl.Link(own1, upper[0], own2, upper[1]), 0)

	assert.Equal(t, upper, e.host.SendCompletes())
	assert.Equal(t, int64(0), e.driver.Pool().InUse())

	// A chain of only injected frames produces no upward completion.
	e.host.Reset()
	e.filter.tick()
	e.filter.SendNetBufferListsComplete(e.host.Sends()[0].Lists[0], 0)
	assert.Empty(t, e.host.SendCompletes())
	assert.Equal(t, int64(0), e.driver.Pool().InUse())
}

func TestSendWhilePaused(t *testing.T) {
	e := newTestEnv(t, memhost.Config{}, testParams())

	lists := frames(60, 70)
	e.filter.SendNetBufferLists(nbl.Link(lists...), 0, core.SendFlagDispatchLevel)

	assert.Empty(t, e.host.Sends())
	assert.Equal(t, lists, e.host.SendCompletes())
	for _, l := range lists {
		assert.Equal(t, core.StatusPaused, l.Status)
	}
}

func TestSendTracking(t *testing.T) {
	p := testParams()
	p.TrackSends = true
	e := newTestEnv(t, memhost.Config{}, p)
	e.run(t)

	lists := frames(60, 70, 80)
	e.filter.SendNetBufferLists(nbl.Link(lists...), 2, 0)

	sends := e.host.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, lists, sends[0].Lists)
	assert.Equal(t, core.PortNumber(2), sends[0].Port)
	assert.Equal(t, int64(3), e.filter.Stats().OutstandingSends)

	e.filter.tick()
	own := e.host.Sends()[1].Lists[0]
	e.filter.SendNetBufferListsComplete(nbl.Link(lists[0], own, lists[1], lists[2]), 0)
	assert.Equal(t, int64(0), e.filter.Stats().OutstandingSends)
}

func TestStallClearsDropCounters(t *testing.T) {
	p := testParams()
	p.TimerPeriod = 5 * time.Second
	e := newTestEnv(t, memhost.Config{AutoComplete: true}, p)
	e.run(t)

	e.filter.dropped.Store(5)

	e.filter.tick() // snapshot taken
	assert.Equal(t, uint64(5), e.filter.lastDropped.Load())

	e.filter.tick()
	e.filter.tick()
	assert.Equal(t, uint64(5), e.filter.dropped.Load())
	assert.Equal(t, uint32(2), e.filter.stall.Load())

	e.filter.tick()
	assert.Equal(t, uint64(0), e.filter.dropped.Load())
	assert.Equal(t, uint64(0), e.filter.lastDropped.Load())
	assert.Equal(t, uint32(0), e.filter.stall.Load())
}

func TestStallResetsOnChange(t *testing.T) {
	p := testParams()
	p.TimerPeriod = 5 * time.Second
	e := newTestEnv(t, memhost.Config{AutoComplete: true}, p)
	e.run(t)

	e.filter.dropped.Store(5)
	e.filter.tick()
	e.filter.tick()
	e.filter.tick()
	require.Equal(t, uint32(2), e.filter.stall.Load())

	e.filter.dropped.Add(1)
	e.filter.tick()
	assert.Equal(t, uint32(0), e.filter.stall.Load())
	assert.Equal(t, uint64(6), e.filter.lastDropped.Load())
}

func TestStallIgnoredForFastTimer(t *testing.T) {
	e := newTestEnv(t, memhost.Config{AutoComplete: true}, testParams())
	e.run(t)

	e.filter.dropped.Store(5)
	for i := 0; i < 10; i++ {
		e.filter.tick()
	}
	assert.Equal(t, uint64(5), e.filter.dropped.Load())
	assert.Equal(t, uint64(0), e.filter.lastDropped.Load())
}

func TestTickReportSkipsStallCheck(t *testing.T) {
	p := testParams()
	p.TimerPeriod = 5 * time.Second
	e := newTestEnv(t, memhost.Config{AutoComplete: true}, p)
	e.run(t)

	e.filter.ticks.Store(tickReportInterval - 1)
	e.filter.dropped.Store(5)
	e.filter.tick()

	assert.Equal(t, uint64(tickReportInterval), e.filter.ticks.Load())
	assert.Equal(t, uint64(0), e.filter.lastDropped.Load())
}

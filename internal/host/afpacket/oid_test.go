package afpacket

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pausefilter/internal/core"
)

var testLink = linkInfo{
	Address:   net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
	MTU:       1500,
	Up:        true,
	SpeedMbps: 10_000,
}

func query(oid core.Oid, size int) *core.OidRequest {
	return &core.OidRequest{
		Type:              core.RequestQueryInformation,
		Oid:               oid,
		InformationBuffer: make([]byte, size),
	}
}

func TestOidQuery(t *testing.T) {
	tests := []struct {
		name string
		oid  core.Oid
		want uint32
	}{
		{"max frame size", core.OidGenMaximumFrameSize, 1500},
		{"max total size", core.OidGenMaximumTotalSize, 1514},
		{"link speed", core.OidGenLinkSpeed, 100_000_000},
		{"media connect", core.OidGenMediaConnectStatus, 0},
		{"lookahead", core.OidGenCurrentLookahead, defaultLookahead},
		{"packet filter", core.OidGenCurrentPacketFilter, 0},
	}

	r := newOidResponder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := query(tt.oid, 4)
			require.Equal(t, core.StatusSuccess, r.answer(testLink, req))
			assert.Equal(t, uint32(4), req.BytesWritten)
			assert.Equal(t, tt.want, binary.LittleEndian.Uint32(req.InformationBuffer))
		})
	}
}

func TestOidQueryAddress(t *testing.T) {
	r := newOidResponder()

	req := query(core.Oid802_3CurrentAddress, 6)
	require.Equal(t, core.StatusSuccess, r.answer(testLink, req))
	assert.Equal(t, []byte(testLink.Address), req.InformationBuffer)

	short := query(core.Oid802_3PermanentAddress, 4)
	assert.Equal(t, core.StatusBufferTooShort, r.answer(testLink, short))
	assert.Equal(t, uint32(6), short.BytesNeeded)
	assert.Zero(t, short.BytesWritten)
}

func TestOidMediaDisconnected(t *testing.T) {
	down := testLink
	down.Up = false

	req := query(core.OidGenMediaConnectStatus, 4)
	require.Equal(t, core.StatusSuccess, newOidResponder().answer(down, req))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(req.InformationBuffer))

	s := down.state()
	assert.Equal(t, core.MediaConnectStateDisconnected, s.MediaConnectState)
	assert.Zero(t, s.XmitLinkSpeed)
}

func TestOidSetThenQuery(t *testing.T) {
	r := newOidResponder()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 256)
	set := &core.OidRequest{Type: core.RequestSetInformation, Oid: core.OidGenCurrentLookahead, InformationBuffer: buf}
	require.Equal(t, core.StatusSuccess, r.answer(testLink, set))
	assert.Equal(t, uint32(4), set.BytesRead)

	req := query(core.OidGenCurrentLookahead, 4)
	require.Equal(t, core.StatusSuccess, r.answer(testLink, req))
	assert.Equal(t, uint32(256), binary.LittleEndian.Uint32(req.InformationBuffer))
}

func TestOidUnsupported(t *testing.T) {
	r := newOidResponder()

	assert.Equal(t, core.StatusNotSupported, r.answer(testLink, query(core.OidGenStatistics, 64)))
	assert.Equal(t, core.StatusNotSupported, r.answer(testLink, &core.OidRequest{Type: core.RequestMethod, Oid: core.OidGenLinkSpeed}))
	assert.Equal(t, core.StatusNotSupported, r.answer(testLink, &core.OidRequest{
		Type: core.RequestSetInformation, Oid: core.OidGenLinkSpeed, InformationBuffer: make([]byte, 4),
	}))

	short := &core.OidRequest{Type: core.RequestSetInformation, Oid: core.OidGenCurrentPacketFilter, InformationBuffer: make([]byte, 2)}
	assert.Equal(t, core.StatusInvalidLength, r.answer(testLink, short))
	assert.Equal(t, uint32(4), short.BytesNeeded)
}

func TestLinkState(t *testing.T) {
	s := testLink.state()
	assert.Equal(t, core.MediaConnectStateConnected, s.MediaConnectState)
	assert.Equal(t, uint64(10_000_000_000), s.XmitLinkSpeed)
	assert.Equal(t, s.XmitLinkSpeed, s.RcvLinkSpeed)
}

package afpacket

import (
	"encoding/binary"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"firestige.xyz/pausefilter/internal/core"
)

const (
	ethernetHeaderLen = 14
	defaultLookahead  = 128
)

// linkInfo is the interface state the binding answers requests from.
type linkInfo struct {
	Index     int
	Address   net.HardwareAddr
	MTU       int
	Up        bool
	SpeedMbps uint64
}

// linkSpeedUnits converts to the 100 bps units OID_GEN_LINK_SPEED reports.
func (li linkInfo) linkSpeedUnits() uint64 {
	return li.SpeedMbps * 10_000
}

func (li linkInfo) state() core.LinkState {
	s := core.LinkState{MediaConnectState: core.MediaConnectStateDisconnected}
	if li.Up {
		s.MediaConnectState = core.MediaConnectStateConnected
		s.XmitLinkSpeed = li.SpeedMbps * 1_000_000
		s.RcvLinkSpeed = s.XmitLinkSpeed
	}
	return s
}

func readLinkInfo(name string) (linkInfo, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return linkInfo{}, err
	}
	return linkInfo{
		Index:     iface.Index,
		Address:   iface.HardwareAddr,
		MTU:       iface.MTU,
		Up:        iface.Flags&net.FlagRunning != 0,
		SpeedMbps: readSpeed(name),
	}, nil
}

// readSpeed returns the negotiated speed from sysfs, or zero when the
// driver does not report one.
func readSpeed(name string) uint64 {
	b, err := os.ReadFile("/sys/class/net/" + name + "/speed")
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return uint64(v)
}

// oidResponder answers the requests that reach the bottom of the stack.
// Settable attributes are kept here; everything else is read from the
// interface.
type oidResponder struct {
	mu           sync.Mutex
	lookahead    uint32
	packetFilter uint32
}

func newOidResponder() *oidResponder {
	return &oidResponder{lookahead: defaultLookahead}
}

func (r *oidResponder) answer(li linkInfo, req *core.OidRequest) core.Status {
	switch req.Type {
	case core.RequestQueryInformation, core.RequestQueryStatistics:
		return r.query(li, req)
	case core.RequestSetInformation:
		return r.set(req)
	default:
		return core.StatusNotSupported
	}
}

func (r *oidResponder) query(li linkInfo, req *core.OidRequest) core.Status {
	switch req.Oid {
	case core.Oid802_3CurrentAddress, core.Oid802_3PermanentAddress:
		return putBytes(req, li.Address)
	case core.OidGenMaximumFrameSize:
		return putUint32(req, uint32(li.MTU))
	case core.OidGenMaximumTotalSize:
		return putUint32(req, uint32(li.MTU+ethernetHeaderLen))
	case core.OidGenLinkSpeed:
		return putUint32(req, uint32(li.linkSpeedUnits()))
	case core.OidGenMediaConnectStatus:
		// 0 connected, 1 disconnected
		if li.Up {
			return putUint32(req, 0)
		}
		return putUint32(req, 1)
	case core.OidGenCurrentLookahead:
		r.mu.Lock()
		v := r.lookahead
		r.mu.Unlock()
		return putUint32(req, v)
	case core.OidGenCurrentPacketFilter:
		r.mu.Lock()
		v := r.packetFilter
		r.mu.Unlock()
		return putUint32(req, v)
	default:
		return core.StatusNotSupported
	}
}

func (r *oidResponder) set(req *core.OidRequest) core.Status {
	var dst *uint32
	switch req.Oid {
	case core.OidGenCurrentLookahead:
		dst = &r.lookahead
	case core.OidGenCurrentPacketFilter:
		dst = &r.packetFilter
	default:
		return core.StatusNotSupported
	}
	if len(req.InformationBuffer) < 4 {
		req.BytesNeeded = 4
		return core.StatusInvalidLength
	}
	r.mu.Lock()
	*dst = binary.LittleEndian.Uint32(req.InformationBuffer)
	r.mu.Unlock()
	req.BytesRead = 4
	return core.StatusSuccess
}

func putUint32(req *core.OidRequest, v uint32) core.Status {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return putBytes(req, b[:])
}

func putBytes(req *core.OidRequest, data []byte) core.Status {
	if len(req.InformationBuffer) < len(data) {
		req.BytesNeeded = uint32(len(data))
		return core.StatusBufferTooShort
	}
	req.BytesWritten = uint32(copy(req.InformationBuffer, data))
	return core.StatusSuccess
}

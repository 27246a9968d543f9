package core

import "fmt"

// Oid identifies an adapter attribute.
type Oid uint32

const (
	OidGenMaximumFrameSize    Oid = 0x00010106
	OidGenLinkSpeed           Oid = 0x00010107
	OidGenCurrentPacketFilter Oid = 0x0001010E
	OidGenCurrentLookahead    Oid = 0x0001010F
	OidGenMaximumTotalSize    Oid = 0x00010111
	OidGenMediaConnectStatus  Oid = 0x00010114
	OidGenStatistics          Oid = 0x00020106
	Oid802_3PermanentAddress  Oid = 0x01010101
	Oid802_3CurrentAddress    Oid = 0x01010102
)

var oidNames = map[Oid]string{
	OidGenMaximumFrameSize:    "OID_GEN_MAXIMUM_FRAME_SIZE",
	OidGenLinkSpeed:           "OID_GEN_LINK_SPEED",
	OidGenCurrentPacketFilter: "OID_GEN_CURRENT_PACKET_FILTER",
	OidGenCurrentLookahead:    "OID_GEN_CURRENT_LOOKAHEAD",
	OidGenMaximumTotalSize:    "OID_GEN_MAXIMUM_TOTAL_SIZE",
	OidGenMediaConnectStatus:  "OID_GEN_MEDIA_CONNECT_STATUS",
	OidGenStatistics:          "OID_GEN_STATISTICS",
	Oid802_3PermanentAddress:  "OID_802_3_PERMANENT_ADDRESS",
	Oid802_3CurrentAddress:    "OID_802_3_CURRENT_ADDRESS",
}

func (o Oid) String() string {
	if name, ok := oidNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OID(0x%08x)", uint32(o))
}

// RequestType is the kind of operation an OidRequest performs.
type RequestType int

const (
	RequestQueryInformation RequestType = iota
	RequestSetInformation
	RequestQueryStatistics
	RequestMethod
)

func (t RequestType) String() string {
	switch t {
	case RequestQueryInformation:
		return "query"
	case RequestSetInformation:
		return "set"
	case RequestQueryStatistics:
		return "query_statistics"
	case RequestMethod:
		return "method"
	default:
		return fmt.Sprintf("request_type(%d)", int(t))
	}
}

// RequestID correlates a request with its cancellation.
type RequestID uint64

// OidRequest is a get/set/method operation on an adapter attribute.
//
// For query and set requests InformationBuffer holds the attribute value.
// For method requests it holds InputBufferLength bytes of input and receives
// up to OutputBufferLength bytes of output.
type OidRequest struct {
	Type       RequestType
	Oid        Oid
	RequestID  RequestID
	PortNumber PortNumber

	InformationBuffer  []byte
	MethodID           uint32
	InputBufferLength  uint32
	OutputBufferLength uint32

	BytesRead    uint32
	BytesWritten uint32
	BytesNeeded  uint32

	// SourceReserved belongs to the layer that issued the request. Layers
	// below must not touch it.
	SourceReserved any
}

// Clone returns a shallow copy that shares InformationBuffer with r, with
// result fields and SourceReserved cleared.
func (r *OidRequest) Clone() *OidRequest {
	c := *r
	c.BytesRead = 0
	c.BytesWritten = 0
	c.BytesNeeded = 0
	c.SourceReserved = nil
	return &c
}

// ResetResults zeroes the byte counts that a request of r's type reports.
func (r *OidRequest) ResetResults() {
	switch r.Type {
	case RequestMethod:
		r.BytesRead = 0
		r.BytesNeeded = 0
		r.BytesWritten = 0
	case RequestSetInformation:
		r.BytesRead = 0
		r.BytesNeeded = 0
	default:
		r.BytesWritten = 0
		r.BytesNeeded = 0
	}
}

// CopyResultsFrom copies the result fields that a request of r's type
// reports from src.
func (r *OidRequest) CopyResultsFrom(src *OidRequest) {
	switch r.Type {
	case RequestMethod:
		r.OutputBufferLength = src.OutputBufferLength
		r.BytesRead = src.BytesRead
		r.BytesNeeded = src.BytesNeeded
		r.BytesWritten = src.BytesWritten
	case RequestSetInformation:
		r.BytesRead = src.BytesRead
		r.BytesNeeded = src.BytesNeeded
	default:
		r.BytesWritten = src.BytesWritten
		r.BytesNeeded = src.BytesNeeded
	}
}

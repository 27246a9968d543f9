// Package core defines the value types shared by the filter engine and the
// host bindings. It has no external dependencies.
package core

import (
	"fmt"
	"net"
)

// Handle identifies one filter attachment. Hosts allocate handles; the
// engine treats them as opaque keys.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("filter-%d", uint64(h))
}

// PortNumber selects an adapter port. Zero is the default port.
type PortNumber uint32

// Medium is the link-layer medium of an adapter.
type Medium int

const (
	Medium802_3 Medium = iota
	Medium802_5
	MediumWan
	MediumNative802_11
	MediumIP
)

func (m Medium) String() string {
	switch m {
	case Medium802_3:
		return "802.3"
	case Medium802_5:
		return "802.5"
	case MediumWan:
		return "wan"
	case MediumNative802_11:
		return "native-802.11"
	case MediumIP:
		return "ip"
	default:
		return fmt.Sprintf("medium(%d)", int(m))
	}
}

// AttachParameters describes the adapter a filter is being attached to.
type AttachParameters struct {
	Medium         Medium
	CurrentAddress net.HardwareAddr
	IfIndex        int
	MiniportName   string
	FriendlyName   string
}

// RestartAttributes are negotiated attributes the filter may adjust on restart.
type RestartAttributes struct {
	LookaheadSize uint32
	MtuSize       uint32
}

// RestartParameters carries the restart attributes, if the host exposes any.
type RestartParameters struct {
	Attributes *RestartAttributes
}

// ReceiveFlags qualify an inbound indication.
type ReceiveFlags uint32

const (
	// ReceiveFlagDispatchLevel marks an indication made from the elevated tier.
	ReceiveFlagDispatchLevel ReceiveFlags = 1 << iota
	// ReceiveFlagResources means the caller reclaims the buffers when the
	// call returns, so the lists may not be pended.
	ReceiveFlagResources
	ReceiveFlagSingleEtherType
)

// CanPend reports whether the receiver may hold the lists past the call.
func (f ReceiveFlags) CanPend() bool {
	return f&ReceiveFlagResources == 0
}

// ReturnFlags qualify a receive return.
type ReturnFlags uint32

const ReturnFlagDispatchLevel ReturnFlags = 1

// SendFlags qualify an outbound send.
type SendFlags uint32

const (
	SendFlagDispatchLevel SendFlags = 1 << iota
	SendFlagCheckForLoopback
)

// SendCompleteFlags qualify a send completion.
type SendCompleteFlags uint32

const SendCompleteFlagDispatchLevel SendCompleteFlags = 1

// MediaConnectState is the adapter link state.
type MediaConnectState int

const (
	MediaConnectStateUnknown MediaConnectState = iota
	MediaConnectStateConnected
	MediaConnectStateDisconnected
)

func (s MediaConnectState) String() string {
	switch s {
	case MediaConnectStateConnected:
		return "connected"
	case MediaConnectStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LinkState is the payload of a StatusLinkState indication.
type LinkState struct {
	MediaConnectState MediaConnectState
	XmitLinkSpeed     uint64
	RcvLinkSpeed      uint64
}

// StatusIndication is an adapter status notification travelling up the stack.
type StatusIndication struct {
	Source     Handle
	PortNumber PortNumber
	StatusCode Status
	Payload    any
}

// DevicePnPEventKind enumerates device plug-and-play notifications.
type DevicePnPEventKind int

const (
	DevicePnPEventQueryRemoved DevicePnPEventKind = iota + 1
	DevicePnPEventRemoved
	DevicePnPEventSurpriseRemoved
	DevicePnPEventQueryStopped
	DevicePnPEventStopped
	DevicePnPEventPowerProfileChanged
)

// Valid reports whether k is a known event kind.
func (k DevicePnPEventKind) Valid() bool {
	return k >= DevicePnPEventQueryRemoved && k <= DevicePnPEventPowerProfileChanged
}

func (k DevicePnPEventKind) String() string {
	switch k {
	case DevicePnPEventQueryRemoved:
		return "query_removed"
	case DevicePnPEventRemoved:
		return "removed"
	case DevicePnPEventSurpriseRemoved:
		return "surprise_removed"
	case DevicePnPEventQueryStopped:
		return "query_stopped"
	case DevicePnPEventStopped:
		return "stopped"
	case DevicePnPEventPowerProfileChanged:
		return "power_profile_changed"
	default:
		return fmt.Sprintf("pnp_event(%d)", int(k))
	}
}

// DevicePnPEvent is a device plug-and-play notification travelling down the stack.
type DevicePnPEvent struct {
	Kind       DevicePnPEventKind
	PortNumber PortNumber
	Buffer     []byte
}

// Package host defines the boundary between the filter engine and the
// framework that binds it to an adapter.
//
// A binding implements Framework. The engine implements Module once per
// attachment, and the binding routes adapter events into it. Methods marked
// elevated may be called from contexts that must not block.
package host

import (
	"time"

	"firestige.xyz/pausefilter/internal/core"
	"firestige.xyz/pausefilter/internal/nbl"
)

// DataPath moves buffer-list chains between the filter and its neighbours.
type DataPath interface {
	// IndicateReceive passes a chain up the stack. Elevated.
	IndicateReceive(h core.Handle, chain *nbl.NetBufferList, port core.PortNumber, count int, flags core.ReceiveFlags)
	// ReturnNetBufferLists hands received lists back to the adapter. Elevated.
	ReturnNetBufferLists(h core.Handle, chain *nbl.NetBufferList, flags core.ReturnFlags)
	// SendNetBufferLists passes a chain down to the adapter. Elevated.
	SendNetBufferLists(h core.Handle, chain *nbl.NetBufferList, port core.PortNumber, flags core.SendFlags)
	// SendNetBufferListsComplete completes sends back to the layer above. Elevated.
	SendNetBufferListsComplete(h core.Handle, chain *nbl.NetBufferList, flags core.SendCompleteFlags)
}

// ControlPath carries control requests and notifications.
type ControlPath interface {
	// CloneOidRequest allocates a copy of req for forwarding.
	CloneOidRequest(h core.Handle, req *core.OidRequest) (*core.OidRequest, error)
	// FreeCloneOidRequest releases a clone returned by CloneOidRequest.
	FreeCloneOidRequest(h core.Handle, clone *core.OidRequest)
	// OidRequest submits req downstream. A StatusPending result means the
	// binding will call the module's OidRequestComplete later.
	OidRequest(h core.Handle, req *core.OidRequest) core.Status
	// CancelOidRequest asks the layers below to cancel a pending request.
	CancelOidRequest(h core.Handle, id core.RequestID)
	// OidRequestComplete completes a request that arrived from above.
	OidRequestComplete(h core.Handle, req *core.OidRequest, status core.Status)
	// IndicateStatus passes a status indication up. Elevated.
	IndicateStatus(h core.Handle, ind *core.StatusIndication)
	// DevicePnPEventNotify passes a device event down.
	DevicePnPEventNotify(h core.Handle, ev *core.DevicePnPEvent)
}

// Timer is a periodic timer owned by one attachment.
type Timer interface {
	// Set arms the timer to fire after due and then every period. A zero
	// period fires once.
	Set(due, period time.Duration)
	// Cancel disarms the timer and reports whether it was armed. A callback
	// already running is not waited for.
	Cancel() bool
	// Free releases the timer. It must be cancelled first.
	Free()
}

// Services are the execution facilities a binding provides.
type Services interface {
	// NumProcessors is the number of logical processors. Processors are
	// numbered 0..NumProcessors()-1 whatever the system ids behind them.
	NumProcessors() int
	// CurrentProcessor is the number of the processor running the caller,
	// or -1 when that processor is not one of them.
	CurrentProcessor() int
	// QueueDeferred runs fn on processor cpu at high importance. It reports
	// false when the work could not be queued; fn is then never run.
	QueueDeferred(cpu int, fn func()) bool
	// NewTimer creates a timer that calls fn on each expiry.
	NewTimer(h core.Handle, fn func()) (Timer, error)
}

// Framework is everything the engine consumes from a binding.
type Framework interface {
	DataPath
	ControlPath
	Services
}

// Module is the callback table the engine exposes for one attachment.
type Module interface {
	Pause() error
	Restart(params *core.RestartParameters) error
	Detach() error

	Status(ind *core.StatusIndication)
	DevicePnPEventNotify(ev *core.DevicePnPEvent)

	SendNetBufferLists(chain *nbl.NetBufferList, port core.PortNumber, flags core.SendFlags)
	SendNetBufferListsComplete(chain *nbl.NetBufferList, flags core.SendCompleteFlags)
	ReceiveNetBufferLists(chain *nbl.NetBufferList, port core.PortNumber, count int, flags core.ReceiveFlags)
	ReturnNetBufferLists(chain *nbl.NetBufferList, flags core.ReturnFlags)

	OidRequest(req *core.OidRequest) core.Status
	CancelOidRequest(id core.RequestID)
	OidRequestComplete(req *core.OidRequest, status core.Status)
}

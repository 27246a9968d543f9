package core

import "errors"

// Sentinel errors shared by the engine, the host bindings and the daemon.
var (
	// Attach policy errors
	ErrUnsupportedMedium = errors.New("pausefilter: unsupported medium")
	ErrAddressNotAllowed = errors.New("pausefilter: hardware address not in allow-list")

	// Lifecycle errors
	ErrInvalidState      = errors.New("pausefilter: invalid lifecycle state")
	ErrContractViolation = errors.New("pausefilter: host contract violation")
	ErrNotAttached       = errors.New("pausefilter: filter not attached")
	ErrDriverBusy        = errors.New("pausefilter: driver has attached filters")

	// Resource errors
	ErrResources     = errors.New("pausefilter: insufficient resources")
	ErrPoolExhausted = errors.New("pausefilter: buffer-list pool exhausted")
	ErrNoHeadroom    = errors.New("pausefilter: not enough headroom in net buffer")
	ErrForeignList   = errors.New("pausefilter: buffer list not owned by pool")

	// Control path errors
	ErrRequestBusy    = errors.New("pausefilter: control request already outstanding")
	ErrRequestFailed  = errors.New("pausefilter: control request failed")
	ErrNotSupported   = errors.New("pausefilter: not supported")
	ErrInvalidRequest = errors.New("pausefilter: invalid request")

	// Configuration errors
	ErrConfigInvalid = errors.New("pausefilter: invalid configuration")

	// Frame errors
	ErrNotPauseFrame = errors.New("pausefilter: not a MAC pause frame")
)

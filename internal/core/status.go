package core

import (
	"errors"
	"fmt"
)

// Status is an NDIS-style completion code. Values below 0x80000000 are
// success or informational; the rest are failures.
type Status uint32

const (
	StatusSuccess              Status = 0x00000000
	StatusPending              Status = 0x00000103
	StatusFailure              Status = 0xC0000001
	StatusResources            Status = 0xC000009A
	StatusNotSupported         Status = 0xC00000BB
	StatusInvalidParameter     Status = 0xC000000D
	StatusInvalidDeviceRequest Status = 0xC0000010
	StatusInvalidLength        Status = 0xC0010014
	StatusBufferTooShort       Status = 0xC0010016
	StatusRequestAborted       Status = 0xC001000C
	StatusPaused               Status = 0xC023002A
	StatusInvalidState         Status = 0xC0000184

	// Status indication codes.
	StatusLinkState       Status = 0x40010017
	StatusMediaConnect    Status = 0x4001000B
	StatusMediaDisconnect Status = 0x4001000C
)

var statusNames = map[Status]string{
	StatusSuccess:              "success",
	StatusPending:              "pending",
	StatusFailure:              "failure",
	StatusResources:            "resources",
	StatusNotSupported:         "not_supported",
	StatusInvalidParameter:     "invalid_parameter",
	StatusInvalidDeviceRequest: "invalid_device_request",
	StatusInvalidLength:        "invalid_length",
	StatusBufferTooShort:       "buffer_too_short",
	StatusRequestAborted:       "request_aborted",
	StatusPaused:               "paused",
	StatusInvalidState:         "invalid_state",
	StatusLinkState:            "link_state",
	StatusMediaConnect:         "media_connect",
	StatusMediaDisconnect:      "media_disconnect",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(0x%08x)", uint32(s))
}

// IsError reports whether s is a failure code.
func (s Status) IsError() bool {
	return s >= 0xC0000000
}

// Err converts s to an error. Success, pending and informational codes
// yield nil.
func (s Status) Err() error {
	if !s.IsError() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError wraps a failure Status.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return "pausefilter: status " + e.Status.String()
}

// Unwrap maps well-known codes onto sentinel errors so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case StatusResources:
		return ErrResources
	case StatusNotSupported:
		return ErrNotSupported
	case StatusInvalidDeviceRequest:
		return ErrRequestBusy
	case StatusInvalidParameter, StatusInvalidLength, StatusBufferTooShort:
		return ErrInvalidRequest
	case StatusInvalidState, StatusPaused:
		return ErrInvalidState
	default:
		return ErrRequestFailed
	}
}

// StatusOf extracts the Status carried by err, or StatusFailure when err
// carries none. A nil error is StatusSuccess.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, ErrResources), errors.Is(err, ErrPoolExhausted):
		return StatusResources
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, ErrUnsupportedMedium):
		return StatusNotSupported
	case errors.Is(err, ErrInvalidState):
		return StatusInvalidState
	}
	return StatusFailure
}

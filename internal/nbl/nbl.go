// Package nbl models packet buffer lists: chains of NetBufferList nodes,
// each holding one or more NetBuffers, and the pool that owns the scratch
// lists the filter transmits on its own behalf.
package nbl

import (
	"firestige.xyz/pausefilter/internal/core"
)

// NetBuffer is one packet. Its data occupies the tail of a backing array;
// the bytes in front of the data are headroom that Retreat can claim.
type NetBuffer struct {
	Next *NetBuffer

	backing []byte
	offset  int
}

// NewNetBuffer returns a buffer whose data is exactly data, with no headroom.
func NewNetBuffer(data []byte) *NetBuffer {
	return &NetBuffer{backing: data}
}

// newEmptyNetBuffer returns a buffer of size bytes of headroom and no data.
func newEmptyNetBuffer(size int) *NetBuffer {
	return &NetBuffer{backing: make([]byte, size), offset: size}
}

// DataLength is the number of bytes of packet data.
func (nb *NetBuffer) DataLength() int {
	return len(nb.backing) - nb.offset
}

// Bytes returns the packet data. The slice aliases the buffer.
func (nb *NetBuffer) Bytes() []byte {
	return nb.backing[nb.offset:]
}

// Headroom is the number of bytes Retreat may still claim.
func (nb *NetBuffer) Headroom() int {
	return nb.offset
}

// Retreat grows the data region by n bytes at the front.
func (nb *NetBuffer) Retreat(n int) error {
	if n < 0 || n > nb.offset {
		return core.ErrNoHeadroom
	}
	nb.offset -= n
	return nil
}

// Advance shrinks the data region by n bytes at the front, returning them
// to headroom.
func (nb *NetBuffer) Advance(n int) {
	if n > nb.DataLength() {
		n = nb.DataLength()
	}
	if n > 0 {
		nb.offset += n
	}
}

// NetBufferList groups the buffers of one send or receive unit.
type NetBufferList struct {
	Next  *NetBufferList
	First *NetBuffer

	// Status is set by whoever completes the list.
	Status core.Status

	// SourceHandle is the handle of the layer that originated the list.
	SourceHandle core.Handle

	// Context is reserved for the host binding that allocated the list.
	Context any

	owner *Pool
}

// NewList links buffers into a new list.
func NewList(buffers ...*NetBuffer) *NetBufferList {
	l := &NetBufferList{}
	var tail *NetBuffer
	for _, nb := range buffers {
		nb.Next = nil
		if tail == nil {
			l.First = nb
		} else {
			tail.Next = nb
		}
		tail = nb
	}
	return l
}

// FromFrames builds a list with one buffer per frame.
func FromFrames(frames ...[]byte) *NetBufferList {
	buffers := make([]*NetBuffer, len(frames))
	for i, f := range frames {
		buffers[i] = NewNetBuffer(f)
	}
	return NewList(buffers...)
}

// Owner returns the pool that allocated l, or nil for lists that arrived
// from another layer.
func (l *NetBufferList) Owner() *Pool {
	return l.owner
}

// AllBuffers reports whether every buffer in l satisfies pred. A list with
// no buffers satisfies nothing.
func (l *NetBufferList) AllBuffers(pred func(*NetBuffer) bool) bool {
	if l.First == nil {
		return false
	}
	for nb := l.First; nb != nil; nb = nb.Next {
		if !pred(nb) {
			return false
		}
	}
	return true
}

// RetreatDataStart claims n bytes of headroom in every buffer of l. On
// failure no buffer is changed.
func (l *NetBufferList) RetreatDataStart(n int) error {
	if n < 0 {
		return core.ErrNoHeadroom
	}
	for nb := l.First; nb != nil; nb = nb.Next {
		if nb.Headroom() < n {
			return core.ErrNoHeadroom
		}
	}
	for nb := l.First; nb != nil; nb = nb.Next {
		nb.offset -= n
	}
	return nil
}

// AdvanceDataStart returns n bytes at the front of every buffer of l to
// headroom.
func (l *NetBufferList) AdvanceDataStart(n int) {
	for nb := l.First; nb != nil; nb = nb.Next {
		nb.Advance(n)
	}
}

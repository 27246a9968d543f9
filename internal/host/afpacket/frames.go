package afpacket

import (
	"sync"
	"time"

	"firestige.xyz/pausefilter/internal/nbl"
)

// rxFrame is the Context of every list the binding indicates. It holds the
// capture timestamp and the pooled buffer behind the frame.
type rxFrame struct {
	timestamp time.Time
	buf       *[]byte
}

// framePool recycles receive buffers. The ring is reused as soon as the
// next frame is read, so every indicated frame is copied out of it first.
type framePool struct {
	size int
	pool sync.Pool
}

func newFramePool(size int) *framePool {
	p := &framePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// wrap copies data into a pooled buffer and returns a single-frame list.
func (p *framePool) wrap(data []byte, ts time.Time) *nbl.NetBufferList {
	bp := p.pool.Get().(*[]byte)
	n := copy(*bp, data)
	l := nbl.FromFrames((*bp)[:n])
	l.Context = &rxFrame{timestamp: ts, buf: bp}
	return l
}

// recycle puts the buffers of lists this pool produced back and reports
// how many lists it took.
func (p *framePool) recycle(chain *nbl.NetBufferList) int {
	n := 0
	for l := chain; l != nil; {
		next := l.Next
		if rf, ok := l.Context.(*rxFrame); ok && rf.buf != nil {
			p.pool.Put(rf.buf)
			rf.buf = nil
			n++
		}
		l.Next = nil
		l = next
	}
	return n
}

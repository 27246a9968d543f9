package nbl

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/pausefilter/internal/core"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name     string
	DataSize int // bytes of headroom in each allocated buffer
	Limit    int // maximum lists in use, 0 for unlimited
}

// Pool allocates scratch lists of one buffer each. Lists it allocates are
// tagged with the pool so completion paths can pick them out.
type Pool struct {
	name     string
	dataSize int
	limit    int64

	inUse     atomic.Int64
	allocated atomic.Uint64
	failed    atomic.Uint64
}

// NewPool creates a pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.DataSize <= 0 {
		return nil, fmt.Errorf("%w: pool data size %d", core.ErrConfigInvalid, cfg.DataSize)
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("%w: pool limit %d", core.ErrConfigInvalid, cfg.Limit)
	}
	return &Pool{
		name:     cfg.Name,
		dataSize: cfg.DataSize,
		limit:    int64(cfg.Limit),
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// DataSize returns the headroom of each allocated buffer.
func (p *Pool) DataSize() int { return p.dataSize }

// Allocate returns a list holding one empty buffer with DataSize bytes of
// headroom.
func (p *Pool) Allocate() (*NetBufferList, error) {
	if n := p.inUse.Add(1); p.limit > 0 && n > p.limit {
		p.inUse.Add(-1)
		p.failed.Add(1)
		return nil, core.ErrPoolExhausted
	}
	p.allocated.Add(1)

	l := NewList(newEmptyNetBuffer(p.dataSize))
	l.owner = p
	return l, nil
}

// Owns reports whether l was allocated by p.
func (p *Pool) Owns(l *NetBufferList) bool {
	return l != nil && l.owner == p
}

// Free releases a list allocated by p.
func (p *Pool) Free(l *NetBufferList) error {
	if !p.Owns(l) {
		return core.ErrForeignList
	}
	l.owner = nil
	l.Next = nil
	l.First = nil
	p.inUse.Add(-1)
	return nil
}

// InUse returns the number of lists allocated and not yet freed.
func (p *Pool) InUse() int64 { return p.inUse.Load() }

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	InUse     int64
	Allocated uint64
	Failed    uint64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		InUse:     p.inUse.Load(),
		Allocated: p.allocated.Load(),
		Failed:    p.failed.Load(),
	}
}

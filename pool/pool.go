// Package pool implements the shared buffer manager used for connection
// reads. One pool is owned by each server instance and handed to every
// session it creates; sessions borrow buffers for the duration of a read
// loop and return them when they exit.
package pool

import "sync/atomic"

// BufferPool hands out fixed-size byte buffers from a preallocated free
// list, falling back to fresh allocations when the list is empty. Returned
// buffers are reused; buffers of the wrong capacity are dropped so a caller
// can never poison the pool.
type BufferPool struct {
	free chan []byte
	size int

	allocated atomic.Int64
}

// Stats is a point-in-time snapshot of a pool's state.
type Stats struct {
	// BufferSize is the length of every buffer the pool hands out.
	BufferSize int
	// Pooled is the number of buffers currently sitting in the free list.
	Pooled int
	// TotalAllocated counts every buffer the pool has ever created,
	// including the initial preallocation.
	TotalAllocated int64
}

// New creates a pool of initialCount preallocated buffers of bufferSize
// bytes each. Non-positive arguments are clamped to usable minimums.
func New(initialCount, bufferSize int) *BufferPool {
	if initialCount < 0 {
		initialCount = 0
	}
	if bufferSize <= 0 {
		bufferSize = 2048
	}

	p := &BufferPool{
		// The free list is sized above the initial count so that a burst
		// of returns beyond the preallocation doesn't drop buffers.
		free: make(chan []byte, 2*initialCount+16),
		size: bufferSize,
	}

	for i := 0; i < initialCount; i++ {
		p.free <- p.alloc()
	}
	return p
}

// BufferSize returns the length of the buffers this pool hands out.
func (p *BufferPool) BufferSize() int { return p.size }

// Take returns a buffer of BufferSize bytes, reusing a pooled one when
// available. Contents are not zeroed.
func (p *BufferPool) Take() []byte {
	select {
	case buf := <-p.free:
		return buf
	default:
		return p.alloc()
	}
}

// Put returns a buffer to the pool. Buffers whose capacity doesn't match
// the pool's size are discarded, as are returns when the free list is full.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}

	select {
	case p.free <- buf[:p.size]:
	default:
	}
}

// Stats reports the pool's current state.
func (p *BufferPool) Stats() Stats {
	return Stats{
		BufferSize:     p.size,
		Pooled:         len(p.free),
		TotalAllocated: p.allocated.Load(),
	}
}

func (p *BufferPool) alloc() []byte {
	p.allocated.Add(1)
	return make([]byte, p.size)
}

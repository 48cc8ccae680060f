package capture

import (
	"sync/atomic"

	"github.com/yanet-platform/linecap/internal/align"
)

// Ring is a bounded single-producer/single-consumer lock-free FIFO of
// StagingBuffer handles (spec.md §4.3). Capacity is a power of two, set
// to 2× the pool size so the head and tail indices never alias while
// every buffer in the pool is in flight simultaneously (spec.md §3's
// Ring invariant). Only one producer and one consumer goroutine may call
// TryEnqueue and TryDequeue/DequeueBatch respectively — the same single-writer discipline
// the teacher's pdump ring protocol uses for its write/read index pair,
// generalized here from a byte ring to a ring of buffer handles.
type Ring struct {
	slots []*StagingBuffer
	mask  uint64

	// writeIdx is advanced only by the producer; readIdx only by the
	// consumer. Both are read by the other side to compute occupancy.
	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
}

// NewRing allocates a ring of the given capacity, which must be a power
// of two.
func NewRing(capacity int) (*Ring, error) {
	if err := align.CheckPowerOfTwo("ring capacity", capacity); err != nil {
		return nil, err
	}
	return &Ring{
		slots: make([]*StagingBuffer, capacity),
		mask:  uint64(capacity - 1),
	}, nil
}

// Len returns the number of buffers currently queued.
func (r *Ring) Len() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}

// Cap returns the ring's capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// TryEnqueue places buf at the tail if there is room, returning false if
// the ring is full. Producer-only.
func (r *Ring) TryEnqueue(buf *StagingBuffer) bool {
	w := r.writeIdx.Load()
	if w-r.readIdx.Load() >= uint64(len(r.slots)) {
		return false
	}
	r.slots[w&r.mask] = buf
	r.writeIdx.Store(w + 1)
	return true
}

// TryDequeue removes and returns the buffer at the head, or nil if the
// ring is empty. Consumer-only.
func (r *Ring) TryDequeue() *StagingBuffer {
	rd := r.readIdx.Load()
	if r.writeIdx.Load() == rd {
		return nil
	}
	buf := r.slots[rd&r.mask]
	r.slots[rd&r.mask] = nil
	r.readIdx.Store(rd + 1)
	return buf
}

// DequeueBatch drains up to len(out) buffers in FIFO order, returning how
// many were filled in. Consumer-only. This is the writer's "dequeue up
// to pool_size full buffers in one batch" step of spec.md §4.2.
func (r *Ring) DequeueBatch(out []*StagingBuffer) int {
	n := 0
	for n < len(out) {
		buf := r.TryDequeue()
		if buf == nil {
			break
		}
		out[n] = buf
		n++
	}
	return n
}

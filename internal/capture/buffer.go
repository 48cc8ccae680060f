package capture

import (
	"fmt"

	"github.com/yanet-platform/linecap/internal/align"
)

// StagingBuffer is a large block-aligned scratch region into which
// packet records are packed before a single vectored write (spec.md §3).
// At any instant it is owned by exactly one of: the free ring, a capture
// worker, the full ring, or a writer worker. Lifetime spans the whole
// run; it is only ever reset, never freed, until shutdown.
type StagingBuffer struct {
	Data    []byte
	Offset  int
	Packets int
}

// NewStagingBuffer allocates a buffer of length bytes whose base address
// and length are aligned to blk (the disk logical block size).
func NewStagingBuffer(length, blk int) *StagingBuffer {
	return &StagingBuffer{Data: align.Buffer(length, blk)}
}

// Reset zeroes the offset and packet count so the buffer can be refilled.
// Called only by the writer once it has finished draining the buffer.
func (b *StagingBuffer) Reset() {
	b.Offset = 0
	b.Packets = 0
}

// Remaining returns the number of free bytes left in the buffer.
func (b *StagingBuffer) Remaining() int {
	return len(b.Data) - b.Offset
}

// Append copies src into the buffer at the current offset and advances
// it, returning an error if src would overflow the buffer. Callers are
// expected to have checked the watermark beforehand; this is a last-line
// guard against programmer error, not a steady-state path.
func (b *StagingBuffer) Append(src []byte) error {
	if len(src) > b.Remaining() {
		return fmt.Errorf("capture: staging buffer overflow: need %d, have %d", len(src), b.Remaining())
	}
	copy(b.Data[b.Offset:], src)
	b.Offset += len(src)
	return nil
}

// Pool is a fixed arena of StagingBuffers, the "small fixed pool (default
// 4)" of spec.md §2. It does not itself enforce ownership; ownership is
// encoded by which ring/worker currently holds a buffer's pointer.
type Pool struct {
	Buffers []*StagingBuffer
}

// NewPool allocates size buffers of the given length, block-aligned to blk.
func NewPool(size, length, blk int) *Pool {
	p := &Pool{Buffers: make([]*StagingBuffer, size)}
	for i := range p.Buffers {
		p.Buffers[i] = NewStagingBuffer(length, blk)
	}
	return p
}

package capture

import "sync/atomic"

// cacheLinePad is sized so each Stats value occupies its own cache line,
// avoiding false sharing between a capture worker's writes and a
// dashboard/summary goroutine's reads (spec.md §3: single-writer,
// many-reader, torn reads accepted).
const cacheLinePad = 64 - 7*8

// Stats holds the capture worker's counters. Only the owning worker
// writes to it; readers (periodic stats display, final summary) load
// fields directly and tolerate torn reads per spec.md §3.
type Stats struct {
	Packets     atomic.Uint64
	Bytes       atomic.Uint64
	PauseFrames atomic.Uint64
	Idle        atomic.Uint64
	Handoffs    atomic.Uint64
	Overruns    atomic.Uint64
	Errors      atomic.Uint64
	_           [cacheLinePad]byte
}

// Snapshot is a point-in-time copy of Stats suitable for logging or
// serialization, since Stats itself is not copyable (contains atomics).
type Snapshot struct {
	Packets     uint64
	Bytes       uint64
	PauseFrames uint64
	Idle        uint64
	Handoffs    uint64
	Overruns    uint64
	Errors      uint64
}

// Load returns a torn-read-tolerant snapshot of s.
func (s *Stats) Load() Snapshot {
	return Snapshot{
		Packets:     s.Packets.Load(),
		Bytes:       s.Bytes.Load(),
		PauseFrames: s.PauseFrames.Load(),
		Idle:        s.Idle.Load(),
		Handoffs:    s.Handoffs.Load(),
		Overruns:    s.Overruns.Load(),
		Errors:      s.Errors.Load(),
	}
}

package writer

import "sync/atomic"

const cacheLinePad = 64 - 4*8

// Stats holds the writer worker's counters. Only the owning worker
// writes to it; readers tolerate torn reads, matching capture.Stats.
type Stats struct {
	Packets   atomic.Uint64
	Bytes     atomic.Uint64
	Rotations atomic.Uint64
	Errors    atomic.Uint64
	_         [cacheLinePad]byte
}

// Snapshot is a point-in-time copy suitable for logging.
type Snapshot struct {
	Packets   uint64
	Bytes     uint64
	Rotations uint64
	Errors    uint64
}

// Load returns a torn-read-tolerant snapshot of s.
func (s *Stats) Load() Snapshot {
	return Snapshot{
		Packets:   s.Packets.Load(),
		Bytes:     s.Bytes.Load(),
		Rotations: s.Rotations.Load(),
		Errors:    s.Errors.Load(),
	}
}

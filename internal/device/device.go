// Package device defines the contract a poll-mode NIC driver must satisfy
// for the capture core to drive it (spec.md §4.5). Exact driver mechanics
// (DMA, descriptor rings, device registers) are external to this core and
// are not implemented here; this package gives the contract a runnable
// body via the software reference implementation in device/software.
package device

import (
	"context"
	"net"
)

// jumboMTU is 0x2600 minus Ethernet overhead, per spec.md §4.5.
const jumboMTU = 0x2600 - 18

// DefaultDescriptorDepth is used for any port the -d descriptor matrix
// (spec.md §6.3) does not explicitly size.
const DefaultDescriptorDepth = 1024

// Frame is one received Ethernet frame, possibly backed by multiple
// driver-owned segments (scatter receive).
type Frame interface {
	// Segments returns the frame's bytes as an ordered list of chunks.
	// A non-segmented frame returns a single-element slice.
	Segments() [][]byte
	// Len returns the frame's total length across all segments.
	Len() int
	// HardwareTimestamp returns the 12-byte big-endian trailer appended
	// by hardware-timestamping NICs, and whether one is present.
	HardwareTimestamp() ([12]byte, bool)
	// Release returns the frame's backing mbuf(s) to the driver.
	Release()
}

// RxQueue is one NIC receive queue, driven by exactly one capture worker.
type RxQueue interface {
	// Burst polls for up to len(frames) received frames, returning how
	// many were filled in. hwTimestamps reports whether the queue's
	// NIC exposes a hardware timestamp source (spec.md §4.1 step 2).
	Burst(ctx context.Context, frames []Frame) (n int, hwTimestamps bool)
}

// TxQueue is one NIC transmit queue, used only for PAUSE-frame emission
// by the capture worker sharing its index (spec.md §4.4).
type TxQueue interface {
	// TransmitBurst attempts to transmit every frame in burst, returning
	// the number of frames the driver actually consumed.
	TransmitBurst(burst [][]byte) (sent int)
}

// Port is one bound, configured NIC port.
type Port interface {
	MAC() net.HardwareAddr
	MTU() int
	RxQueue(idx int) RxQueue
	TxQueue(idx int) TxQueue
	NumQueues() int
	// FlowControlEnabled reports whether this port was brought up with
	// MAC-control forwarding and full-duplex flow control (spec.md §4.5).
	FlowControlEnabled() bool
	Close() error
}

// Config describes the bring-up parameters for a single port, matching
// the contract of spec.md §4.5.
type Config struct {
	// RxQueues is the number of receive queues to provision. RSS across
	// UDP/TCP fields is enabled automatically when RxQueues > 1.
	RxQueues int
	// DescriptorDepth is the per-queue RX descriptor ring depth.
	DescriptorDepth int
	// Snaplen bounds MTU configuration; this system never truncates.
	Snaplen int
	// FlowControl enables PAUSE-frame-based back-pressure (spec.md §4.4).
	FlowControl bool
	// DropOnFull, when true, sets rx_drop_en: incoming frames are
	// dropped by the NIC instead of queued when descriptors are
	// exhausted. Flow control requires this to be false (spec.md §4.4).
	DropOnFull bool
}

// Validate checks the bring-up parameters are internally consistent.
func (c Config) Validate() error {
	if c.RxQueues < 1 {
		return errInvalidQueues
	}
	if c.DescriptorDepth < 1 {
		return errInvalidDescriptors
	}
	if c.FlowControl && c.DropOnFull {
		return errFlowControlNeedsNoDrop
	}
	return nil
}

// EffectiveMTU returns the jumbo MTU bring-up targets, which always
// dominates any configured snaplen since this system does not truncate.
func (c Config) EffectiveMTU() int {
	if c.Snaplen > 0 && c.Snaplen < jumboMTU {
		return jumboMTU // snaplen bounds configuration, not capture; MTU stays jumbo.
	}
	return jumboMTU
}

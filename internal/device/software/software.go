// Package software implements device.Port without any real hardware: a
// mutex-guarded in-memory queue standing in for the poll-mode driver of spec.md §4.5.
// It is the collaborator used by every capture/writer test and by the
// engine when no real DPDK-class driver is configured.
package software

import (
	"context"
	"net"
	"sync"

	"github.com/yanet-platform/linecap/internal/device"
)

// Frame is a software-owned frame: a list of byte segments (to exercise
// scatter reassembly) and an optional hardware-timestamp trailer.
type Frame struct {
	segs    [][]byte
	hwStamp [12]byte
	hasHW   bool
	release func()
}

// NewFrame builds a single-segment frame.
func NewFrame(data []byte) *Frame {
	return &Frame{segs: [][]byte{data}}
}

// NewSegmentedFrame builds a frame backed by multiple segments, in order.
func NewSegmentedFrame(segs ...[]byte) *Frame {
	cp := make([][]byte, len(segs))
	copy(cp, segs)
	return &Frame{segs: cp}
}

// WithHardwareTimestamp attaches a 12-byte big-endian trailer to the
// frame's reported hardware timestamp.
func (f *Frame) WithHardwareTimestamp(trailer [12]byte) *Frame {
	f.hwStamp = trailer
	f.hasHW = true
	return f
}

func (f *Frame) Segments() [][]byte { return f.segs }

func (f *Frame) Len() int {
	n := 0
	for _, s := range f.segs {
		n += len(s)
	}
	return n
}

func (f *Frame) HardwareTimestamp() ([12]byte, bool) { return f.hwStamp, f.hasHW }

func (f *Frame) Release() {
	if f.release != nil {
		f.release()
	}
}

// Queue is a software RX/TX queue pair backed by an in-memory FIFO of
// frames, fed by test code or a traffic generator via Enqueue.
type Queue struct {
	mu            sync.Mutex
	pending       []*Frame
	hwTimestamps  bool
	transmitted   [][]byte
	txAcceptLimit int // simulates partial driver consumption of a PAUSE burst; 0 = unlimited
}

// NewQueue creates an empty software queue. hwTimestamps controls
// whether Burst reports a hardware timestamp source.
func NewQueue(hwTimestamps bool) *Queue {
	return &Queue{hwTimestamps: hwTimestamps}
}

// Enqueue appends frames to the queue's receive backlog.
func (q *Queue) Enqueue(frames ...*Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, frames...)
}

// Burst implements device.RxQueue.
func (q *Queue) Burst(_ context.Context, frames []device.Frame) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(frames), len(q.pending))
	for i := 0; i < n; i++ {
		frames[i] = q.pending[i]
	}
	q.pending = q.pending[n:]
	return n, q.hwTimestamps
}

// SetTxAcceptLimit bounds how many frames TransmitBurst accepts per
// call; 0 means unlimited. Used to exercise the PAUSE burst-refill path.
func (q *Queue) SetTxAcceptLimit(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.txAcceptLimit = n
}

// TransmitBurst implements device.TxQueue.
func (q *Queue) TransmitBurst(burst [][]byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := len(burst)
	if q.txAcceptLimit > 0 && q.txAcceptLimit < limit {
		limit = q.txAcceptLimit
	}
	for i := 0; i < limit; i++ {
		cp := make([]byte, len(burst[i]))
		copy(cp, burst[i])
		q.transmitted = append(q.transmitted, cp)
	}
	return limit
}

// Transmitted returns every frame accepted by TransmitBurst so far.
func (q *Queue) Transmitted() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.transmitted))
	copy(out, q.transmitted)
	return out
}

// Port is the software reference device.Port.
type Port struct {
	mac         net.HardwareAddr
	mtu         int
	rx          []*Queue
	tx          []*Queue
	flowControl bool
}

// Bringup configures a software port per cfg, recording the jumbo MTU and
// the flow-control setting of spec.md §4.5 as introspectable fields (MTU,
// FlowControlEnabled) rather than real NIC register writes. Promiscuous
// mode, scatter offload and RSS are not modeled.
func Bringup(mac net.HardwareAddr, cfg device.Config) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Port{
		mac:         mac,
		mtu:         cfg.EffectiveMTU(),
		flowControl: cfg.FlowControl,
	}
	for i := 0; i < cfg.RxQueues; i++ {
		p.rx = append(p.rx, NewQueue(false))
		p.tx = append(p.tx, NewQueue(false))
	}
	return p, nil
}

func (p *Port) MAC() net.HardwareAddr { return p.mac }
func (p *Port) MTU() int              { return p.mtu }
func (p *Port) NumQueues() int        { return len(p.rx) }

func (p *Port) RxQueue(idx int) device.RxQueue { return p.rx[idx] }
func (p *Port) TxQueue(idx int) device.TxQueue { return p.tx[idx] }

// SoftwareRxQueue exposes the concrete queue for test-side Enqueue calls.
func (p *Port) SoftwareRxQueue(idx int) *Queue { return p.rx[idx] }
func (p *Port) SoftwareTxQueue(idx int) *Queue { return p.tx[idx] }

func (p *Port) FlowControlEnabled() bool { return p.flowControl }

func (p *Port) Close() error { return nil }

package capture

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/linecap/internal/align"
	"github.com/yanet-platform/linecap/internal/device"
	"github.com/yanet-platform/linecap/internal/pcapfile"
)

// shutdownEnqueueAttempts bounds the spin at shutdown that hands the
// final, padded buffer to the writer. It mirrors the writer's own
// shutdown-drain bound (spec.md §4.2) rather than spinning forever.
const shutdownEnqueueAttempts = 10_000_000

// WorkerConfig configures one capture worker's steady-state behavior,
// matching the CLI surface of spec.md §6.3.
type WorkerConfig struct {
	BurstSize   int
	MbufSize    int
	BlockSize   int
	IdleTimeout time.Duration
	FlowControl bool
}

// Worker drains one NIC receive queue and serializes frames into staging
// buffers for the writer, per spec.md §4.1.
type Worker struct {
	cfg WorkerConfig

	rx device.RxQueue
	tx device.TxQueue

	freeRing *Ring
	fullRing *Ring

	stats *Stats
	stop  *atomic.Bool
	log   *zap.SugaredLogger

	pause *pauseEmitter

	current      *StagingBuffer
	recordStarts []int

	now func() time.Time
}

// NewWorker constructs a capture worker. pauseSrcMAC supplies the port's
// MAC, used to build the PAUSE template when cfg.FlowControl is set.
func NewWorker(
	cfg WorkerConfig,
	rx device.RxQueue,
	tx device.TxQueue,
	freeRing, fullRing *Ring,
	stats *Stats,
	stop *atomic.Bool,
	log *zap.SugaredLogger,
	pauseSrcMAC pauseSource,
) *Worker {
	w := &Worker{
		cfg:      cfg,
		rx:       rx,
		tx:       tx,
		freeRing: freeRing,
		fullRing: fullRing,
		stats:    stats,
		stop:     stop,
		log:      log,
		now:      time.Now,
	}
	if cfg.FlowControl && tx != nil {
		w.pause = newPauseEmitter(tx, pauseSrcMAC.MAC(), defaultBurstLen, 0)
	}
	return w
}

// pauseSource supplies the MAC address stamped into PAUSE frames; it is
// satisfied by device.Port.
type pauseSource interface {
	MAC() net.HardwareAddr
}

// Run drives the steady-state loop until stop is observed, then performs
// the shutdown flush (spec.md §4.1).
func (w *Worker) Run(ctx context.Context) error {
	if w.current == nil {
		w.current = w.spinDequeueFree()
		if w.current == nil {
			return nil // stop observed before we ever acquired a buffer
		}
	}

	frames := make([]device.Frame, w.cfg.BurstSize)
	var idleSince time.Time

	for !w.stop.Load() {
		select {
		case <-ctx.Done():
			w.stop.Store(true)
			continue
		default:
		}

		n, hwTimestamps := w.rx.Burst(ctx, frames)

		var burstTime time.Time
		if !hwTimestamps {
			burstTime = w.now()
		}

		if n == 0 {
			w.stats.Idle.Add(1)
			if idleSince.IsZero() {
				idleSince = w.now()
			}
		} else {
			idleSince = time.Time{}
			for i := 0; i < n; i++ {
				w.ingest(frames[i], hwTimestamps, burstTime)
			}
		}

		if w.shouldHandoff(idleSince) {
			w.handoff()
			if w.current == nil {
				break // stop observed mid-handoff with no buffer left to fill
			}
		}
	}

	w.shutdown()
	return nil
}

// ingest appends one frame's PacketRecord to the held staging buffer,
// per spec.md §4.1 step 3.
func (w *Worker) ingest(frame device.Frame, hwTimestamps bool, burstTime time.Time) {
	recordStart := w.current.Offset
	total := frame.Len()

	hdr := pcapfile.PacketHeader{
		CapturedLength: uint32(total),
		WireLength:     uint32(total),
	}

	if hwTimestamps {
		if trailer, ok := frame.HardwareTimestamp(); ok {
			hdr.Seconds = binary.BigEndian.Uint32(trailer[0:4])
			hdr.Nanoseconds = binary.BigEndian.Uint32(trailer[4:8])
		} else {
			hdr.Seconds = uint32(burstTime.Unix())
			hdr.Nanoseconds = uint32(burstTime.Nanosecond())
		}
	} else {
		hdr.Seconds = uint32(burstTime.Unix())
		hdr.Nanoseconds = uint32(burstTime.Nanosecond())
	}

	hb := hdr.Marshal()
	if err := w.current.Append(hb[:]); err != nil {
		w.stats.Errors.Add(1)
		frame.Release()
		return
	}
	for _, seg := range frame.Segments() {
		if err := w.current.Append(seg); err != nil {
			w.stats.Errors.Add(1)
			frame.Release()
			return
		}
	}

	w.current.Packets++
	w.recordStarts = append(w.recordStarts, recordStart)
	w.stats.Packets.Add(1)
	w.stats.Bytes.Add(uint64(pcapfile.PacketHeaderSize + total))

	frame.Release()
}

// shouldHandoff implements the watermark check of spec.md §4.1 step 5.
func (w *Worker) shouldHandoff(idleSince time.Time) bool {
	buf := w.current
	watermark := len(buf.Data) - w.cfg.BurstSize*w.cfg.MbufSize
	if buf.Offset > watermark {
		return true
	}
	if !idleSince.IsZero() && buf.Offset >= w.cfg.BlockSize {
		if w.now().Sub(idleSince) > w.cfg.IdleTimeout {
			return true
		}
	}
	return false
}

// handoff implements spec.md §4.1's handoff protocol: round down to a
// block boundary, stash the unaligned tail, enqueue to the writer, and
// acquire a fresh buffer, carrying the tail forward.
func (w *Worker) handoff() {
	buf := w.current
	blk := w.cfg.BlockSize

	aligned := align.Down(buf.Offset, blk)
	overrunLen := buf.Offset - aligned
	var overrunBytes []byte
	if overrunLen > 0 {
		overrunBytes = append([]byte(nil), buf.Data[aligned:buf.Offset]...)
	}

	overrunCount := 0
	for i := len(w.recordStarts) - 1; i >= 0; i-- {
		if w.recordStarts[i] >= aligned {
			overrunCount++
		} else {
			break
		}
	}

	origOffset, origPackets := buf.Offset, buf.Packets
	buf.Offset = aligned
	buf.Packets = origPackets - overrunCount

	if !w.spinEnqueueFull(buf) {
		// Stop observed mid-spin: restore state and leave buf held so
		// the shutdown path can flush it, block-alignment rules aside.
		buf.Offset, buf.Packets = origOffset, origPackets
		w.current = buf
		return
	}
	w.stats.Handoffs.Add(1)

	fresh := w.spinDequeueFree()
	if fresh == nil {
		w.current = nil
		return
	}
	w.recordStarts = w.recordStarts[:0]

	if overrunLen > 0 {
		copy(fresh.Data, overrunBytes)
		fresh.Offset = overrunLen
		fresh.Packets = overrunCount
		w.stats.Overruns.Add(1)
	} else {
		fresh.Reset()
	}
	w.current = fresh
}

// shutdown implements spec.md §4.1's shutdown sequence: pad the held
// buffer to a block boundary (if it has content) and hand it to the
// writer.
func (w *Worker) shutdown() {
	buf := w.current
	if buf == nil || buf.Offset == 0 {
		return
	}

	blk := w.cfg.BlockSize
	rem := buf.Offset % blk
	underrun := 0
	if rem != 0 {
		underrun = blk - rem
	}

	if underrun > 0 {
		if underrun > pcapfile.PacketHeaderSize {
			if pad, err := pcapfile.PadPacket(underrun); err == nil {
				copy(buf.Data[buf.Offset:buf.Offset+underrun], pad)
			} else {
				zeroFill(buf.Data[buf.Offset : buf.Offset+underrun])
			}
		} else {
			zeroFill(buf.Data[buf.Offset : buf.Offset+underrun])
		}
		buf.Offset += underrun
	}

	for attempt := 0; attempt < shutdownEnqueueAttempts; attempt++ {
		if w.fullRing.TryEnqueue(buf) {
			return
		}
	}
	w.stats.Errors.Add(1)
	w.log.Errorw("shutdown: full ring did not drain in time, final buffer dropped")
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// spinEnqueueFull enqueues buf into the full ring, transmitting PAUSE
// bursts while blocked if flow control is enabled, and honoring the stop
// flag as a spin-exit (spec.md §4.1's handoff protocol step 2).
func (w *Worker) spinEnqueueFull(buf *StagingBuffer) bool {
	for {
		if w.fullRing.TryEnqueue(buf) {
			return true
		}
		if w.stop.Load() {
			return false
		}
		if w.pause != nil {
			sent := w.pause.EmitBurst()
			w.stats.PauseFrames.Add(uint64(sent))
		}
	}
}

// spinDequeueFree dequeues a fresh buffer from the free ring, with the
// same PAUSE-on-block and stop-flag policy as spinEnqueueFull (spec.md
// §4.1's handoff protocol step 3).
func (w *Worker) spinDequeueFree() *StagingBuffer {
	for {
		if buf := w.freeRing.TryDequeue(); buf != nil {
			return buf
		}
		if w.stop.Load() {
			return nil
		}
		if w.pause != nil {
			sent := w.pause.EmitBurst()
			w.stats.PauseFrames.Add(uint64(sent))
		}
	}
}

package capture

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/linecap/internal/device"
	"github.com/yanet-platform/linecap/internal/device/software"
	"github.com/yanet-platform/linecap/internal/pcapfile"
)

const testBlockSize = 512

type testRig struct {
	worker   *Worker
	rx       *software.Queue
	tx       *software.Queue
	freeRing *Ring
	fullRing *Ring
	pool     *Pool
	stop     *atomic.Bool
	stats    *Stats
}

func newTestRig(t *testing.T, poolSize, bufLen int, flowControl bool) *testRig {
	t.Helper()

	pool := NewPool(poolSize, bufLen, testBlockSize)
	freeRing, err := NewRing(2 * poolSize)
	require.NoError(t, err)
	fullRing, err := NewRing(2 * poolSize)
	require.NoError(t, err)
	for _, b := range pool.Buffers {
		require.True(t, freeRing.TryEnqueue(b))
	}

	port, err := software.Bringup(net.HardwareAddr{0, 1, 2, 3, 4, 5}, device.Config{
		RxQueues:        1,
		DescriptorDepth: 128,
		FlowControl:     flowControl,
	})
	require.NoError(t, err)

	stats := &Stats{}
	var stop atomic.Bool
	cfg := WorkerConfig{
		BurstSize:   8,
		MbufSize:    256,
		BlockSize:   testBlockSize,
		IdleTimeout: 20 * time.Millisecond,
		FlowControl: flowControl,
	}
	w := NewWorker(cfg, port.RxQueue(0), port.TxQueue(0), freeRing, fullRing, stats, &stop, zaptest.NewLogger(t).Sugar(), port)

	return &testRig{
		worker:   w,
		rx:       port.SoftwareRxQueue(0),
		tx:       port.SoftwareTxQueue(0),
		freeRing: freeRing,
		fullRing: fullRing,
		pool:     pool,
		stop:     &stop,
		stats:    stats,
	}
}

func TestIngestWritesWellFormedRecord(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)
	rig.worker.current = rig.freeRing.TryDequeue()
	require.NotNil(t, rig.worker.current)

	frame := software.NewFrame([]byte("hello world"))
	rig.worker.ingest(frame, false, time.Unix(100, 200))

	buf := rig.worker.current
	assert.Equal(t, 1, buf.Packets)
	require.Equal(t, pcapfile.PacketHeaderSize+len("hello world"), buf.Offset)

	hdr, err := pcapfile.UnmarshalPacketHeader(buf.Data[:pcapfile.PacketHeaderSize])
	require.NoError(t, err)
	assert.EqualValues(t, len("hello world"), hdr.CapturedLength)
	assert.Equal(t, hdr.CapturedLength, hdr.WireLength)
	assert.Equal(t, "hello world", string(buf.Data[pcapfile.PacketHeaderSize:buf.Offset]))
}

func TestIngestReassemblesSegmentedFrame(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)
	rig.worker.current = rig.freeRing.TryDequeue()

	frame := software.NewSegmentedFrame([]byte("abcd"), []byte("efgh"))
	rig.worker.ingest(frame, false, time.Now())

	buf := rig.worker.current
	got := buf.Data[pcapfile.PacketHeaderSize:buf.Offset]
	assert.Equal(t, "abcdefgh", string(got))
}

func TestHandoffAlignsToBlockBoundaryAndCarriesOverrun(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)
	rig.worker.current = rig.freeRing.TryDequeue()

	// Write enough records that offset is not block-aligned.
	payload := make([]byte, 100)
	for i := 0; i < 6; i++ {
		rig.worker.ingest(software.NewFrame(payload), false, time.Now())
	}
	require.NotZero(t, rig.worker.current.Offset%testBlockSize)

	rig.worker.handoff()
	require.NotNil(t, rig.worker.current)

	full := rig.fullRing.TryDequeue()
	require.NotNil(t, full)
	assert.Zero(t, full.Offset%testBlockSize, "handed-off buffer must be block-aligned")

	// The new current buffer should hold whatever didn't fit before the
	// aligned boundary: 6*(16+100) = 696 bytes, aligned down to 512.
	assert.Equal(t, 6*(pcapfile.PacketHeaderSize+100)-testBlockSize, rig.worker.current.Offset)
}

func TestHandoffNoOverrunWhenAlreadyAligned(t *testing.T) {
	rig := newTestRig(t, 4, testBlockSize, false)
	rig.worker.current = rig.freeRing.TryDequeue()
	rig.worker.current.Offset = testBlockSize
	rig.worker.current.Packets = 3

	rig.worker.handoff()

	full := rig.fullRing.TryDequeue()
	require.NotNil(t, full)
	assert.Equal(t, testBlockSize, full.Offset)
	assert.Equal(t, 0, rig.worker.current.Offset, "no overrun means fresh buffer starts empty")
}

func TestShutdownWithEmptyBufferWritesNothing(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)
	rig.worker.current = rig.freeRing.TryDequeue()
	rig.stop.Store(true)

	rig.worker.shutdown()

	assert.Nil(t, rig.fullRing.TryDequeue(), "an empty buffer at shutdown produces no additional write")
}

func TestShutdownPadsToBlockBoundary(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)
	rig.worker.current = rig.freeRing.TryDequeue()
	rig.worker.ingest(software.NewFrame([]byte("x")), false, time.Now())
	rig.stop.Store(true)

	rig.worker.shutdown()

	full := rig.fullRing.TryDequeue()
	require.NotNil(t, full)
	assert.Zero(t, full.Offset%testBlockSize)
}

func TestFlowControlEmitsPauseWhenBlocked(t *testing.T) {
	rig := newTestRig(t, 1, testBlockSize, true)
	rig.worker.current = rig.freeRing.TryDequeue()
	rig.worker.current.Offset = testBlockSize // aligned, full

	// Leave the free ring empty and the full ring completely full so both
	// the handoff's enqueue and (if reached) dequeue spins block.
	for rig.fullRing.Len() < rig.fullRing.Cap() {
		require.True(t, rig.fullRing.TryEnqueue(&StagingBuffer{Offset: testBlockSize}))
	}

	done := make(chan struct{})
	go func() {
		rig.worker.handoff()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, rig.stats.PauseFrames.Load(), uint64(0))

	rig.stop.Store(true)
	<-done
}

func TestRunHonorsContextCancellation(t *testing.T) {
	rig := newTestRig(t, 4, 4096, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

// Package engine is the supervisor of spec.md §5: it provisions one
// capture+writer pipeline per (port, queue), pins each worker to its own
// core, and joins them all at shutdown, aggregating errors the way the
// teacher's coordinator package joins its per-module workers.
package engine

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/linecap/internal/affinity"
	"github.com/yanet-platform/linecap/internal/blocksize"
	"github.com/yanet-platform/linecap/internal/capture"
	"github.com/yanet-platform/linecap/internal/config"
	"github.com/yanet-platform/linecap/internal/device"
	"github.com/yanet-platform/linecap/internal/device/software"
	"github.com/yanet-platform/linecap/internal/writer"
)

// StopFlag is the single process-wide shutdown signal (spec.md §5),
// set when the context passed to Engine.Run is canceled (cmd/linecap
// cancels it on SIGINT/SIGTERM) or by Stop, and observed by every
// capture and writer worker's spin loops.
type StopFlag = atomic.Bool

// defaultIdleTimeout is the capture worker's idle-to-handoff threshold
// (spec.md §4.1 step 5); spec.md names no corresponding CLI flag, so this
// is a fixed constant rather than a configuration surface.
const defaultIdleTimeout = 100 * time.Millisecond

// pipeline is one (port, queue)'s capture worker, writer worker, and the
// rings and stats connecting them.
type pipeline struct {
	port, queue int

	captureCore int
	writerCore  int

	captureWorker *capture.Worker
	writerWorker  *writer.Writer

	captureStats *capture.Stats
	writerStats  *writer.Stats
}

// Engine owns every provisioned pipeline and the ports backing them.
type Engine struct {
	cfg  *config.Config
	log  *zap.SugaredLogger
	stop *StopFlag

	ports     map[int]device.Port
	pipelines []*pipeline
}

// New provisions one port per cfg.Ports() and one pipeline per its
// cfg.QueuesPerPort receive queues, matching spec.md §4.5's bring-up
// sequence. Ports are brought up via the software reference
// implementation (internal/device/software): this repository defines the
// poll-mode driver contract but talks to no physical NIC.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		log:   log,
		stop:  new(StopFlag),
		ports: make(map[int]device.Port),
	}

	blockSize := discoverBlockSize(cfg.OutputTemplate)

	nextCore := 0
	for _, port := range cfg.Ports() {
		portCfg, descriptorDepth := cfg.ForPort(port)

		devCfg := device.Config{
			RxQueues:        portCfg.QueuesPerPort,
			DescriptorDepth: descriptorDepth,
			Snaplen:         portCfg.Snaplen,
			FlowControl:     portCfg.FlowControl,
			DropOnFull:      !portCfg.FlowControl,
		}
		devPort, err := software.Bringup(syntheticMAC(port), devCfg)
		if err != nil {
			return nil, fmt.Errorf("engine: bringing up port %d: %w", port, err)
		}
		e.ports[port] = devPort

		for queue := 0; queue < portCfg.QueuesPerPort; queue++ {
			p, err := e.buildPipeline(portCfg, port, queue, devPort, blockSize, nextCore, log)
			if err != nil {
				return nil, err
			}
			e.pipelines = append(e.pipelines, p)
			nextCore += 2
		}
	}

	return e, nil
}

func (e *Engine) buildPipeline(
	cfg *config.Config,
	port, queue int,
	devPort device.Port,
	blockSize, coreBase int,
	log *zap.SugaredLogger,
) (*pipeline, error) {
	freeRing, err := capture.NewRing(ringCapacity(cfg.PoolSize))
	if err != nil {
		return nil, fmt.Errorf("engine: port %d queue %d: %w", port, queue, err)
	}
	fullRing, err := capture.NewRing(ringCapacity(cfg.PoolSize))
	if err != nil {
		return nil, fmt.Errorf("engine: port %d queue %d: %w", port, queue, err)
	}

	pool := capture.NewPool(cfg.PoolSize, int(cfg.BufferLength), blockSize)
	for _, buf := range pool.Buffers {
		if !freeRing.TryEnqueue(buf) {
			return nil, fmt.Errorf("engine: port %d queue %d: free ring rejected initial pool", port, queue)
		}
	}

	captureStats := &capture.Stats{}
	writerStats := &writer.Stats{}

	captureCore := coreBase
	writerCore := coreBase + 1

	workerLog := log.With("port", port, "queue", queue, "role", "capture")
	worker := capture.NewWorker(
		capture.WorkerConfig{
			BurstSize:   cfg.BurstSize,
			MbufSize:    int(cfg.MbufSize),
			BlockSize:   blockSize,
			IdleTimeout: defaultIdleTimeout,
			FlowControl: cfg.FlowControl,
		},
		devPort.RxQueue(queue),
		devPort.TxQueue(queue),
		freeRing, fullRing,
		captureStats,
		e.stop,
		workerLog,
		devPort,
	)

	writerLog := log.With("port", port, "queue", queue, "role", "writer")
	wr := writer.NewWriter(
		writer.Config{
			Template:      cfg.OutputTemplate,
			CoreID:        writerCore,
			PoolSize:      cfg.PoolSize,
			BlockSize:     blockSize,
			Snaplen:       uint32(cfg.Snaplen),
			RotateSeconds: cfg.RotateSeconds,
			FileSizeLimit: int64(cfg.FileSizeLimit),
		},
		fullRing, freeRing,
		writerStats,
		e.stop,
		writerLog,
		nil, nil,
	)

	return &pipeline{
		port:          port,
		queue:         queue,
		captureCore:   captureCore,
		writerCore:    writerCore,
		captureWorker: worker,
		writerWorker:  wr,
		captureStats:  captureStats,
		writerStats:   writerStats,
	}, nil
}

// Run starts every pipeline's capture and writer goroutines, plus an
// optional periodic stats display (spec.md §6.3's -S flag), and blocks
// until ctx is canceled and every worker has returned. Worker setup/
// runtime errors are joined via errgroup, which propagates the first one.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range e.pipelines {
		p := p
		g.Go(func() error {
			if err := affinity.Pin(p.captureCore); err != nil {
				e.log.Warnw("affinity pin failed, continuing unpinned", "core", p.captureCore, "error", err)
			}
			return p.captureWorker.Run(ctx)
		})
		g.Go(func() error {
			if err := affinity.Pin(p.writerCore); err != nil {
				e.log.Warnw("affinity pin failed, continuing unpinned", "core", p.writerCore, "error", err)
			}
			return p.writerWorker.Run()
		})
	}

	if e.cfg.StatsDisplay {
		g.Go(func() error {
			e.displayStats(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		e.stop.Store(true)
		return nil
	})

	return g.Wait()
}

// Stop signals every worker to begin its shutdown sequence.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// Close releases every provisioned port, aggregating per-port errors via
// multierr the way the teacher's coordinator closes its modules.
func (e *Engine) Close() error {
	var err error
	for port, devPort := range e.ports {
		if cerr := devPort.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("engine: closing port %d: %w", port, cerr))
		}
	}
	return err
}

// displayStats logs a periodic aggregate snapshot across every pipeline
// until ctx is canceled, the behavior of spec.md §6.3's -S flag.
func (e *Engine) displayStats(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range e.pipelines {
				cs := p.captureStats.Load()
				ws := p.writerStats.Load()
				e.log.Infow("pipeline stats",
					"port", p.port, "queue", p.queue,
					"rx_packets", cs.Packets, "rx_bytes", cs.Bytes,
					"handoffs", cs.Handoffs, "overruns", cs.Overruns,
					"pause_frames", cs.PauseFrames, "capture_errors", cs.Errors,
					"written_packets", ws.Packets, "written_bytes", ws.Bytes,
					"rotations", ws.Rotations, "write_errors", ws.Errors,
				)
			}
		}
	}
}

// ringCapacity returns the smallest power of two at least 2x poolSize, so
// the ring's head and tail indices never alias while every pool buffer is
// simultaneously in flight (spec.md §3's ring-sizing invariant).
func ringCapacity(poolSize int) int {
	capacity := 2
	for capacity < poolSize*2 {
		capacity <<= 1
	}
	return capacity
}

// discoverBlockSize resolves the disk logical block size (spec.md §6.4)
// from the output template's directory component, falling back to "."
// when the template is a bare filename.
func discoverBlockSize(template string) int {
	dir := filepath.Dir(template)
	return blocksize.Discover(dir)
}

// syntheticMAC derives a stable locally-administered MAC for a software
// port, used only to seed PAUSE-frame source addresses (spec.md §4.4);
// there is no physical NIC to read a burned-in address from.
func syntheticMAC(port int) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(port)}
}

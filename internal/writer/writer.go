package writer

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/linecap/internal/capture"
	"github.com/yanet-platform/linecap/internal/iodirect"
)

// shutdownDrainAttempts bounds how many consecutive empty dequeues the
// writer tolerates after observing stop before closing, per spec.md
// §4.2's "large fixed bound (≈10⁷)" heuristic.
const shutdownDrainAttempts = 10_000_000

// Config configures one writer worker, matching spec.md §6.3's CLI
// surface for the pieces that govern the writer (template, pool size,
// rotation thresholds, block size, snaplen).
type Config struct {
	Template      string
	CoreID        int
	PoolSize      int
	BlockSize     int
	Snaplen       uint32
	RotateSeconds time.Duration
	FileSizeLimit int64 // 0 disables size-based rotation
}

// Writer consumes full StagingBuffers and writes them to disk, rotating
// files by time and size, per spec.md §4.2.
type Writer struct {
	cfg Config

	fullRing *capture.Ring
	freeRing *capture.Ring

	stats *Stats
	stop  *atomic.Bool
	log   *zap.SugaredLogger

	openDirect   openFunc
	openBuffered openFunc
	now          func() time.Time

	current   *outputFile
	fileCount int
	fileStart time.Time
}

// NewWriter constructs a writer worker. openDirect/openBuffered are
// injected so tests can exercise rotation and the buffered-mode
// downgrade without a real filesystem; pass nil for both to use
// iodirect.OpenDirect/iodirect.OpenBuffered.
func NewWriter(
	cfg Config,
	fullRing, freeRing *capture.Ring,
	stats *Stats,
	stop *atomic.Bool,
	log *zap.SugaredLogger,
	openDirect, openBuffered openFunc,
) *Writer {
	if openDirect == nil {
		openDirect = iodirect.OpenDirect
	}
	if openBuffered == nil {
		openBuffered = iodirect.OpenBuffered
	}
	return &Writer{
		cfg:          cfg,
		fullRing:     fullRing,
		freeRing:     freeRing,
		stats:        stats,
		stop:         stop,
		log:          log,
		openDirect:   openDirect,
		openBuffered: openBuffered,
		now:          time.Now,
	}
}

// Run drives the writer's steady-state loop until stop is observed, then
// drains in-flight buffers for a bounded number of attempts before
// closing the current file, per spec.md §4.2.
func (w *Writer) Run() error {
	w.fileStart = w.now()
	filename := w.renderCurrentFilename()
	of, err := openOutputFile(filename, w.cfg.BlockSize, w.cfg.Snaplen, w.openDirect, w.openBuffered)
	if err != nil {
		return err
	}
	if !of.direct {
		w.log.Warnw("direct I/O unavailable, downgrading to buffered writes", "path", filename)
	}
	w.current = of

	batch := make([]*capture.StagingBuffer, w.cfg.PoolSize)
	emptyStreak := 0

	for {
		if w.stop.Load() && emptyStreak > shutdownDrainAttempts {
			break
		}

		n := w.fullRing.DequeueBatch(batch)
		if n == 0 {
			if w.stop.Load() {
				emptyStreak++
			}
			continue
		}
		emptyStreak = 0
		w.processBatch(batch[:n])
		w.maybeRotate()
	}

	return w.current.close()
}

// processBatch implements spec.md §4.2 steps 2-5: build a scatter-gather
// vector, issue one vectored write, recycle the buffers, and count the
// result into stats regardless of error (writer errors never abort
// capture, spec.md §7).
func (w *Writer) processBatch(bufs []*capture.StagingBuffer) {
	vecs := make([][]byte, len(bufs))
	for i, b := range bufs {
		vecs[i] = b.Data[:b.Offset]
		w.stats.Packets.Add(uint64(b.Packets))
	}

	written, err := w.current.f.Writev(vecs)
	w.current.size += written
	w.stats.Bytes.Add(uint64(written))
	if err != nil {
		w.stats.Errors.Add(1)
		w.log.Errorw("vectored write failed, continuing", "error", err)
	}

	for _, b := range bufs {
		b.Reset()
		w.spinEnqueueFree(b)
	}
}

// spinEnqueueFree recycles buf into the free ring, honoring the stop
// flag as a spin-exit per spec.md §4.2 step 4.
func (w *Writer) spinEnqueueFree(buf *capture.StagingBuffer) {
	for !w.freeRing.TryEnqueue(buf) {
		if w.stop.Load() {
			return
		}
	}
}

// maybeRotate implements spec.md §4.2 step 6-7: evaluate time- and
// size-based rotation and, if triggered, close the current file and
// open the next one.
func (w *Writer) maybeRotate() {
	rotate := false
	if w.cfg.RotateSeconds > 0 && w.now().Sub(w.fileStart) >= w.cfg.RotateSeconds {
		rotate = true
	}
	if w.cfg.FileSizeLimit > 0 && int64(w.current.size) >= w.cfg.FileSizeLimit {
		rotate = true
	}
	if !rotate {
		return
	}

	if err := w.current.close(); err != nil {
		w.log.Errorw("error closing file during rotation", "error", err)
	}

	w.fileCount++
	w.fileStart = w.now()
	filename := w.renderCurrentFilename()

	of, err := openOutputFile(filename, w.cfg.BlockSize, w.cfg.Snaplen, w.openDirect, w.openBuffered)
	if err != nil {
		w.log.Errorw("failed to open file after rotation", "path", filename, "error", err)
		w.stats.Errors.Add(1)
		w.stop.Store(true)
		return
	}
	w.stats.Rotations.Add(1)
	w.current = of
}

func (w *Writer) renderCurrentFilename() string {
	return RenderFilename(w.cfg.Template, w.cfg.CoreID, w.fileCount, w.fileStart, w.cfg.FileSizeLimit > 0)
}

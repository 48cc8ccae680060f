package writer

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"

	"github.com/yanet-platform/linecap/internal/iodirect"
	"github.com/yanet-platform/linecap/internal/pcapfile"
)

// openFunc abstracts iodirect.OpenDirect/OpenBuffered so tests can supply
// an in-memory fake without touching a real filesystem.
type openFunc func(path string) (iodirect.File, error)

// outputFile is one rotation's open output file: its handle, its
// advisory lock (enforcing the no-multi-writer-per-queue invariant), and
// the bookkeeping needed to decide when to rotate.
type outputFile struct {
	f      iodirect.File
	lock   *flock.Flock
	path   string
	size   int
	direct bool
}

// openOutputFile implements spec.md §4.2's startup sequence: acquire an
// advisory per-path lock, open with direct I/O (retrying a bounded
// number of times before downgrading to buffered mode), and write the
// first block.
func openOutputFile(path string, blockSize int, snaplen uint32, openDirect, openBuffered openFunc) (*outputFile, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("writer: acquiring lock for %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("writer: %s is already owned by another writer", path)
	}

	f, direct, err := openWithDowngrade(path, openDirect, openBuffered)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	of := &outputFile{f: f, lock: lock, path: path, direct: direct}
	if err := of.writeHeaderBlock(blockSize, snaplen); err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return of, nil
}

// openWithDowngrade retries a direct-I/O open a bounded number of times
// (transient EBUSY/EINVAL on some filesystems are worth a retry) before
// falling back to buffered mode per spec.md §4.2 step 3.
func openWithDowngrade(path string, openDirect, openBuffered openFunc) (iodirect.File, bool, error) {
	f, err := backoff.Retry(context.Background(),
		func() (iodirect.File, error) { return openDirect(path) },
		backoff.WithMaxTries(3),
	)
	if err == nil {
		return f, true, nil
	}

	f, err = openBuffered(path)
	if err != nil {
		return nil, false, fmt.Errorf("writer: open %s (buffered downgrade): %w", path, err)
	}
	return f, false, nil
}

// writeHeaderBlock builds and writes the first block of the file: in
// direct mode a full block-sized FileHeader + PadPacket (spec.md §4.2
// step 2); in buffered mode exactly sizeof(FileHeader) bytes with no
// padding (spec.md §9's documented downgrade behavior).
func (of *outputFile) writeHeaderBlock(blockSize int, snaplen uint32) error {
	hdr := pcapfile.NewFileHeader(snaplen)
	hdrBytes := hdr.Marshal()

	if !of.direct {
		n, err := of.f.Writev([][]byte{hdrBytes[:]})
		of.size += n
		return err
	}

	padLen := blockSize - pcapfile.FileHeaderSize
	pad, err := pcapfile.PadPacket(padLen)
	if err != nil {
		return fmt.Errorf("writer: building header-block padding: %w", err)
	}
	n, err := of.f.Writev([][]byte{hdrBytes[:], pad})
	of.size += n
	return err
}

func (of *outputFile) close() error {
	err := of.f.Close()
	if unlockErr := of.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

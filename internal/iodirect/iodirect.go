// Package iodirect wraps block-aligned direct I/O file writes behind a
// small interface, the way the teacher wraps its cgo FFI boundary in
// narrow handle types (ffi.Agent, ffi.SharedMemory): callers depend on
// File, not on the concrete unix syscalls, so tests can substitute a
// buffered fake without real O_DIRECT support.
package iodirect

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a block-aligned output file. Writev issues a single vectored
// write of the given buffers, in order, at the file's current offset.
type File interface {
	Writev(bufs [][]byte) (n int, err error)
	Close() error
	Sync() error
}

// directFile issues real O_DIRECT vectored writes via unix.Writev.
type directFile struct {
	f *os.File
}

// OpenDirect opens path for create/write/truncate with O_DIRECT and
// O_NOATIME, per spec.md §4.2 startup step 3. Returns (nil, err) if
// O_DIRECT is unavailable so the caller can retry in buffered mode.
func OpenDirect(path string) (File, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC | unix.O_DIRECT | unix.O_NOATIME
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	return &directFile{f: f}, nil
}

// OpenBuffered opens path without O_DIRECT, the downgrade path of
// spec.md §4.2 step 3.
func OpenBuffered(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &bufferedFile{f: f}, nil
}

func (d *directFile) Writev(bufs [][]byte) (int, error) {
	n, err := unix.Writev(int(d.f.Fd()), bufs)
	if err != nil {
		return n, fmt.Errorf("iodirect: writev: %w", err)
	}
	return n, nil
}

func (d *directFile) Close() error { return d.f.Close() }
func (d *directFile) Sync() error  { return d.f.Sync() }

// bufferedFile issues ordinary buffered writes via repeated Write calls,
// used in the direct-I/O-unavailable downgrade mode.
type bufferedFile struct {
	f *os.File
}

func (b *bufferedFile) Writev(bufs [][]byte) (int, error) {
	total := 0
	for _, buf := range bufs {
		n, err := b.f.Write(buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("iodirect: write: %w", err)
		}
	}
	return total, nil
}

func (b *bufferedFile) Close() error { return b.f.Close() }
func (b *bufferedFile) Sync() error  { return b.f.Sync() }

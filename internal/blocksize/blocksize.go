// Package blocksize discovers the disk logical block size backing an
// output directory, per spec.md §6.4.
package blocksize

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Default is used when discovery fails for any reason.
const Default = 4096

// Discover creates a temporary file under dir, reads its device number,
// then reads /sys/dev/block/<major>:<minor>/queue/logical_block_size.
// Falls back to Default on any error, per spec.md §6.4.
func Discover(dir string) int {
	major, minor, err := statDevice(dir)
	if err != nil {
		return Default
	}

	path := fmt.Sprintf("/sys/dev/block/%d:%d/queue/logical_block_size", major, minor)
	data, err := os.ReadFile(path)
	if err != nil {
		return Default
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return Default
	}
	return n
}

// statDevice creates a temporary file under dir and returns its
// underlying block device's major/minor numbers.
func statDevice(dir string) (major, minor uint32, err error) {
	f, err := os.CreateTemp(dir, ".linecap-blocksize-*")
	if err != nil {
		return 0, 0, err
	}
	path := f.Name()
	defer os.Remove(path)
	defer f.Close()

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}

	dev := uint64(st.Dev)
	return uint32(unix.Major(dev)), uint32(unix.Minor(dev)), nil
}

// DirExists is a small convenience used by config validation to give a
// precise "configuration error" message (spec.md §7) before discovery
// is ever attempted.
func DirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

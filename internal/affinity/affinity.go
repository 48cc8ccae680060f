// Package affinity pins the calling goroutine's OS thread to a single
// CPU core, the scheduling model spec.md §5 requires for capture and
// writer workers. Pinning is best-effort: a failure is not a spec.md §7
// fatal condition since affinity is a performance hint on a
// kernel-scheduled goroutine runtime, not a correctness requirement.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and restricts
// that thread's scheduling to core. Must be called from the goroutine
// that will run the worker loop, before entering it.
func Pin(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: pin to core %d: %w", core, err)
	}
	return nil
}

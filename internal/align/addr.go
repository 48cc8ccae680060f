package align

import "unsafe"

// addrOf returns the numeric address of b's backing array for alignment
// arithmetic. b must be non-empty.
func addrOf(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return int(uintptr(unsafe.Pointer(&b[0])))
}

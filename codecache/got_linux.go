//go:build linux

package codecache

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// makeWritable mprotects the page range covering n pointer-sized GOT
// slots starting at base, rounding down/up to page boundaries (spec.md
// §4.1 "make the GOT page range writable (page-aligned
// mprotect-equivalent)"). The address is a real process address handed
// to us by the platform glue that owns the mapped GOT view (spec.md §1
// "out of scope"); this package never dereferences it, only mprotects
// the underlying pages.
func makeWritable(base uintptr, n int) {
	if base == 0 || n == 0 {
		return
	}
	pageSize := uintptr(os.Getpagesize())
	pageMask := pageSize - 1
	size := uintptr(n) * unsafe.Sizeof(uintptr(0))
	start := base &^ pageMask
	end := (base + size + pageMask) &^ pageMask

	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	_ = unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE)
}

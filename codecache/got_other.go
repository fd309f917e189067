//go:build !linux

package codecache

// makeWritable is a no-op off Linux: GOT patching is a platform-glue
// concern (spec.md §1 "kernel perf-event wiring (platform glue)" covers
// the general class of OS-specific memory tricks this belongs to).
func makeWritable(base uintptr, n int) {}

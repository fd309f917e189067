package codecache

import "sync/atomic"

// Array is the append-only registry of loaded native libraries (spec.md
// §3 "CodeCacheArray", §4.2). Writers are serialized externally (the
// profiler.Engine's library-load path runs off the sampling goroutines);
// readers — including the sampling path — only ever acquire-load Count
// and then index, matching ddprof-lib's CodeCacheArray::add/count
// (_examples/original_source/ddprof-lib/src/main/cpp/codeCache.h).
type Array struct {
	libs  []atomic.Pointer[CodeCache]
	count atomic.Int32
}

// NewArray allocates a fixed-capacity registry. capacity should be
// config.DefaultNativeLibCapacity unless a caller has a specific reason
// to expect more libraries.
func NewArray(capacity int) *Array {
	return &Array{libs: make([]atomic.Pointer[CodeCache], capacity)}
}

// Count returns the number of published entries. Monotonic
// non-decreasing for the process lifetime (spec.md §8 invariant 3).
func (a *Array) Count() int {
	return int(a.count.Load())
}

// Get returns the i-th published CodeCache, or nil if i is out of range.
// Safe to call concurrently with Add from any goroutine, including the
// sampling path, because the slot is only published (release-stored)
// after it is fully populated.
func (a *Array) Get(i int) *CodeCache {
	if i < 0 || i >= len(a.libs) {
		return nil
	}
	return a.libs[i].Load()
}

// Add publishes lib as the next entry. Returns false if the array is at
// capacity; entries are never removed or reordered once added (spec.md
// §3 "Append-only").
func (a *Array) Add(lib *CodeCache) bool {
	idx := a.count.Load()
	if int(idx) >= len(a.libs) {
		return false
	}
	a.libs[idx].Store(lib)
	a.count.Store(idx + 1)
	return true
}

// MemoryUsage sums MemoryUsage across every published entry, iterating
// under the same acquire-load of Count used by readers (spec.md §4.2).
func (a *Array) MemoryUsage() int64 {
	var total int64
	n := a.Count()
	for i := 0; i < n; i++ {
		if lib := a.Get(i); lib != nil {
			total += lib.MemoryUsage()
		}
	}
	return total
}

// Resolve walks every published library looking for one whose
// [MinAddress,MaxAddress) contains addr, then returns its
// BinarySearch(addr) result. This is the signal-path PC→name entry
// point; it performs only acquire-loads and fixed-size reads, never
// allocates, and never blocks (spec.md §5 "Specifically, signal-path
// operations use only...").
func (a *Array) Resolve(addr uintptr) (name string, found bool) {
	n := a.Count()
	for i := 0; i < n; i++ {
		lib := a.Get(i)
		if lib == nil {
			continue
		}
		if lib.Contains(addr) {
			return lib.BinarySearch(addr), true
		}
	}
	return "", false
}

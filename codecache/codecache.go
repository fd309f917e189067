// Package codecache implements the PC→symbol-name resolver described in
// spec.md §4.1–§4.2: a per-library CodeCache of sorted [start,end) blobs,
// and an append-only CodeCacheArray of such caches with lock-free reads
// from the sampling path.
//
// Grounded on ddprof-lib's codeCache.{h,cpp} (_examples/original_source)
// for the exact tie-break and fallback rules, and on the teacher's
// symtab/table.go (sorted-symbol binary search) and symtab/elf/
// (ELF string-table reading conventions) for Go idiom.
package codecache

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ianlancetaylor/demangle"

	"github.com/sanchda/java-profiler/internal/demangle/options"
)

// CodeBlob is a contiguous [Start,End) range naming one function within
// a CodeCache (spec.md §3).
type CodeBlob struct {
	Start, End uintptr
	FuncIdx    int32
}

// FrameDesc is one entry of a code cache's DWARF unwind table, kept as a
// hook site for a future native unwinder (SPEC_FULL.md §6 item 5); no
// in-scope operation populates or queries it yet beyond SetDwarfTable /
// FindFrameDesc themselves.
type FrameDesc struct {
	Loc  uint32
	Data []byte
}

// NoMinAddress / NoMaxAddress are the sentinel bounds ddprof-lib uses
// before a cache has ever been sorted (spec.md §3 "min/max_address bound
// the union of blob spans").
const (
	NoMinAddress = ^uintptr(0)
	NoMaxAddress = uintptr(0)
)

// CodeCache owns the symbol table for one native library.
type CodeCache struct {
	name     string
	libIndex int16

	minAddress uintptr
	maxAddress uintptr
	textBase   uintptr

	funcs []NativeFunc
	blobs []CodeBlob
	sorted bool

	got           []uintptr
	gotBase       uintptr
	gotPatchable  bool

	dwarf []FrameDesc

	demangleCache *lru.Cache[string, string]
}

// New creates an empty CodeCache for a library, with sentinel bounds
// until Sort or an explicit update establishes them.
func New(name string, libIndex int16) *CodeCache {
	cache, _ := lru.New[string, string](1024)
	return &CodeCache{
		name:          name,
		libIndex:      libIndex,
		minAddress:    NoMinAddress,
		maxAddress:    NoMaxAddress,
		demangleCache: cache,
	}
}

// Name returns the library name, used as the PC→name fallback when no
// blob matches (spec.md §4.1 "binary_search").
func (c *CodeCache) Name() string { return c.name }

// MinAddress / MaxAddress bound the union of this cache's blob spans
// after Sort (spec.md §3).
func (c *CodeCache) MinAddress() uintptr { return c.minAddress }
func (c *CodeCache) MaxAddress() uintptr { return c.maxAddress }

// Contains reports whether addr falls in [MinAddress,MaxAddress).
func (c *CodeCache) Contains(addr uintptr) bool {
	return addr >= c.minAddress && addr < c.maxAddress
}

// Add copies name, sanitizes control characters to '?', and appends a
// blob spanning [start, start+length) (spec.md §4.1 "add"). When
// updateBounds is set, it also widens [minAddress,maxAddress].
func (c *CodeCache) Add(start uintptr, length int, name string, updateBounds bool) {
	idx := int32(len(c.funcs))
	c.funcs = append(c.funcs, NativeFunc{Name: sanitizeName(name), LibIndex: c.libIndex})
	end := start + uintptr(length)
	c.blobs = append(c.blobs, CodeBlob{Start: start, End: end, FuncIdx: idx})
	c.sorted = false
	if updateBounds {
		c.UpdateBounds(start, end)
	}
}

// UpdateBounds widens [minAddress,maxAddress] to include [start,end).
func (c *CodeCache) UpdateBounds(start, end uintptr) {
	if start < c.minAddress {
		c.minAddress = start
	}
	if end > c.maxAddress {
		c.maxAddress = end
	}
}

// Sort orders blobs by (start asc, end desc) — longer/enclosing ranges
// sort before shorter ones sharing the same start, so nested or
// zero-length entry points resolve to the enclosing symbol first
// (spec.md §4.1 "Rationale for tie-break"). If bounds were never set
// explicitly, they are derived from the sorted extremes.
func (c *CodeCache) Sort() {
	if len(c.blobs) == 0 {
		c.sorted = true
		return
	}
	sort.Slice(c.blobs, func(i, j int) bool {
		if c.blobs[i].Start != c.blobs[j].Start {
			return c.blobs[i].Start < c.blobs[j].Start
		}
		return c.blobs[i].End > c.blobs[j].End
	})
	if c.minAddress == NoMinAddress {
		c.minAddress = c.blobs[0].Start
	}
	if c.maxAddress == NoMaxAddress {
		c.maxAddress = c.blobs[len(c.blobs)-1].End
	}
	c.sorted = true
}

// Mark flags every function whose name satisfies predicate, e.g. to
// selectively include stdlib frames (spec.md §4.1 "mark").
func (c *CodeCache) Mark(predicate func(name string) bool) {
	for i := range c.funcs {
		if predicate(c.funcs[i].Name) {
			c.funcs[i].Mark()
		}
	}
}

// Func returns the function at index idx, i.e. a blob's FuncIdx, for
// callers that already have a blob (e.g. from Find).
func (c *CodeCache) Func(idx int32) *NativeFunc { return &c.funcs[idx] }

// Find returns the blob containing address, or nil (spec.md §4.1
// "binary_search" describes the fallback-bearing variant; Find is the
// plain containment lookup it's built on).
func (c *CodeCache) Find(address uintptr) *CodeBlob {
	blobs := c.blobs
	lo, hi := 0, len(blobs)-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		if blobs[mid].End <= address {
			lo = mid + 1
		} else if blobs[mid].Start > address {
			hi = mid - 1
		} else {
			return &blobs[mid]
		}
	}
	return nil
}

// BinarySearch resolves address to a name. It never returns "" (spec.md
// §8 invariant 1): an exact containment match wins; failing that, a
// zero-length blob or a blob ending exactly at address is treated as the
// return-address-at-end-of-function case (spec.md §4.1, boundary
// behaviors in §8); failing that, the cache's own library name is the
// fallback.
func (c *CodeCache) BinarySearch(address uintptr) string {
	blobs := c.blobs
	lo, hi := 0, len(blobs)-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		if blobs[mid].End <= address {
			lo = mid + 1
		} else if blobs[mid].Start > address {
			hi = mid - 1
		} else {
			return c.funcs[blobs[mid].FuncIdx].Name
		}
	}
	if lo > 0 {
		prev := blobs[lo-1]
		if prev.Start == prev.End || prev.End == address {
			return c.funcs[prev.FuncIdx].Name
		}
	}
	return c.name
}

// FindSymbol returns the address of the first function named exactly
// name, or 0 if none matches (spec.md §4.1 "find_symbol").
func (c *CodeCache) FindSymbol(name string) (uintptr, bool) {
	for i, blob := range c.blobs {
		if c.funcs[blob.FuncIdx].Name == name {
			return c.blobs[i].Start, true
		}
	}
	return 0, false
}

// FindSymbolByPrefix returns the address of the first function whose
// name has the given prefix (spec.md §4.1 "find_symbol_by_prefix").
func (c *CodeCache) FindSymbolByPrefix(prefix string) (uintptr, bool) {
	for i, blob := range c.blobs {
		name := c.funcs[blob.FuncIdx].Name
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return c.blobs[i].Start, true
		}
	}
	return 0, false
}

// SetGlobalOffsetTable records a library's GOT range for
// FindGlobalOffsetEntry (spec.md §4.1).
func (c *CodeCache) SetGlobalOffsetTable(base uintptr, entries []uintptr) {
	c.gotBase = base
	c.got = entries
	c.gotPatchable = false
}

// FindGlobalOffsetEntry scans the GOT for a slot whose stored value
// equals addr; on first hit it lazily makes the GOT's page range
// writable and caches that fact so later hits skip the mprotect call
// (spec.md §4.1 "find_global_offset_entry", SPEC_FULL.md §6 item 6).
// The index into the GOT slice is returned so a caller holding a raw
// mapped view of the table (platform-specific, outside this package)
// can patch the entry.
func (c *CodeCache) FindGlobalOffsetEntry(addr uintptr) (index int, ok bool) {
	for i, v := range c.got {
		if v == addr {
			c.makeGotPatchable()
			return i, true
		}
	}
	return 0, false
}

func (c *CodeCache) makeGotPatchable() {
	if c.gotPatchable || len(c.got) == 0 {
		return
	}
	makeWritable(c.gotBase, len(c.got))
	c.gotPatchable = true
}

// SetDwarfTable installs a sorted-by-Loc unwind table.
func (c *CodeCache) SetDwarfTable(table []FrameDesc) {
	c.dwarf = table
}

// FindFrameDesc resolves an offset from the library's text base to the
// largest table entry whose Loc is <= pc-textBase (spec.md §4.1
// "find_frame_desc").
func (c *CodeCache) FindFrameDesc(pc uintptr) *FrameDesc {
	if c.textBase != 0 {
		pc -= c.textBase
	}
	target := uint32(pc)
	lo, hi := 0, len(c.dwarf)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) >> 1
		if c.dwarf[mid].Loc <= target {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		return nil
	}
	return &c.dwarf[best]
}

// SetTextBase records the library's load bias for FindFrameDesc.
func (c *CodeCache) SetTextBase(base uintptr) { c.textBase = base }

// Demangle resolves a possibly-mangled C++ symbol using the configured
// demangle.Option preset, caching results per cache instance (LRU,
// default 1024 entries) since the same mangled name recurs across many
// samples (SPEC_FULL.md §3 domain-stack table).
func (c *CodeCache) Demangle(name string, preset options.Preset) string {
	if len(name) < 2 || name[0] != '_' || name[1] != 'Z' {
		return name
	}
	if cached, ok := c.demangleCache.Get(name); ok {
		return cached
	}
	out := demangle.Filter(name, options.Options(preset)...)
	c.demangleCache.Add(name, out)
	return out
}

// MemoryUsage approximates bytes retained by this cache, for the
// external "get per-library symbol tables" accounting operation
// (spec.md §6).
func (c *CodeCache) MemoryUsage() int64 {
	return int64(len(c.blobs))*int64(unsafeSizeofCodeBlob) + int64(len(c.funcs))*int64(unsafeSizeofNativeFunc)
}

const (
	unsafeSizeofCodeBlob   = 24
	unsafeSizeofNativeFunc = 40
)

// Package nativelib populates a codecache.Array from the process's
// actual loaded libraries, the one piece of the pipeline that has to
// talk to the real OS rather than an injected abstraction (spec.md §1
// allows this: CodeCacheArray's population source is implementation-
// defined).
//
// Grounded on the teacher's own ELF reading, now-superseded in this
// module by direct use of the standard library's debug/elf (the
// teacher's symtab/elf/*.go parsed ELF by hand for reasons specific to
// its ptrace/eBPF embedding; a regular Go process can ask debug/elf to
// do the same work), and on /proc/self/maps for the library list, the
// same source the teacher's symtab/elf.go reads library load addresses
// from.
package nativelib

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sanchda/java-profiler/codecache"
)

// mapping is one parsed /proc/self/maps line for an executable,
// file-backed region.
type mapping struct {
	start, end uintptr
	offset     uint64
	path       string
}

// Load reads /proc/self/maps, opens each distinct executable
// file-backed library exactly once, and publishes a populated
// codecache.CodeCache into arr for each, sorted and bounded (spec.md
// §4.2 "populate the array at startup and on dlopen/dlclose").
// Libraries that can't be opened or parsed as ELF are skipped rather
// than failing the whole load, since a best-effort native-symbol
// picture is strictly better than none for a profiler's purposes.
func Load(arr *codecache.Array) error {
	mappings, err := readExecutableMappings("/proc/self/maps")
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, m := range mappings {
		if seen[m.path] {
			continue
		}
		seen[m.path] = true

		cache, err := loadLibrary(m, int16(arr.Count()))
		if err != nil {
			continue
		}
		arr.Add(cache)
	}
	return nil
}

func readExecutableMappings(path string) ([]mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, ok := parseMapsLine(sc.Text())
		if ok {
			out = append(out, m)
		}
	}
	return out, sc.Err()
}

// parseMapsLine parses one /proc/self/maps line, keeping only
// executable, file-backed regions:
//
//	7f1234500000-7f1234520000 r-xp 00001000 08:01 131075 /usr/lib/libc.so.6
func parseMapsLine(line string) (mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return mapping{}, false
	}
	perms := fields[1]
	if !strings.Contains(perms, "x") {
		return mapping{}, false
	}
	path := fields[5]
	if path == "" || strings.HasPrefix(path, "[") {
		return mapping{}, false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return mapping{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return mapping{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return mapping{}, false
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return mapping{}, false
	}

	return mapping{start: uintptr(start), end: uintptr(end), offset: offset, path: path}, true
}

// loadLibrary opens path's ELF file, reads its symbol table (and
// dynamic symbol table, for stripped shared objects that only carry
// exported dynsyms) and builds a sorted codecache.CodeCache keyed to
// the load bias observed in /proc/self/maps.
func loadLibrary(m mapping, libIndex int16) (*codecache.CodeCache, error) {
	f, err := elf.Open(m.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cache := codecache.New(m.path, libIndex)

	bias, err := loadBias(f, m)
	if err != nil {
		return nil, err
	}
	cache.SetTextBase(bias)

	addedAny := false
	for _, symSrc := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := symSrc()
		if err != nil {
			continue
		}
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
				continue
			}
			addr := uintptr(sym.Value) + bias
			cache.Add(addr, int(sym.Size), sym.Name, true)
			addedAny = true
		}
	}
	if !addedAny {
		return nil, fmt.Errorf("nativelib: no function symbols in %s", m.path)
	}

	cache.Sort()
	return cache, nil
}

// loadBias computes the runtime load address minus the file's
// link-time vaddr for the segment containing m.offset, so symbol
// values (link-time, from the ELF file) can be translated to the
// addresses actually observed on the stack (spec.md §4.2 the array's
// blobs are stored in the runtime address space the sampling path
// observes).
func loadBias(f *elf.File, m mapping) (uintptr, error) {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if m.offset >= prog.Off && m.offset < prog.Off+prog.Filesz {
			// The mapping's runtime start corresponds to file offset
			// m.offset, which lies at vaddr prog.Vaddr + (m.offset -
			// prog.Off); bias is the difference between that and m.start.
			vaddrAtOffset := prog.Vaddr + (m.offset - prog.Off)
			return m.start - uintptr(vaddrAtOffset), nil
		}
	}
	// Position-dependent executables (ET_EXEC) have no bias; shared
	// objects with no matching segment fall back to the raw mapping
	// start, which is wrong but still better than refusing to load.
	if f.Type == elf.ET_EXEC {
		return 0, nil
	}
	return m.start, nil
}

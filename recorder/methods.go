package recorder

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/internal/demangle/options"
	"github.com/sanchda/java-profiler/stackwalk"
)

// methodEntry is one jmethodID-equivalent's cached metadata. marked is
// cleared by collectMarked after emission so the next chunk only
// re-emits entries actually referenced by its own stack traces
// (spec.md §4.6 "Method resolution"). isEntry mirrors the managed
// runtime's MethodInfo::_is_entry bit (false for native frames, which
// derive their trace marker byte from the trace's truncated flag
// instead) and backs the stack-trace pool's per-trace marker byte.
type methodEntry struct {
	class     string
	name      string
	signature string
	marked    bool
	isEntry   bool
}

// kernelSuffix flags a native symbol resolved from kernel address space
// (spec.md §4.6 "kernel frames (`_[k]` suffix) get class `\"(k)\"`").
const kernelSuffix = "_[k]"

// methodTable caches method metadata across chunks, keyed by the
// managed runtime's method id for managed frames, or by a synthesized
// negative key derived from the native symbol name for native frames
// (so repeated native symbols share one entry just like repeated
// jmethodIDs do). RecordSample only ever takes the recorder's shared
// lock while looking up frames, so this table needs its own mutex to
// protect byID/byName from concurrent mutation, the same discipline
// dict.Dictionary uses for its interning maps.
type methodTable struct {
	mu           sync.Mutex
	byID         map[int64]*methodEntry
	byName       map[string]int64
	nextNativeID int64
	resolver     stackwalk.MethodResolver
}

func newMethodTable() *methodTable {
	return &methodTable{byID: make(map[int64]*methodEntry), byName: make(map[string]int64)}
}

// lookup resolves (and marks) the method backing frame f, returning a
// stable id for the recorder's stack-trace encoding.
func (t *methodTable) lookup(f event.Frame) int64 {
	if !f.Native {
		return t.lookupManaged(f.MethodID)
	}
	return t.lookupNative(f.NativeName)
}

func (t *methodTable) lookupManaged(methodID int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[methodID]
	if !ok {
		class, name, sig, isEntry := "", "", "", false
		if t.resolver != nil {
			if c, n, s, entry, ok := t.resolver.ResolveMethod(methodID); ok {
				class, name, sig, isEntry = c, n, s, entry
			}
		}
		e = &methodEntry{class: class, name: name, signature: sig, isEntry: isEntry}
		t.byID[methodID] = e
	}
	e.marked = true
	return methodID
}

func (t *methodTable) lookupNative(symbol string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byName[symbol]; ok {
		t.byID[id].marked = true
		return id
	}
	class, name := classifyNative(symbol)
	t.nextNativeID--
	id := t.nextNativeID
	t.byID[id] = &methodEntry{class: class, name: name, marked: true}
	t.byName[symbol] = id
	return id
}

// isEntry reports whether key names a managed entry frame, used to
// derive the stack-trace pool's per-trace marker byte (spec.md §4.6
// "Stack trace encoding"). A key with no entry (never looked up, or a
// native key) reports false.
func (t *methodTable) isEntry(key int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[key]
	return ok && e.isEntry
}

// classifyNative applies the native-frame naming rules: kernel symbols
// (trailing "_[k]") get class "(k)"; mangled C++ symbols are demangled
// with their argument list stripped; everything else is a plain C
// frame with an empty class (spec.md §4.6).
func classifyNative(symbol string) (class, name string) {
	if strings.HasSuffix(symbol, kernelSuffix) {
		return "(k)", strings.TrimSuffix(symbol, kernelSuffix)
	}
	if strings.HasPrefix(symbol, "_Z") {
		full := demangle.Filter(symbol, options.Options(options.Simplified)...)
		if idx := strings.LastIndex(full, "::"); idx >= 0 {
			return full[:idx], full[idx+2:]
		}
		return "", full
	}
	return "", symbol
}

// collectMarked returns every marked entry and clears its mark,
// matching writeMethods emitting each referenced method exactly once
// per chunk then resetting for the next (spec.md §8 invariant 10).
func (t *methodTable) collectMarked() map[int64]methodEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[int64]methodEntry)
	for id, e := range t.byID {
		if e.marked {
			out[id] = *e
			e.marked = false
		}
	}
	return out
}

// Package dict implements the two append-only interning structures the
// recorder drains at chunk boundaries (spec.md §4.5): Dictionary, a
// thread-safe string→id table, and CallTraceStorage, which dedups whole
// call traces by content hash.
package dict

import (
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/sanchda/java-profiler/event"
)

// BoundedLimitExceeded is returned by BoundedLookup in place of a new
// id once a dictionary has reached its configured limit, matching
// spec.md §4.5 "returns INT_MAX on capacity exceed".
const BoundedLimitExceeded uint32 = math.MaxInt32

// Dictionary assigns a stable, insertion-ordered 32-bit id to each
// distinct string handed to it. A fresh Dictionary is created per chunk
// by the recorder (spec.md §4.6 "constant pool section"); Collect
// returns the whole table rather than a delta, since each chunk's
// constant pool is self-contained.
type Dictionary struct {
	mu    sync.Mutex
	ids   map[string]uint32
	order []string
}

// NewDictionary returns an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{ids: make(map[string]uint32)}
}

// Lookup interns s, returning its existing id or assigning the next
// one.
func (d *Dictionary) Lookup(s string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(s)
}

func (d *Dictionary) lookupLocked(s string) uint32 {
	if id, ok := d.ids[s]; ok {
		return id
	}
	id := uint32(len(d.order))
	d.ids[s] = id
	d.order = append(d.order, s)
	return id
}

// BoundedLookup is Lookup with a cap on distinct entries: once the
// table holds limit strings, any further miss returns
// BoundedLimitExceeded instead of growing the table (spec.md §4.5
// "bounded_lookup(str, len, limit)"). Existing entries are always
// resolved regardless of the cap.
func (d *Dictionary) BoundedLookup(s string, limit int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[s]; ok {
		return id
	}
	if len(d.order) >= limit {
		return BoundedLimitExceeded
	}
	return d.lookupLocked(s)
}

// Collect returns every interned string keyed by its id, for the
// recorder's constant-pool emission pass (spec.md §4.5 "collect").
func (d *Dictionary) Collect() map[uint32]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]string, len(d.order))
	for i, s := range d.order {
		out[uint32(i)] = s
	}
	return out
}

// Len reports the number of distinct strings interned so far.
func (d *Dictionary) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// CallTraceStorage dedups call traces by content hash, handing out a
// stable 32-bit id per distinct trace (spec.md §4.5 "dedup
// frames-array → 32-bit id"). Unlike Dictionary, it persists across
// chunk rotations — stack traces recur across a recording's lifetime —
// so Collect only yields traces added since the previous Collect call.
type CallTraceStorage struct {
	mu            sync.Mutex
	byHash        map[uint64]uint32
	traces        []event.CallTrace
	lastCollected int
}

// NewCallTraceStorage returns an empty CallTraceStorage. Ids are
// 1-based; 0 is reserved as "no trace" for callers that need a sentinel.
func NewCallTraceStorage() *CallTraceStorage {
	return &CallTraceStorage{byHash: make(map[uint64]uint32)}
}

// Put interns trace, returning its existing id if an identical trace
// (same frames, same truncated flag) was already stored.
func (s *CallTraceStorage) Put(trace event.CallTrace) uint32 {
	h := hashTrace(trace)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byHash[h]; ok {
		return id
	}
	s.traces = append(s.traces, trace)
	id := uint32(len(s.traces))
	s.byHash[h] = id
	return id
}

// Collect returns every trace interned since the last Collect call,
// keyed by id, for the recorder's per-chunk constant-pool emission
// (spec.md §4.5 "yields everything since the last collection").
func (s *CallTraceStorage) Collect() map[uint32]event.CallTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]event.CallTrace, len(s.traces)-s.lastCollected)
	for i := s.lastCollected; i < len(s.traces); i++ {
		out[uint32(i+1)] = s.traces[i]
	}
	s.lastCollected = len(s.traces)
	return out
}

// Len reports the number of distinct traces stored so far.
func (s *CallTraceStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

// hashTrace content-hashes a call trace's frames and truncated flag so
// that two structurally identical traces collide to the same id
// regardless of how many times or from which goroutine they were
// submitted.
func hashTrace(trace event.CallTrace) uint64 {
	var buf [13]byte
	h := xxhash.New()
	for _, f := range trace.Frames {
		putFrame(&buf, f)
		h.Write(buf[:])
		h.Write([]byte(f.NativeName))
	}
	if trace.Truncated {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func putFrame(buf *[13]byte, f event.Frame) {
	putInt64(buf[0:8], f.MethodID)
	putInt32(buf[8:12], f.BCI)
	if f.Native {
		buf[12] = 1
	} else {
		buf[12] = 0
	}
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putInt32(b []byte, v int32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

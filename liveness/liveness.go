// Package liveness tracks whether sampled allocations survive garbage
// collection, per spec.md §4.4. Each tracked allocation is kept as a
// weak reference alongside its call trace and allocation context;
// periodically the table is swept against a monotonically increasing
// GC-epoch counter, and objects that did not survive are dropped.
//
// Grounded on ddprof-lib's livenessTracker.cpp
// (_examples/original_source/ddprof-lib/src/main/cpp/livenessTracker.cpp):
// the CAS-claimed insertion index, the tryLockShared/lock reader-writer
// discipline, the exactly-once-per-epoch cleanup CAS, and the sizing
// formula in initialize_table. ddprof-lib tracks liveness via a JVM
// jweak and IsSameObject; this package uses Go 1.24's weak.Pointer,
// which gives the same "has the GC reclaimed this?" answer without a
// runtime-specific weak-reference API (DESIGN.md "Open questions
// resolved" item 2).
package liveness

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/ctxtable"
	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/metrics"
)

// Record is one surviving tracked allocation, ready for the recorder to
// turn into a LiveObject event (spec.md §4.4 "flush").
type Record struct {
	Tid        int
	Time       int64
	Age        int32
	Alloc      event.Alloc
	Trace      event.CallTrace
	ClassName  string
	SpanID     uint64
	RootSpanID uint64
}

// Sink receives records and heap-usage readings as Flush walks the
// table; the recorder package implements it.
type Sink interface {
	RecordLiveObject(Record)
	RecordHeapUsage(used int64, isLastGC bool)
}

type entry[T any] struct {
	ref   weak.Pointer[T]
	tid   int
	time  int64
	alloc event.Alloc
	age   int32
	trace event.CallTrace
	ctx   ctxtable.Context
}

// Tracker is the generic liveness table; T is the managed-object handle
// type the embedding runtime hands us (an opaque reference, not
// necessarily a real Go value — see profiler.Engine for how samples
// become *T).
type Tracker[T any] struct {
	mu    sync.RWMutex
	table []entry[T]
	cap   int32
	maxCap int32
	size  atomic.Int32

	recordHeapUsage bool
	m               *metrics.Metrics

	gcEpoch         atomic.Uint64
	lastGCEpoch     atomic.Uint64
	usedAfterLastGC atomic.Int64
}

// NewTracker sizes a table from the configured sampling interval and
// the runtime's maximum heap size, per spec.md §4.4 "sizing". If
// liveness tracking is disabled or maxHeap is unknown, the returned
// Tracker has maxCap 0 and Track becomes a no-op, mirroring ddprof-lib
// disabling itself rather than erroring when heap-size information is
// unavailable. m may be nil, in which case Track's overflow path simply
// doesn't record a metric.
func NewTracker[T any](cfg config.Liveness, maxHeap int64, m *metrics.Metrics) *Tracker[T] {
	t := &Tracker[T]{recordHeapUsage: cfg.RecordHeapUsage, m: m}
	if !cfg.Enabled || maxHeap <= 0 {
		return t
	}

	required := maxHeap
	if cfg.SamplingInterval > 0 {
		required = maxHeap / cfg.SamplingInterval
	}
	maxCap := required
	if maxCap > config.MaxTrackingTableSize {
		maxCap = config.MaxTrackingTableSize
	}
	if maxCap <= 0 {
		return t
	}
	t.maxCap = int32(maxCap)

	// The initial allocation is min(2048, maxCap): a table up to
	// MAX_TRACKING_TABLE_SIZE grows by doubling as needed (see grow),
	// so there's no need to start large.
	initialCap := int32(2048)
	if t.maxCap < initialCap {
		initialCap = t.maxCap
	}
	t.cap = initialCap
	t.table = make([]entry[T], initialCap)
	return t
}

// Track records one sampled allocation against obj, a weak reference
// that survives independently of the table entry (spec.md §4.4
// "track"). It is safe to call from many goroutines concurrently; at
// most one retry (cleanup-then-grow) is attempted if the table is full,
// matching ddprof-lib's single-retry discipline in
// LivenessTracker::track. An allocation that still can't be inserted
// after that retry is dropped, and counted against
// metrics.Metrics.LivenessOverflows.
func (t *Tracker[T]) Track(tid int, obj *T, timeTicks int64, alloc event.Alloc, trace event.CallTrace, ctx ctxtable.Context) {
	if t.maxCap == 0 {
		return
	}
	ref := weak.Make(obj)

	var full bool
	for attempt := 0; attempt < 2; attempt++ {
		var inserted bool
		inserted, full = t.tryInsert(ref, tid, timeTicks, alloc, trace, ctx)
		if inserted || !full {
			return
		}
		if attempt == 0 {
			t.Cleanup()
			t.grow()
		}
	}
	if full && t.m != nil {
		t.m.LivenessOverflows.Inc()
	}
}

// tryInsert attempts one CAS-claimed insertion while holding the table
// in shared mode. Returns full=true when the claim failed because the
// table was at capacity (as opposed to failing to even acquire the
// shared lock, which happens only while a grow is in flight).
func (t *Tracker[T]) tryInsert(ref weak.Pointer[T], tid int, timeTicks int64, alloc event.Alloc, trace event.CallTrace, ctx ctxtable.Context) (inserted, full bool) {
	if !t.mu.TryRLock() {
		return false, false
	}
	defer t.mu.RUnlock()

	for {
		idx := t.size.Load()
		if idx >= t.cap {
			return false, true
		}
		if t.size.CompareAndSwap(idx, idx+1) {
			t.table[idx] = entry[T]{ref: ref, tid: tid, time: timeTicks, alloc: alloc, trace: trace, ctx: ctx}
			return true, false
		}
	}
}

func (t *Tracker[T]) grow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	newCap := t.cap * 2
	if newCap > t.maxCap {
		newCap = t.maxCap
	}
	if newCap <= t.cap {
		return false
	}
	grown := make([]entry[T], newCap)
	copy(grown, t.table[:t.size.Load()])
	t.table = grown
	t.cap = newCap
	return true
}

// Cleanup compacts the table, dropping entries whose weak reference has
// been reclaimed, and is a no-op if the GC epoch hasn't advanced since
// the last cleanup. The epoch-equality check plus CAS makes this safe
// to call from multiple goroutines (e.g. both the GC-epoch poller and a
// full Track) with the sweep itself running exactly once per epoch
// advance (spec.md §4.4 "cleanup", invariant-equivalent to
// LivenessTracker::cleanup_table's CAS guard).
func (t *Tracker[T]) Cleanup() {
	current := t.lastGCEpoch.Load()
	target := t.gcEpoch.Load()
	if target == current {
		return
	}
	if !t.lastGCEpoch.CompareAndSwap(current, target) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ageDelta := int32(target - current)
	sz := t.size.Load()
	var newSize int32
	for i := int32(0); i < sz; i++ {
		if t.table[i].ref.Value() != nil {
			t.table[i].age += ageDelta
			t.table[newSize] = t.table[i]
			newSize++
		}
	}
	t.size.Store(newSize)
}

// Flush cleans up, then walks surviving entries and hands each to sink
// as a Record, resolving the live class name via classNameOf (spec.md
// §4.4 "flush"). It returns the set of thread ids that owned a
// surviving entry, for callers correlating with other per-thread state.
func (t *Tracker[T]) Flush(sink Sink, classNameOf func(*T) string) []int {
	t.Cleanup()

	t.mu.RLock()
	sz := t.size.Load()
	tracked := make(map[int]struct{})
	for i := int32(0); i < sz; i++ {
		e := &t.table[i]
		obj := e.ref.Value()
		if obj == nil {
			continue
		}
		tracked[e.tid] = struct{}{}
		sink.RecordLiveObject(Record{
			Tid:        e.tid,
			Time:       e.time,
			Age:        e.age,
			Alloc:      e.alloc,
			Trace:      e.trace,
			ClassName:  classNameOf(obj),
			SpanID:     e.ctx.SpanID,
			RootSpanID: e.ctx.RootSpanID,
		})
	}
	t.mu.RUnlock()

	if t.recordHeapUsage {
		sink.RecordHeapUsage(t.usedAfterLastGC.Load(), false)
	}

	tids := make([]int, 0, len(tracked))
	for tid := range tracked {
		tids = append(tids, tid)
	}
	return tids
}

// OnGC bumps the GC epoch and records the post-GC heap usage reading,
// called from the profiler.Engine's GC-epoch poll (spec.md §4.4
// "epoch tick", DESIGN.md "Open questions resolved" item 2's
// weak.Pointer + runtime.ReadMemStats substitution for
// JVMTI_EVENT_GARBAGE_COLLECTION_FINISH).
func (t *Tracker[T]) OnGC(usedAfterGC int64) {
	t.gcEpoch.Add(1)
	t.usedAfterLastGC.Store(usedAfterGC)
}

// Cap reports the table's current capacity, for memory-usage reporting
// (spec.md §6 "get profiler memory usage").
func (t *Tracker[T]) Cap() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cap
}

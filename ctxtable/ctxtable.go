// Package ctxtable is the wait-free per-thread context table described
// in spec.md §4.3: a sparse array of Context records, indexed by thread
// id, organized into lazily allocated fixed-size pages so that threads
// that never carry tracing context never cost an allocation.
//
// Grounded on ddprof-lib's context.cpp
// (_examples/original_source/ddprof-lib/src/main/cpp/context.cpp):
// Contexts::get's checksum-validated read, Contexts::initialize's
// CAS-installed page, and Contexts::getMaxPages's sizing formula.
package ctxtable

import (
	"encoding/binary"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/sanchda/java-profiler/config"
)

// Context carries the per-thread tracing correlation fields a sample
// picks up at record time (spec.md §4.3). Checksum must equal
// SpanID^RootSpanID for a slot to be considered populated; Set
// maintains that invariant, and a page that was allocated but never
// Set for a given slot reads back as the zero Context, which trivially
// satisfies it (0^0==0) and is indistinguishable from Empty.
type Context struct {
	SpanID      uint64
	RootSpanID  uint64
	Checksum    uint64
	Parallelism int32
}

const (
	pageShift = 12 // log2(config.DefaultPageSize)
	pageMask  = config.DefaultPageSize - 1
)

// slot is one Context's storage, as independently atomic fields rather
// than a plain struct, so Set can publish span_id, root_span_id and
// checksum as three separately-ordered stores instead of one
// non-atomic struct assignment (spec.md §8 invariant S3: the checksum
// must be able to catch a reader racing a torn concurrent write to the
// same slot, which requires the fields to actually be written/read
// independently rather than as one struct-sized memory op).
type slot struct {
	spanID      atomic.Uint64
	rootSpanID  atomic.Uint64
	checksum    atomic.Uint64
	parallelism atomic.Int32
}

type page [config.DefaultPageSize]slot

// Table is the sparse, page-organized store. Zero value is not usable;
// construct with New.
type Table struct {
	pages []atomic.Pointer[page]
}

// New allocates a Table sized to cover thread ids in [0, maxTid). No
// page storage is allocated yet — pages come into existence lazily, on
// first Set, exactly like ddprof-lib's Contexts::initialize.
func New(maxTid int) *Table {
	return &Table{pages: make([]atomic.Pointer[page], maxPages(maxTid))}
}

func maxPages(maxTid int) int {
	if maxTid <= 0 {
		return 1
	}
	return (maxTid + config.DefaultPageSize - 1) / config.DefaultPageSize
}

// Get is the wait-free read path: it loads the page pointer for tid's
// page (acquire, via atomic.Pointer.Load), and if present and the
// slot's checksum validates, returns it. Otherwise it returns Empty().
// Never allocates, never blocks (spec.md §4.3 "get").
func (t *Table) Get(tid int) Context {
	idx := tid >> pageShift
	if idx < 0 || idx >= len(t.pages) {
		return Empty()
	}
	pg := t.pages[idx].Load()
	if pg == nil {
		return Empty()
	}
	s := &pg[tid&pageMask]

	// Read order mirrors Set's write order in reverse: checksum first,
	// then the fields it covers. Since Set always stores checksum last,
	// observing a given checksum value guarantees the span/root stores
	// that preceded it in program order are also visible here.
	checksum := s.checksum.Load()
	spanID := s.spanID.Load()
	rootSpanID := s.rootSpanID.Load()
	if spanID^rootSpanID != checksum {
		return Empty()
	}
	return Context{
		SpanID:      spanID,
		RootSpanID:  rootSpanID,
		Checksum:    checksum,
		Parallelism: s.parallelism.Load(),
	}
}

// SpanContext projects c's SpanID/RootSpanID pair onto an OpenTelemetry
// trace.SpanContext, for embedders that correlate this profiler's
// samples with OTel spans: RootSpanID fills the low 8 bytes of the
// trace id (the high 8 are zero, since this table only carries a
// 64-bit root id) and SpanID fills the span id directly. The result is
// invalid (trace.SpanContext.IsValid() == false) for the Empty
// context, which callers should treat as "no span."
func (c Context) SpanContext() trace.SpanContext {
	var tid trace.TraceID
	var sid trace.SpanID
	binary.BigEndian.PutUint64(tid[8:], c.RootSpanID)
	binary.BigEndian.PutUint64(sid[:], c.SpanID)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid,
		SpanID:  sid,
	})
}

// Empty is the shared fallback context returned for any thread with no
// populated slot, mirroring ddprof-lib's static DD_EMPTY_CONTEXT.
func Empty() Context { return Context{} }

// Set installs (spanID, rootSpanID, parallelism) for tid, lazily
// CAS-installing the backing page if this is the first Set for tid's
// page. The checksum-covered fields are stored in a fixed order —
// span_id, then root_span_id, then checksum last — so a concurrent
// Get that observes the new checksum is guaranteed (by the ordering
// Go's atomics provide) to also observe the span_id/root_span_id
// stores that preceded it, rather than a torn mix of an old and a new
// write (spec.md §8 invariant S3). Concurrent Set calls for different
// tids in the same page race only on page installation, which is
// CAS-resolved exactly like Contexts::initialize; every Set that loses
// the CAS for a page index discards the page it allocated.
func (t *Table) Set(tid int, spanID, rootSpanID uint64, parallelism int32) {
	idx := tid >> pageShift
	if idx < 0 || idx >= len(t.pages) {
		return
	}
	s := &t.ensurePage(idx)[tid&pageMask]
	s.parallelism.Store(parallelism)
	s.spanID.Store(spanID)
	s.rootSpanID.Store(rootSpanID)
	s.checksum.Store(spanID ^ rootSpanID)
}

// Clear invalidates tid's slot by writing a checksum that cannot equal
// SpanID^RootSpanID first, so concurrent readers fall back to Empty
// rather than observing a half-written Context, before resetting the
// remaining fields to the all-zero Empty state (spec.md §4.3 edge case
// "clearing a context").
func (t *Table) Clear(tid int) {
	idx := tid >> pageShift
	if idx < 0 || idx >= len(t.pages) {
		return
	}
	pg := t.pages[idx].Load()
	if pg == nil {
		return
	}
	s := &pg[tid&pageMask]
	s.checksum.Store(^uint64(0)) // invalid for any (spanID, rootID) stored below.
	s.spanID.Store(0)
	s.rootSpanID.Store(0)
	s.parallelism.Store(0)
	s.checksum.Store(0) // 0^0 == 0: final state matches Empty().
}

func (t *Table) ensurePage(idx int) *page {
	if pg := t.pages[idx].Load(); pg != nil {
		return pg
	}
	fresh := &page{}
	if t.pages[idx].CompareAndSwap(nil, fresh) {
		return fresh
	}
	return t.pages[idx].Load()
}

// MaxPages exposes the sizing formula for callers that need to report
// memory usage (spec.md §6 "get profiler memory usage").
func MaxPages(maxTid int) int { return maxPages(maxTid) }

// Package profiler orchestrates the whole always-on pipeline: the
// context table, the liveness tracker, the code-cache array, the
// recorder, and the sampling/rotation/CPU/GC-epoch goroutines that
// drive them. It is the one place that knows about every other
// package in this module.
//
// Grounded on the teacher's session lifecycle
// (_examples/grafana-pyroscope/ebpf/session.go): a long-lived struct
// with Start/Stop/Update methods, a background goroutine group, and a
// periodic collection tick — generalized here to this profiler's four
// independent periodic concerns via github.com/oklog/run, the
// actor-group library the rest of the retrieval pack's services use
// for exactly this shape of "run N independent loops, stop all of them
// together."
package profiler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanchda/java-profiler/codecache"
	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/ctxtable"
	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/internal/logging"
	"github.com/sanchda/java-profiler/liveness"
	"github.com/sanchda/java-profiler/metrics"
	"github.com/sanchda/java-profiler/recorder"
	"github.com/sanchda/java-profiler/stackwalk"
)

// Engine ties every package in this module into one running profiler.
// T is the managed-object handle type the embedding runtime hands to
// RecordAllocation — an opaque reference the liveness tracker holds a
// weak.Pointer to, never dereferenced by this package itself.
type Engine[T any] struct {
	cfg config.Config

	ctxTable  *ctxtable.Table
	liveness  *liveness.Tracker[T]
	codeArray *codecache.Array
	rec       *recorder.Recorder
	walker    stackwalk.Walker
	metrics   *metrics.Metrics
	logger    log.Logger

	classNameOf func(*T) string

	threadsMu sync.Mutex
	threads   map[int]struct{}

	stop chan struct{}
}

// Option configures New.
type Option[T any] func(*Engine[T])

// WithLogger overrides the engine's (and its recorder's) logger.
func WithLogger[T any](l log.Logger) Option[T] {
	return func(e *Engine[T]) { e.logger = l }
}

// WithClassNameOf supplies the callback the liveness tracker uses to
// name a surviving object's class when flushing LiveObject events. A
// nil callback (the default) names every surviving object "".
func WithClassNameOf[T any](f func(*T) string) Option[T] {
	return func(e *Engine[T]) { e.classNameOf = f }
}

// New wires every component together against recordPath, without
// starting any background goroutine (call Start). maxTid sizes the
// context table; maxHeap sizes the liveness table (0 disables it
// regardless of cfg.Liveness.Enabled).
func New[T any](cfg config.Config, recordPath string, walker stackwalk.Walker, resolver stackwalk.MethodResolver, maxTid int, maxHeap int64, reg prometheus.Registerer, opts ...Option[T]) (*Engine[T], error) {
	m := metrics.New(reg)
	codeArray := codecache.NewArray(cfg.Recording.NativeLibCapacity)

	rec, err := recorder.New(recordPath, cfg, codeArray, resolver, m)
	if err != nil {
		return nil, errors.Wrap(err, "profiler: construct recorder")
	}

	e := &Engine[T]{
		cfg:       cfg,
		ctxTable:  ctxtable.New(maxTid),
		liveness:  liveness.NewTracker[T](cfg.Liveness, maxHeap, m),
		codeArray: codeArray,
		rec:       rec,
		walker:    walker,
		metrics:   m,
		logger:    logging.Nop(),
		threads:   make(map[int]struct{}),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	rec.SetLogger(e.logger)
	return e, nil
}

// Context exposes the context table for the embedding runtime's
// tracing integration to Set/Get/Clear directly.
func (e *Engine[T]) Context() *ctxtable.Table { return e.ctxTable }

// CodeCache exposes the native-library array so nativelib.Load can
// populate it independently of the sampling loop.
func (e *Engine[T]) CodeCache() *codecache.Array { return e.codeArray }

// RegisterThread adds tid to the set of threads runSampling walks on
// every tick, the Go substitute for ddprof-lib's per-thread SIGPROF
// registration (spec.md §1 open question on the sampling trigger,
// DESIGN.md "Open questions resolved" item 1 on the ticker-driven
// departure from a literal signal handler). Callers must register a tid before Start for it to
// be sampled from the first tick onward.
func (e *Engine[T]) RegisterThread(tid int) {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	e.threads[tid] = struct{}{}
}

// UnregisterThread removes tid from the sampled set, e.g. when the
// embedding runtime observes the thread has exited.
func (e *Engine[T]) UnregisterThread(tid int) {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	delete(e.threads, tid)
}

func (e *Engine[T]) registeredThreads() []int {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	out := make([]int, 0, len(e.threads))
	for tid := range e.threads {
		out = append(out, tid)
	}
	return out
}

// Start opens the recording and launches the sampling, rotation,
// CPU-monitor and GC-epoch actors as an oklog/run.Group, returning
// once Stop is called or an actor exits with an error (spec.md §4.6
// "engine lifecycle").
func (e *Engine[T]) Start(ctx context.Context) error {
	if err := e.rec.Start(); err != nil {
		return errors.Wrap(err, "profiler: start recording")
	}

	var g run.Group
	g.Add(e.runSampling, e.interrupt)
	g.Add(e.runRotation, e.interrupt)
	g.Add(e.runCPUMonitor, e.interrupt)
	g.Add(e.runGCEpoch, e.interrupt)
	g.Add(func() error { <-ctx.Done(); return ctx.Err() }, e.interrupt)

	return g.Run()
}

func (e *Engine[T]) interrupt(error) {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Stop signals every actor to exit and finishes the recording.
func (e *Engine[T]) Stop() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	return e.rec.Stop()
}

// Dump writes a self-contained snapshot of the recording so far to
// destPath without stopping the engine.
func (e *Engine[T]) Dump(destPath string, compress bool) error {
	return e.rec.Dump(destPath, compress)
}

// runSampling is the ticker-driven stand-in for ddprof-lib's
// async-signal-driven SIGPROF handler (see the stackwalk package doc):
// every tick it walks and records one sample for each thread
// RegisterThread has added, exactly like a real SIGPROF handler firing
// once per registered thread per tick.
func (e *Engine[T]) runSampling() error {
	ticker := time.NewTicker(e.cfg.Recording.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return nil
		case <-ticker.C:
			for _, tid := range e.registeredThreads() {
				e.RecordSample(event.KindExecutionSample, tid, event.ThreadRunnable, 1)
			}
		}
	}
}

func (e *Engine[T]) runRotation() error {
	interval := e.cfg.Recording.ChunkTime
	if interval <= 0 {
		interval = config.MinChunkTime
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return nil
		case <-ticker.C:
			if e.rec.ShouldRotate() {
				if err := e.rec.Rotate(); err != nil {
					level.Error(e.logger).Log("msg", "rotation failed", "err", err)
				}
			}
		}
	}
}

func (e *Engine[T]) runCPUMonitor() error {
	ticker := time.NewTicker(e.cfg.Recording.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return nil
		case <-ticker.C:
			e.rec.CPUTick()
		}
	}
}

// runGCEpoch polls runtime.ReadMemStats for NumGC advances, the Go
// substitute for JVMTI_EVENT_GARBAGE_COLLECTION_FINISH this module
// uses instead of a runtime GC callback Go doesn't expose to user code
// (DESIGN.md "Open questions resolved" item 2). Each
// advance bumps the liveness tracker's epoch and triggers a flush of
// surviving objects into the recorder.
func (e *Engine[T]) runGCEpoch() error {
	var lastNumGC uint32
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return nil
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if stats.NumGC == lastNumGC {
				continue
			}
			lastNumGC = stats.NumGC
			e.liveness.OnGC(int64(stats.HeapAlloc))
			e.liveness.Flush(e.rec, e.classNameOfOrEmpty)
		}
	}
}

func (e *Engine[T]) classNameOfOrEmpty(obj *T) string {
	if e.classNameOf == nil {
		return ""
	}
	return e.classNameOf(obj)
}

// RecordSample hands a runtime-observed event straight to the
// recorder, walking tid's stack first (spec.md §4.6 "register a
// per-event sample"). Context
// correlation fields are filled in from the context table here so
// callers never have to touch ctxtable directly for the common path.
func (e *Engine[T]) RecordSample(kind event.Kind, tid int, threadState event.ThreadState, weight int64) {
	trace, err := e.walker.Walk(tid, 0)
	if err != nil {
		level.Debug(e.logger).Log("msg", "stack walk failed", "tid", tid, "err", err)
		return
	}
	ctx := e.ctxTable.Get(tid)
	e.rec.RecordSample(event.Sample{
		Kind:        kind,
		Ticks:       0,
		Tid:         tid,
		ThreadState: threadState,
		Weight:      weight,
		SpanID:      ctx.SpanID,
		RootSpanID:  ctx.RootSpanID,
		Parallelism: ctx.Parallelism,
	}, trace)
}

// RecordAllocation both records an allocation sample immediately and
// tracks obj for liveness correlation (spec.md §4.4 "track", §4.6
// "ObjectAllocationInNewTLAB/OutsideTLAB").
func (e *Engine[T]) RecordAllocation(tid int, obj *T, alloc event.Alloc, timeTicks int64) {
	trace, err := e.walker.Walk(tid, 0)
	if err != nil {
		level.Debug(e.logger).Log("msg", "stack walk failed", "tid", tid, "err", err)
		return
	}
	ctx := e.ctxTable.Get(tid)

	kind := event.KindAllocOutsideTLAB
	if alloc.InTLAB {
		kind = event.KindAllocInNewTLAB
	}
	e.rec.RecordSample(event.Sample{
		Kind:        kind,
		Ticks:       timeTicks,
		Tid:         tid,
		ThreadState: event.ThreadRunnable,
		Weight:      1,
		Alloc:       alloc,
		SpanID:      ctx.SpanID,
		RootSpanID:  ctx.RootSpanID,
		Parallelism: ctx.Parallelism,
	}, trace)

	e.liveness.Track(tid, obj, timeTicks, alloc, trace, ctx)
}

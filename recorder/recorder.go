// Package recorder is the chunked binary event log (spec.md §4.6):
// per-thread Buffers accumulate wire-encoded events, a chunk owns the
// header/metadata/constant-pool framing, and Recorder ties both
// together with rotation policy, a CPU monitor, and a liveness.Sink
// implementation for the allocation-liveness pipeline.
package recorder

import (
	"hash/maphash"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/sanchda/java-profiler/clock"
	"github.com/sanchda/java-profiler/codecache"
	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/dict"
	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/internal/logging"
	"github.com/sanchda/java-profiler/liveness"
	"github.com/sanchda/java-profiler/metrics"
	"github.com/sanchda/java-profiler/stackwalk"
)

// Recorder owns one recording file's worth of state: the active chunk,
// per-slot buffers, the dictionaries and call-trace storage drained at
// rotation, and the native-library array whose libraries are emitted
// as native-library events.
type Recorder struct {
	mu sync.RWMutex // the recording lock: producers take RLock, rotate/stop/dump take Lock.

	path string
	fw   *fileWriter
	ch   *chunk
	cfg  config.Config
	clk *clock.Clock
	m   *metrics.Metrics

	buffers []*Buffer
	tiny    *Buffer

	baseID         uint64
	chunkOpenedAt  time.Time

	// nativeLibWatermark is the codeArray.Count() value through which
	// native-library events have already been emitted; -1 means native
	// libraries are never emitted (no codeArray configured).
	nativeLibWatermark int

	methods  *methodTable
	classes  *dict.Dictionary
	packages *dict.Dictionary
	symbols  *dict.Dictionary
	strings  *dict.Dictionary
	threads  *threadSet
	traces   *dict.CallTraceStorage

	codeArray *codecache.Array
	resolver  stackwalk.MethodResolver
	cpu       *cpuMonitor
	logger    log.Logger

	seed maphash.Seed
}

// New constructs a Recorder against path, without opening a chunk yet
// (call Start). codeArray and resolver may be nil; a nil resolver means
// managed frames are recorded with empty class/name metadata, and a nil
// codeArray means native-library events are never emitted.
func New(path string, cfg config.Config, codeArray *codecache.Array, resolver stackwalk.MethodResolver, m *metrics.Metrics) (*Recorder, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: open recording file")
	}

	nativeLibWatermark := 0
	if codeArray == nil {
		nativeLibWatermark = -1
	}

	r := &Recorder{
		path:               path,
		fw:                 fw,
		cfg:                cfg,
		clk:                clock.New(),
		m:                  m,
		methods:             newMethodTable(),
		classes:             dict.NewDictionary(),
		packages:            dict.NewDictionary(),
		symbols:             dict.NewDictionary(),
		strings:             dict.NewDictionary(),
		threads:             newThreadSet(),
		traces:              dict.NewCallTraceStorage(),
		codeArray:           codeArray,
		resolver:            resolver,
		cpu:                 newCPUMonitor(),
		logger:              logging.Nop(),
		seed:                maphash.MakeSeed(),
		nativeLibWatermark:  nativeLibWatermark,
	}
	r.methods.resolver = resolver

	bufSize := cfg.Recording.BufferSize
	if bufSize <= 0 {
		bufSize = config.DefaultBufferSize
	}
	r.buffers = make([]*Buffer, cfg.Recording.ConcurrencyLevel)
	for i := range r.buffers {
		r.buffers[i] = NewBuffer(bufSize, flushThreshold(bufSize, 4*1024))
	}
	const tinyCapacity = 4096
	r.tiny = NewBuffer(tinyCapacity, flushThreshold(tinyCapacity, 128))

	return r, nil
}

// flushThreshold computes a buffer's flush-if-needed threshold as
// capacity minus a fixed headroom margin (spec.md §4.6 "buffer_size -
// 4KiB" / "buffer_size - 128"), floored so a buffer smaller than the
// margin still has a usable (if tight) threshold rather than one that
// can never trigger before the buffer overflows.
func flushThreshold(capacity, margin int) int {
	if t := capacity - margin; t > 0 {
		return t
	}
	return capacity / 2
}

// SetLogger overrides the recorder's logger, nopLogger by default.
func (r *Recorder) SetLogger(l log.Logger) { r.logger = l }

// Start opens the first chunk, then emits the settings snapshot and the
// initial native-library batch (spec.md §4.6 step 1 "open" and step 3
// "write initial settings... native libraries"). Settings are a
// recording-lifetime-once emission; native libraries are emitted again,
// incrementally, at every chunk close (finishChunkLocked).
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := openChunk(r.fw, r.clk, r.baseID)
	if err != nil {
		return errors.Wrap(err, "recorder: open chunk")
	}
	r.ch = ch
	r.chunkOpenedAt = time.Now()

	r.writeSettingsLocked()
	r.writeNativeLibrariesLocked()
	r.flushLocked(r.tiny)
	return nil
}

// slotFor deterministically maps a thread id to a buffer slot, "hashed
// tid" in spec.md §4.6's phrasing ("a writer thread selects a slot by
// hashed tid (outside this spec)"); any stable, even-ish hash works,
// since slot contention only costs a dropped sample (spec.md §7
// "transient overflow"), never correctness.
func (r *Recorder) slotFor(tid int) int {
	var h maphash.Hash
	h.SetSeed(r.seed)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(tid >> (8 * i))
	}
	h.Write(b[:])
	return int(h.Sum64() % uint64(len(r.buffers)))
}

// RecordSample encodes one sample into its thread's buffer slot and
// flushes the slot if it has crossed its threshold (spec.md §4.6 step
// 4 "events"). It takes the recorder's shared lock so it can run
// concurrently with other samples but never with a rotation/stop/dump
// in flight — and it never blocks waiting for that lock: spec.md §5's
// "tryLockShared" discipline means a contended recorder drops the
// sample rather than stalling the caller. A sample whose kind is
// disabled in cfg.EventMask is discarded.
func (r *Recorder) RecordSample(s event.Sample, trace event.CallTrace) {
	if !s.Kind.Masked(r.cfg.EventMask) {
		return
	}
	if !r.mu.TryRLock() {
		r.drop("lock_contention")
		return
	}
	defer r.mu.RUnlock()

	if r.ch == nil {
		r.drop("no_active_chunk")
		return
	}

	traceID := r.traces.Put(trace)
	for _, f := range trace.Frames {
		r.methods.lookup(f)
	}
	r.threads.add(s.Tid)

	buf := r.buffers[r.slotFor(s.Tid)]
	writeSampleEvent(buf, s, traceID)
	r.recordCount(s.Kind)

	if buf.NeedsFlush() {
		r.flushLocked(buf)
	}
}

func (r *Recorder) drop(reason string) {
	if r.m != nil {
		r.m.SamplesDropped.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) recordCount(k event.Kind) {
	if r.m != nil {
		r.m.SamplesRecorded.WithLabelValues(k.String()).Inc()
	}
}

// flushLocked drains buf to the active chunk. Caller must hold at
// least the shared lock.
func (r *Recorder) flushLocked(buf *Buffer) {
	if buf.Offset() == 0 {
		return
	}
	if err := r.ch.appendEvents(buf.Bytes()); err != nil {
		if r.m != nil {
			r.m.RecorderIOErrors.Inc()
		}
		level.Error(r.logger).Log("msg", "failed to append events", "err", err)
	}
	buf.Reset()
}

// writeSampleEvent encodes one event: a reserved 5-byte size slot,
// varint type tag, varint ticks, then kind-specific payload, then the
// size patch (spec.md §4.6 "Event encoding").
func writeSampleEvent(buf *Buffer, s event.Sample, traceID uint32) {
	sizePos := buf.ReserveSize()
	start := buf.Offset()

	buf.PutVarInt(uint64(s.Kind))
	buf.PutVarInt(uint64(s.Ticks))
	buf.PutVarInt(uint64(s.Tid))
	buf.PutVarInt(uint64(traceID))
	buf.PutByte(byte(s.ThreadState))
	buf.PutVarInt(uint64(s.Weight))
	buf.PutVarInt(uint64(s.SpanID))
	buf.PutVarInt(uint64(s.RootSpanID))
	buf.PutVarInt(uint64(int64(s.Parallelism)))

	switch s.Kind {
	case event.KindAllocInNewTLAB, event.KindAllocOutsideTLAB:
		buf.PutVarInt(uint64(s.Alloc.ClassID))
		buf.PutVarInt(uint64(s.Alloc.AllocationSize))
		buf.PutVarInt(uint64(s.Alloc.TLABSize))
		if s.Alloc.InTLAB {
			buf.PutByte(1)
		} else {
			buf.PutByte(0)
		}
	}

	buf.PatchSize(sizePos, uint64(buf.Offset()-start))
}

// CPUTick samples the CPU monitor and writes a CPU_LOAD event into the
// tiny buffer (spec.md §4.6 "CPU monitor"), flushing it immediately
// since it's on the periodic-tick path rather than the hot sampling
// path.
func (r *Recorder) CPUTick() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ch == nil {
		return
	}
	load := r.cpu.Sample()

	sizePos := r.tiny.ReserveSize()
	start := r.tiny.Offset()
	r.tiny.PutVarInt(uint64(event.KindCPULoad))
	r.tiny.PutVarInt(uint64(r.clk.Ticks()))
	r.tiny.PutFloat32(float32(load.ProcUserRatio))
	r.tiny.PutFloat32(float32(load.ProcSystemRatio))
	r.tiny.PutFloat32(float32(load.MachineTotalRatio))
	r.tiny.PatchSize(sizePos, uint64(r.tiny.Offset()-start))

	r.flushLocked(r.tiny)
}

// ShouldRotate reports whether the active chunk has crossed its size
// or time rotation threshold (spec.md §4.6 "Rotation policy").
func (r *Recorder) ShouldRotate() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ch == nil {
		return false
	}
	bySize := r.fw.Size()-r.ch.chunkStart >= max64(r.cfg.Recording.ChunkSize, config.MinChunkSize)
	byTime := time.Since(r.chunkOpenedAt) >= maxDuration(r.cfg.Recording.ChunkTime, config.MinChunkTime)
	return bySize || byTime
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Rotate closes the active chunk and opens a new one in the same file,
// advancing base_id by config.ChunkIDStride and storing it on the new
// chunk (spec.md §4.6 step 6 "rotate"). The ids written into events and
// constant pools are not offset by base_id.
func (r *Recorder) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		return errNoActiveChunk
	}
	if err := r.finishChunkLocked(); err != nil {
		return err
	}
	r.baseID += config.ChunkIDStride

	ch, err := openChunk(r.fw, r.clk, r.baseID)
	if err != nil {
		return errors.Wrap(err, "recorder: reopen chunk after rotate")
	}
	r.ch = ch
	r.chunkOpenedAt = time.Now()
	if r.m != nil {
		r.m.ChunkRotations.Inc()
	}
	level.Debug(r.logger).Log("msg", "rotated chunk", "base_id", r.baseID)
	return nil
}

// Stop flushes every buffer, finishes the active chunk, and closes the
// file (spec.md §5 "Stop is cooperative: exclusive lock, write final
// chunk, close file").
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		return nil
	}
	if err := r.finishChunkLocked(); err != nil {
		return err
	}
	r.ch = nil
	return r.fw.Close()
}

func (r *Recorder) finishChunkLocked() error {
	for _, b := range r.buffers {
		r.flushLocked(b)
	}
	r.writeNativeLibrariesLocked()
	r.flushLocked(r.tiny)

	cpool := r.buildConstantPool()
	duration := time.Since(r.chunkOpenedAt).Nanoseconds()
	if err := r.ch.finish(cpool, duration); err != nil {
		if r.m != nil {
			r.m.RecorderIOErrors.Inc()
		}
		return errors.Wrap(err, "recorder: finish chunk")
	}

	r.threads = newThreadSet()
	r.classes = dict.NewDictionary()
	r.packages = dict.NewDictionary()
	r.symbols = dict.NewDictionary()
	r.strings = dict.NewDictionary()
	return nil
}

// Dump copies a self-contained snapshot of the recording to destPath,
// optionally gzip-compressed: it rotates, then copies every chunk
// completed so far, so the copied bytes end on a chunk boundary a
// JFR-style reader can parse standalone (spec.md §5 "Dump" — distinct
// from Stop, which also closes the underlying file).
func (r *Recorder) Dump(destPath string, compress bool) error {
	if err := r.Rotate(); err != nil {
		return errors.Wrap(err, "recorder: rotate before dump")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ch == nil {
		return errNoActiveChunk
	}

	src, err := os.Open(r.path)
	if err != nil {
		return errors.Wrap(err, "recorder: open recording for dump")
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "recorder: create dump destination")
	}
	defer dst.Close()

	var w io.Writer = dst
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(dst)
		w = gz
	}

	if _, err := io.CopyN(w, src, r.ch.chunkStart); err != nil {
		return errors.Wrap(err, "recorder: copy recording to dump destination")
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

// RecordLiveObject implements liveness.Sink, turning a surviving
// allocation into a LiveObject sample fed through the same path as any
// other event (spec.md §4.4 "flush").
func (r *Recorder) RecordLiveObject(rec liveness.Record) {
	r.RecordSample(event.Sample{
		Kind:        event.KindLiveObject,
		Ticks:       rec.Time,
		Tid:         rec.Tid,
		ThreadState: event.ThreadUnknown,
		Weight:      1,
		Alloc:       rec.Alloc,
		SpanID:      rec.SpanID,
		RootSpanID:  rec.RootSpanID,
	}, rec.Trace)
}

// RecordHeapUsage implements liveness.Sink.
func (r *Recorder) RecordHeapUsage(used int64, isLastGC bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ch == nil {
		return
	}
	sizePos := r.tiny.ReserveSize()
	start := r.tiny.Offset()
	r.tiny.PutVarInt(uint64(event.KindHeapUsage))
	r.tiny.PutVarInt(uint64(r.clk.Ticks()))
	r.tiny.PutVarInt(uint64(used))
	if isLastGC {
		r.tiny.PutByte(1)
	} else {
		r.tiny.PutByte(0)
	}
	r.tiny.PatchSize(sizePos, uint64(r.tiny.Offset()-start))
	r.flushLocked(r.tiny)
}

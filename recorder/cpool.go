package recorder

import (
	"sort"

	"github.com/samber/lo"

	"github.com/sanchda/java-profiler/dict"
	"github.com/sanchda/java-profiler/event"
)

// Frame types and log levels are small fixed enums rather than
// interned dictionaries (spec.md §4.6 "constant pool... 10 sub-pools
// in a fixed order: frame types, thread states, threads, stack traces,
// methods, classes, packages, symbols, strings, log levels").
const (
	frameInterpreted = 0
	frameJIT         = 1
	frameInlined     = 2
	frameNative      = 3
)

var frameTypeNames = []string{"Interpreted", "JIT compiled", "Inlined", "Native"}

var logLevelNames = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

var threadStateNames = map[event.ThreadState]string{
	event.ThreadRunnable: "RUNNABLE",
	event.ThreadSleeping: "SLEEPING",
	event.ThreadBlocked:  "BLOCKED",
	event.ThreadWaiting:  "WAITING",
	event.ThreadParked:   "PARKED",
	event.ThreadUnknown:  "UNKNOWN",
}

// bciLineOnlyMask flags a packed bci field that carries only a line
// number, not a true bytecode index (spec.md §4.6 "the 17-bit 'line
// only' bci marker"): bit 16 set, low 16 bits the line number.
const bciLineOnlyMask = 1 << 16

// buildConstantPool assembles one chunk's CPOOL section: the ten
// sub-pools in their fixed order, with no leading pool count, each a varint
// entry count followed by (id, fields...) records (spec.md §4.6
// "constant pool section", §6 "CPOOL event"). Caller must hold at
// least the chunk's exclusive lock — this drains collectMarked and the
// per-chunk dictionaries, both of which are mutated by RecordSample.
func (r *Recorder) buildConstantPool() []byte {
	b := NewBuffer(256*1024, 1<<62) // never auto-flushed; caller writes it as one section.

	writeFrameTypePool(b)
	writeThreadStatePool(b)
	writeThreadPool(b, r.threads.snapshot())
	writeStackTracePool(b, r.traces.Collect(), r.methods)
	writeMethodPool(b, r.methods.collectMarked())
	writeDictPool(b, r.classes)
	writeDictPool(b, r.packages)
	writeDictPool(b, r.symbols)
	writeDictPool(b, r.strings)
	writeLogLevelPool(b)

	return b.Bytes()
}

func writeFrameTypePool(b *Buffer) {
	b.PutVarInt(uint64(len(frameTypeNames)))
	for id, name := range frameTypeNames {
		b.PutVarInt(uint64(id))
		b.PutString(name)
	}
}

func writeLogLevelPool(b *Buffer) {
	b.PutVarInt(uint64(len(logLevelNames)))
	for id, name := range logLevelNames {
		b.PutVarInt(uint64(id))
		b.PutString(name)
	}
}

func writeThreadStatePool(b *Buffer) {
	ids := lo.Keys(threadStateNames)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b.PutVarInt(uint64(len(ids)))
	for _, s := range ids {
		b.PutVarInt(uint64(s))
		b.PutString(threadStateNames[s])
	}
}

// writeThreadPool emits one entry per distinct tid observed this
// chunk. Thread names are out of scope here (spec.md §1 excludes the
// managed runtime's own thread-naming API); the tid itself is the only
// identity a chunk needs to correlate samples.
func writeThreadPool(b *Buffer, threads map[int]struct{}) {
	tids := lo.Keys(threads)
	sort.Ints(tids)

	b.PutVarInt(uint64(len(tids)))
	for _, tid := range tids {
		b.PutVarInt(uint64(tid))
		b.PutVarInt(uint64(tid))
	}
}

// writeStackTracePool emits each trace collected since the previous
// chunk: a single per-trace marker byte, a frame count, then per frame
// the method key, line number, bci, and frame type (spec.md §4.6 "Stack
// trace encoding... per-frame (method_key, line_number, bci,
// frame_type)"). The marker byte is derived once per trace, from its
// top (last) frame if that frame is managed, or from the trace's
// truncated flag otherwise — not from any per-frame position, since a
// reader recovers root-to-leaf order from the frame order itself.
func writeStackTracePool(b *Buffer, traces map[uint32]event.CallTrace, methods *methodTable) {
	ids := lo.Keys(traces)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b.PutVarInt(uint64(len(ids)))
	for _, id := range ids {
		trace := traces[id]
		b.PutVarInt(uint64(id))
		b.PutByte(traceMarkerByte(trace, methods))
		b.PutVarInt(uint64(len(trace.Frames)))
		for _, f := range trace.Frames {
			methodKey := methods.lookup(f)
			b.PutVarInt(uint64(uint32(methodKey)))

			lineNumber, bci := f.LineNumber, f.BCI
			if !f.Native {
				bci = packBCI(f.BCI)
			} else {
				lineNumber = 0
			}
			b.PutVarInt(uint64(uint32(lineNumber)))
			b.PutVarInt(uint64(uint32(bci)))

			frameType := frameInterpreted
			if f.Native {
				frameType = frameNative
			}
			b.PutByte(byte(frameType))
		}
	}
}

// traceMarkerByte derives a trace's single per-trace marker byte: if
// the top (last) frame is managed, 0 when it's an entry frame and 1
// otherwise; if the top frame is native (or the trace is empty), the
// trace's truncated flag, 0 or 1 (spec.md §4.6 "Stack trace encoding").
func traceMarkerByte(trace event.CallTrace, methods *methodTable) byte {
	if n := len(trace.Frames); n > 0 {
		top := trace.Frames[n-1]
		if !top.Native {
			if methods.isEntry(methods.lookup(top)) {
				return 0
			}
			return 1
		}
	}
	if trace.Truncated {
		return 1
	}
	return 0
}

// packBCI applies the managed-frame "line only" encoding: bit 16 of a
// raw bci flags that the low 16 bits carry a line number rather than a
// true bytecode index, in which case the bci field itself is reported
// as 0 (spec.md §4.6 "if a 17-bit marker in the bci encodes 'line
// only', bci is reported as 0"). Only applies to managed frames; native
// frames pass their raw bci through unchanged.
func packBCI(bci int32) int32 {
	if bci&bciLineOnlyMask != 0 {
		return 0
	}
	return bci & 0xffff
}

func writeMethodPool(b *Buffer, entries map[int64]methodEntry) {
	ids := lo.Keys(entries)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b.PutVarInt(uint64(len(ids)))
	for _, id := range ids {
		e := entries[id]
		b.PutVarInt(uint64(uint32(id)))
		b.PutString(e.class)
		b.PutString(e.name)
		b.PutString(e.signature)
	}
}

func writeDictPool(b *Buffer, d *dict.Dictionary) {
	entries := d.Collect()
	ids := lo.Keys(entries)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b.PutVarInt(uint64(len(ids)))
	for _, id := range ids {
		b.PutVarInt(uint64(id))
		b.PutString(entries[id])
	}
}

// Package event defines the wire-independent shapes shared by the
// liveness tracker, the call-trace dictionaries and the recorder: frames,
// call traces, thread state, and the event-kind enum from spec.md §3.
package event

// Kind is a stable event-type tag. Names are emitted in the metadata
// element tree of every chunk (spec.md §6 "Event type tags"), so the
// wire format is self-describing within a chunk; the numeric value here
// only needs to be stable for the lifetime of one recorder instance, not
// across versions of this package.
type Kind uint8

const (
	KindExecutionSample Kind = iota
	KindWallClockSample
	KindAllocInNewTLAB
	KindAllocOutsideTLAB
	KindMonitorEnter
	KindThreadPark
	KindLiveObject // "memleak" in spec.md §3
	KindQueueTime
	KindTraceRoot
	KindCPULoad
	KindWallClockEpoch
	KindLog
	KindActiveSetting
	KindNativeLibrary
	KindHeapUsage
	KindRecordingInfo
	kindCount
)

var kindNames = [kindCount]string{
	KindExecutionSample: "jdk.ExecutionSample",
	KindWallClockSample: "profiler.WallClockSample",
	KindAllocInNewTLAB:  "jdk.ObjectAllocationInNewTLAB",
	KindAllocOutsideTLAB: "jdk.ObjectAllocationOutsideTLAB",
	KindMonitorEnter:    "jdk.JavaMonitorEnter",
	KindThreadPark:      "jdk.ThreadPark",
	KindLiveObject:      "profiler.LiveObject",
	KindQueueTime:       "profiler.QueueTime",
	KindTraceRoot:       "profiler.TraceRoot",
	KindCPULoad:         "jdk.CPULoad",
	KindWallClockEpoch:  "jdk.WallClockEpoch",
	KindLog:             "profiler.Log",
	KindActiveSetting:   "jdk.ActiveSetting",
	KindNativeLibrary:   "jdk.NativeLibrary",
	KindHeapUsage:       "profiler.HeapUsage",
	KindRecordingInfo:   "profiler.RecordingInfo",
}

// String implements fmt.Stringer so the type schema can be built off
// reflection-free name lookups.
func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// Masked reports whether k is enabled in a Config.EventMask bitset.
func (k Kind) Masked(mask uint64) bool {
	if k >= 64 {
		return true
	}
	return mask&(1<<uint(k)) != 0
}

// ThreadState mirrors the handful of states the recorder cares about;
// the managed runtime is the authority on the full enum, this is only
// what gets serialized.
type ThreadState uint8

const (
	ThreadRunnable ThreadState = iota
	ThreadSleeping
	ThreadBlocked
	ThreadWaiting
	ThreadParked
	ThreadUnknown
)

// Frame is one (method, bci) pair produced by the managed-runtime stack
// walker, or, with Native set, a resolved native frame named by
// NativeName (spec.md GLOSSARY "Frame").
type Frame struct {
	MethodID int64
	BCI      int32
	// LineNumber is the source line this frame was executing at, if the
	// walker can map bci against the managed runtime's own line-number
	// table; zero means unknown. Always zero for native frames (spec.md
	// §4.6 "per-frame fields: method_key, line_number, bci, frame_type").
	LineNumber int32
	// Native is set when this frame was resolved through CodeCache
	// rather than supplied as a managed (method_id, bci) pair.
	Native     bool
	NativeName string
}

// BCINative is the sentinel bci value ddprof-lib uses to flag a frame as
// a raw native frame for demangling/class-naming purposes (spec.md §4.6
// "Native frames with bci == BCI_NATIVE_FRAME").
const BCINative int32 = -4

// CallTrace is a full, possibly truncated stack (spec.md §3).
type CallTrace struct {
	Frames    []Frame
	Truncated bool
}

// Alloc carries the allocation-specific payload for TLAB events.
type Alloc struct {
	ClassID        int64
	AllocationSize int64
	TLABSize       int64
	InTLAB         bool
}

// Sample is what the runtime-facing API hands to the recorder for one
// observation (spec.md §6 "register a per-event sample"). SpanID,
// RootSpanID and Parallelism are filled in by the caller
// (profiler.Engine) from the context table. CallTraceID is not read by
// the recorder, which interns the trace passed alongside the Sample and
// writes that id.
type Sample struct {
	Kind         Kind
	Ticks        int64
	Tid          int
	CallTraceID  uint32
	ThreadState  ThreadState
	Weight       int64
	Alloc        Alloc
	SpanID       uint64
	RootSpanID   uint64
	Parallelism  int32
}

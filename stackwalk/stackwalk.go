// Package stackwalk defines the boundary between this profiler and the
// managed runtime it instruments: the runtime owns stack unwinding and
// method metadata (spec.md §1 "out of scope: ... the managed runtime's
// own stack-walking and method-metadata APIs"), and hands both over
// through the small interfaces here.
//
// A real embedding would implement Walker against JVMTI-equivalent
// hooks, a CGo shim, or an eBPF-collected unwind (as the teacher's own
// session.go does for Python); ddprof-lib's async-signal-driven
// SIGPROF handler is the other model this profiler departs from
// (DESIGN.md "Open questions resolved" item 1): Go does not
// expose arbitrary per-thread signal-based stack interruption to user
// code the way a JVM agent or ddprof-lib's native handler can, so
// profiler.Engine drives Walker from a ticker goroutine instead of a
// literal signal handler, while preserving the same allocation/lock
// discipline on the resulting hot path.
package stackwalk

import "github.com/sanchda/java-profiler/event"

// Walker produces a CallTrace for a thread id, called from the
// profiler's sampling goroutine (spec.md §4.6 "register a per-event
// sample" is what the result eventually feeds). Implementations must
// not block indefinitely; a context-aware implementation should treat
// timeout as "truncate and return what's known."
type Walker interface {
	Walk(tid int, maxFrames int) (event.CallTrace, error)
}

// MethodResolver resolves a managed method id to its owning class name,
// method name and signature, used when the recorder writes a chunk's
// method constant pool (spec.md §4.6 "Method resolution"). isEntry
// mirrors the managed runtime's notion of whether this method is the
// JIT/interpreter entry frame for its call, which the stack-trace pool
// needs to derive its per-trace marker byte (spec.md §4.6 "Stack trace
// encoding").
type MethodResolver interface {
	ResolveMethod(methodID int64) (class, name, signature string, isEntry, ok bool)
}

// WalkerFunc adapts a plain function to a Walker.
type WalkerFunc func(tid int, maxFrames int) (event.CallTrace, error)

// Walk implements Walker.
func (f WalkerFunc) Walk(tid int, maxFrames int) (event.CallTrace, error) {
	return f(tid, maxFrames)
}

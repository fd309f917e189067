package stackwalk

import (
	"sync"

	"github.com/sanchda/java-profiler/event"
)

// Fake is a deterministic Walker for tests: it returns a canned trace
// per tid, and counts how many times each tid was walked. The counters
// are mutex-protected so a test can poll Calls from its own goroutine
// while an Engine's sampling actor calls Walk concurrently.
type Fake struct {
	mu     sync.Mutex
	traces map[int]event.CallTrace
	calls  map[int]int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{traces: make(map[int]event.CallTrace), calls: make(map[int]int)}
}

// Set installs the trace to return for tid.
func (f *Fake) Set(tid int, trace event.CallTrace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[tid] = trace
}

// Calls reports how many times tid has been walked so far.
func (f *Fake) Calls(tid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tid]
}

// Walk implements Walker.
func (f *Fake) Walk(tid int, maxFrames int) (event.CallTrace, error) {
	f.mu.Lock()
	f.calls[tid]++
	trace := f.traces[tid]
	f.mu.Unlock()

	if maxFrames > 0 && len(trace.Frames) > maxFrames {
		trace.Frames = trace.Frames[:maxFrames]
		trace.Truncated = true
	}
	return trace, nil
}

package profiler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/stackwalk"
)

// TestStartDrivesSamplingFromRegisteredThreads is the Engine-level
// end-to-end test: it registers a thread, starts the engine against a
// fast ticker, waits for a few ticks, and asserts the ticker actually
// drove the fake walker — the check runSampling's earlier no-op
// regression would have failed (spec.md §8 S5 "end-to-end").
func TestStartDrivesSamplingFromRegisteredThreads(t *testing.T) {
	cfg := config.Default()
	cfg.Recording.TickInterval = 5 * time.Millisecond
	cfg.Recording.ChunkTime = time.Hour
	cfg.Recording.ConcurrencyLevel = 1
	cfg.Recording.BufferSize = 4096

	path := filepath.Join(t.TempDir(), "rec.jfr")
	walker := stackwalk.NewFake()
	walker.Set(1, event.CallTrace{Frames: []event.Frame{{MethodID: 1}}})

	eng, err := New[int](cfg, path, walker, nil, 1024, 0, prometheus.NewRegistry())
	require.NoError(t, err)
	eng.RegisterThread(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Start(ctx) }()

	require.Eventually(t, func() bool {
		return walker.Calls(1) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, eng.Stop())
	<-done

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(content), 0)
}

// TestUnregisterThreadStopsSampling confirms RegisterThread/UnregisterThread
// actually control which tids runSampling walks on each tick.
func TestUnregisterThreadStopsSampling(t *testing.T) {
	cfg := config.Default()
	cfg.Recording.TickInterval = 5 * time.Millisecond
	cfg.Recording.ChunkTime = time.Hour

	path := filepath.Join(t.TempDir(), "rec.jfr")
	walker := stackwalk.NewFake()
	walker.Set(2, event.CallTrace{})

	eng, err := New[int](cfg, path, walker, nil, 1024, 0, prometheus.NewRegistry())
	require.NoError(t, err)
	eng.RegisterThread(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Start(ctx) }()

	require.Eventually(t, func() bool { return walker.Calls(2) >= 1 }, time.Second, 5*time.Millisecond)
	eng.UnregisterThread(2)
	callsAtUnregister := walker.Calls(2)
	time.Sleep(30 * time.Millisecond)

	cancel()
	require.NoError(t, eng.Stop())
	<-done

	// A couple of in-flight ticks may still land right after
	// UnregisterThread; the count must not keep climbing indefinitely.
	require.LessOrEqual(t, walker.Calls(2), callsAtUnregister+1)
}

// TestRecordAllocationTracksLiveness confirms RecordAllocation both
// writes a sample and feeds the liveness tracker, without starting the
// background actors.
func TestRecordAllocationTracksLiveness(t *testing.T) {
	cfg := config.Default()
	path := filepath.Join(t.TempDir(), "rec.jfr")
	walker := stackwalk.NewFake()

	eng, err := New[int](cfg, path, walker, nil, 1024, 1<<20, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, eng.rec.Start())

	obj := new(int)
	eng.RecordAllocation(1, obj, event.Alloc{AllocationSize: 64, InTLAB: true}, 0)
	require.Greater(t, eng.liveness.Cap(), int32(0))
	require.Equal(t, float64(1), testutil.ToFloat64(eng.metrics.SamplesRecorded.WithLabelValues(event.KindAllocInNewTLAB.String())))
	require.Equal(t, []int{1}, eng.liveness.Flush(eng.rec, func(*int) string { return "" }))
	runtime.KeepAlive(obj)

	require.NoError(t, eng.rec.Stop())
}

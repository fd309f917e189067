// Command javaprofiler-demo wires the profiler engine to a trivial
// synthetic workload, the same role the teacher's own cmd/ binaries
// play: enough wiring to prove the library assembles into a running
// process, not a feature in itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/event"
	"github.com/sanchda/java-profiler/internal/logging"
	"github.com/sanchda/java-profiler/nativelib"
	"github.com/sanchda/java-profiler/profiler"
	"github.com/sanchda/java-profiler/stackwalk"
)

type handle struct{ class string }

func main() {
	out := flag.String("out", "demo.jfr", "recording output path")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	logger := logging.New(*logLevel)

	walker := stackwalk.NewFake()
	walker.Set(1, event.CallTrace{Frames: []event.Frame{
		{MethodID: 1, BCI: 10},
		{MethodID: 2, BCI: 20},
	}})

	eng, err := profiler.New[handle](
		config.Default(),
		*out,
		walker,
		nil,
		1<<16,
		512<<20,
		prometheus.DefaultRegisterer,
		profiler.WithLogger[handle](logger),
		profiler.WithClassNameOf(func(h *handle) string { return h.class }),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "javaprofiler-demo:", err)
		os.Exit(1)
	}

	if err := nativelib.Load(eng.CodeCache()); err != nil {
		fmt.Fprintln(os.Stderr, "javaprofiler-demo: native library load:", err)
	}

	eng.RegisterThread(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go generateLoad(eng)

	runErr := eng.Start(ctx)
	if stopErr := eng.Stop(); stopErr != nil {
		fmt.Fprintln(os.Stderr, "javaprofiler-demo: stop:", stopErr)
	}
	if runErr != nil && runErr != context.Canceled {
		fmt.Fprintln(os.Stderr, "javaprofiler-demo:", runErr)
		os.Exit(1)
	}
}

// generateLoad triggers the occasional allocation sample; execution
// samples come from eng's own sampling actor now that the thread is
// registered above.
func generateLoad(eng *profiler.Engine[handle]) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if rand.Intn(4) == 0 {
			h := &handle{class: "demo.Widget"}
			eng.RecordAllocation(1, h, event.Alloc{ClassID: 1, AllocationSize: 64, InTLAB: true}, 0)
		}
	}
}

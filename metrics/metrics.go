// Package metrics exposes the profiler's self-observability counters
// and gauges as Prometheus collectors, following the registration
// pattern the teacher's ebpf session used for its own metrics bundle.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's collectors. ActiveBufferBytes,
// NativeLibraries and UnexpectedErrors are registered but not updated
// by any package in this module. A nil Registerer is accepted so tests
// and embedders that don't care about exposition can still construct
// and update a Metrics value.
type Metrics struct {
	SamplesRecorded   *prometheus.CounterVec
	SamplesDropped    *prometheus.CounterVec
	LivenessOverflows prometheus.Counter
	ChunkRotations    prometheus.Counter
	RecorderIOErrors  prometheus.Counter
	ActiveBufferBytes prometheus.Gauge
	NativeLibraries   prometheus.Gauge

	UnexpectedErrors prometheus.Counter
}

// New builds a Metrics bundle and, if reg is non-nil, registers every
// collector with it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "javaprofiler_samples_recorded_total",
			Help: "Total number of samples written to the recorder, by event kind.",
		}, []string{"kind"}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "javaprofiler_samples_dropped_total",
			Help: "Total number of samples dropped before recording, by reason.",
		}, []string{"reason"}),
		LivenessOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "javaprofiler_liveness_overflows_total",
			Help: "Total number of allocations that could not be tracked because the liveness table was full even after a grow attempt.",
		}),
		ChunkRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "javaprofiler_chunk_rotations_total",
			Help: "Total number of recording chunks closed and rotated.",
		}),
		RecorderIOErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "javaprofiler_recorder_io_errors_total",
			Help: "Total number of I/O errors encountered writing the recording file.",
		}),
		ActiveBufferBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "javaprofiler_active_buffer_bytes",
			Help: "Sum of unflushed bytes across all per-thread recorder buffers.",
		}),
		NativeLibraries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "javaprofiler_native_libraries",
			Help: "Number of native libraries currently published in the code cache array.",
		}),
		UnexpectedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "javaprofiler_unexpected_errors_total",
			Help: "Total number of unexpected errors encountered by the profiling engine.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SamplesRecorded,
			m.SamplesDropped,
			m.LivenessOverflows,
			m.ChunkRotations,
			m.RecorderIOErrors,
			m.ActiveBufferBytes,
			m.NativeLibraries,
			m.UnexpectedErrors,
		)
	}
	return m
}

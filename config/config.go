// Package config holds the profiler's ambient configuration. Argument
// parsing is out of scope (see spec.md §1); callers populate a Config
// from whatever source they like (flags, env, a managed-runtime option
// string) and pass it to profiler.New.
package config

import "time"

const (
	// DefaultPageSize is the number of Context records per lazily
	// allocated page in the context table (spec.md §4.3). Must be a
	// power of two.
	DefaultPageSize = 4096

	// DefaultConcurrencyLevel is the number of per-thread recorder
	// buffer slots (spec.md §4.6).
	DefaultConcurrencyLevel = 16

	// DefaultBufferSize is the size of each recorder buffer slot.
	DefaultBufferSize = 64 * 1024

	// RecordingBufferLimit is the flush threshold for ordinary buffers:
	// buffer_size - 4KiB.
	RecordingBufferLimit = DefaultBufferSize - 4*1024

	// TinyBufferLimit is DefaultBufferSize - 128. The recorder's own
	// small log/CPU-load buffer is 4 KiB and takes its threshold from
	// its own capacity (capacity - 128), not from this constant.
	TinyBufferLimit = DefaultBufferSize - 128

	// MinChunkSize is the floor for chunk rotation by size.
	MinChunkSize = 256 * 1024

	// MinChunkTime is the floor for chunk rotation by wall time.
	MinChunkTime = 5 * time.Second

	// MaxStringLength bounds a single length-prefixed UTF-8 string in
	// the wire format (spec.md §8 boundary behaviors).
	MaxStringLength = 8191

	// DefaultNativeLibCapacity is CodeCacheArray's fixed capacity.
	DefaultNativeLibCapacity = 2048

	// MaxTrackingTableSize bounds the liveness tracker regardless of
	// heap size (spec.md §4.4).
	MaxTrackingTableSize = 1 << 20

	// ChunkIDStride is how far the recorder's base_id advances on each
	// chunk rotation (spec.md §4.6 rotate). base_id is stored on each
	// chunk; the ids written into events and constant pools are not
	// offset by it.
	ChunkIDStride = 0x1000000
)

// Liveness configures the liveness tracker (spec.md §4.4).
type Liveness struct {
	// Enabled toggles allocation/GC-survival correlation.
	Enabled bool
	// SamplingInterval is the allocation sampler's configured
	// interval in bytes; used with MaxHeapSize to size the table.
	SamplingInterval int64
	// RecordHeapUsage additionally emits a heap-usage event on flush
	// (SPEC_FULL.md §6 item 1).
	RecordHeapUsage bool
}

// Recording configures chunk rotation and buffering (spec.md §4.6).
type Recording struct {
	ChunkSize         int64
	ChunkTime         time.Duration
	ConcurrencyLevel  int
	BufferSize        int
	TickInterval      time.Duration
	NativeLibCapacity int
}

// Config is the full set of engine knobs. Most fields here also back an
// ACTIVE_SETTING event (spec.md §4.6 "Settings emission"): recorder.New
// takes the whole Config and recorder.settingsPairs turns it into the
// key/value pairs Recorder.Start emits once at the beginning of the
// recording.
type Config struct {
	Liveness  Liveness
	Recording Recording

	// CollectNative is reported as an ACTIVE_SETTING. No sampling path
	// in this module performs native-frame lookups, so it has no other
	// effect.
	CollectNative bool

	// EventMask selects which event kinds are active; see event.Kind.
	// Recorder.RecordSample discards samples of a disabled kind,
	// mirroring ActiveSetting's per-event-type category tag (spec.md
	// §4.6). CPU-load, heap-usage, settings and native-library events
	// are written regardless of the mask.
	EventMask uint64
}

// Default returns the configuration used when none is supplied,
// matching the constants named throughout spec.md.
func Default() Config {
	return Config{
		Liveness: Liveness{
			Enabled:          true,
			SamplingInterval: 512 * 1024,
			RecordHeapUsage:  true,
		},
		Recording: Recording{
			ChunkSize:         MinChunkSize,
			ChunkTime:         MinChunkTime,
			ConcurrencyLevel:  DefaultConcurrencyLevel,
			BufferSize:        DefaultBufferSize,
			TickInterval:      time.Second,
			NativeLibCapacity: DefaultNativeLibCapacity,
		},
		CollectNative: true,
		EventMask:     ^uint64(0),
	}
}

package recorder

import (
	"strconv"

	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/event"
)

// settingPair is one (category, key, value) triple written as an
// ACTIVE_SETTING event, mirroring flightRecorder.cpp's
// writeSettings/writeBoolSetting/writeIntSetting/writeStringSetting
// family: every engine knob worth recording alongside a chunk is one
// category-tagged key/value string pair, generalized here from JVM
// command-line arguments to this engine's config.Config.
type settingPair struct {
	category event.Kind
	key      string
	value    string
}

// settingsPairs flattens cfg into the settings this recorder emits once
// at Start (spec.md §4.6 "Settings emission"). Each pair's category is
// the event.Kind it describes, matching the original's per-event-type
// T_EXECUTION_SAMPLE/T_HEAP_LIVE_OBJECT/etc. tags.
func settingsPairs(cfg config.Config) []settingPair {
	pairs := []settingPair{
		{event.KindActiveSetting, "concurrency", strconv.Itoa(cfg.Recording.ConcurrencyLevel)},
		{event.KindActiveSetting, "buffersize", strconv.Itoa(cfg.Recording.BufferSize)},
		{event.KindActiveSetting, "chunksize", strconv.FormatInt(cfg.Recording.ChunkSize, 10)},
		{event.KindActiveSetting, "chunktime", cfg.Recording.ChunkTime.String()},
		{event.KindActiveSetting, "tickinterval", cfg.Recording.TickInterval.String()},
		{event.KindActiveSetting, "nativelibcapacity", strconv.Itoa(cfg.Recording.NativeLibCapacity)},
		{event.KindActiveSetting, "collectnative", strconv.FormatBool(cfg.CollectNative)},
		{event.KindExecutionSample, "enabled", strconv.FormatBool(event.KindExecutionSample.Masked(cfg.EventMask))},
		{event.KindAllocInNewTLAB, "enabled", strconv.FormatBool(event.KindAllocInNewTLAB.Masked(cfg.EventMask))},
		{event.KindMonitorEnter, "enabled", strconv.FormatBool(event.KindMonitorEnter.Masked(cfg.EventMask))},
		{event.KindLiveObject, "enabled", strconv.FormatBool(cfg.Liveness.Enabled)},
	}
	if cfg.Liveness.Enabled {
		pairs = append(pairs,
			settingPair{event.KindLiveObject, "samplinginterval", strconv.FormatInt(cfg.Liveness.SamplingInterval, 10)},
			settingPair{event.KindHeapUsage, "enabled", strconv.FormatBool(cfg.Liveness.RecordHeapUsage)},
		)
	}
	return pairs
}

// writeActiveSettingEvent encodes one ACTIVE_SETTING event: a reserved
// size slot, the event kind, the ticks timestamp, the category this
// setting describes, then the key/value strings (spec.md §4.6 "Settings
// emission" ACTIVE_SETTING paragraph).
func writeActiveSettingEvent(buf *Buffer, ticks int64, category event.Kind, key, value string) {
	sizePos := buf.ReserveSize()
	start := buf.Offset()
	buf.PutVarInt(uint64(event.KindActiveSetting))
	buf.PutVarInt(uint64(ticks))
	buf.PutVarInt(uint64(category))
	buf.PutString(key)
	buf.PutString(value)
	buf.PatchSize(sizePos, uint64(buf.Offset()-start))
}

// writeNativeLibraryEvent encodes one NATIVE_LIBRARY event: name and
// address bounds, matching writeNativeLibraries' per-entry payload.
func writeNativeLibraryEvent(buf *Buffer, ticks int64, name string, minAddr, maxAddr uintptr) {
	sizePos := buf.ReserveSize()
	start := buf.Offset()
	buf.PutVarInt(uint64(event.KindNativeLibrary))
	buf.PutVarInt(uint64(ticks))
	buf.PutString(name)
	buf.PutVarInt(uint64(minAddr))
	buf.PutVarInt(uint64(maxAddr))
	buf.PatchSize(sizePos, uint64(buf.Offset()-start))
}

// writeSettingsLocked emits the settings snapshot into the tiny buffer.
// Called exactly once, from Start, never from Rotate/finishChunkLocked —
// settings describe the recording as a whole, not a single chunk
// (flightRecorder.cpp's Recording constructor calls writeSettings once;
// finishChunk never does). Caller must hold the exclusive lock.
func (r *Recorder) writeSettingsLocked() {
	for _, p := range settingsPairs(r.cfg) {
		writeActiveSettingEvent(r.tiny, r.clk.Ticks(), p.category, p.key, p.value)
		if r.tiny.NeedsFlush() {
			r.flushLocked(r.tiny)
		}
	}
}

// writeNativeLibrariesLocked emits one NATIVE_LIBRARY event for every
// codeArray entry published since the last call, advancing
// nativeLibWatermark to codeArray.Count() (spec.md §4.6 "native
// libraries (incremental from the CodeCacheArray count watermark)").
// Called from both Start and finishChunkLocked, matching
// flightRecorder.cpp's writeNativeLibraries call sites at chunk open and
// every chunk close. A negative watermark (no codeArray configured)
// disables the feature entirely. Caller must hold the exclusive lock.
func (r *Recorder) writeNativeLibrariesLocked() {
	if r.nativeLibWatermark < 0 || r.codeArray == nil {
		return
	}
	n := r.codeArray.Count()
	for i := r.nativeLibWatermark; i < n; i++ {
		lib := r.codeArray.Get(i)
		if lib == nil {
			continue
		}
		writeNativeLibraryEvent(r.tiny, r.clk.Ticks(), lib.Name(), lib.MinAddress(), lib.MaxAddress())
		if r.tiny.NeedsFlush() {
			r.flushLocked(r.tiny)
		}
	}
	r.nativeLibWatermark = n
}

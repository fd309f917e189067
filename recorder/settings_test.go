package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/codecache"
	"github.com/sanchda/java-profiler/config"
	"github.com/sanchda/java-profiler/event"
)

func TestSettingsPairsOmitsLivenessDetailWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Liveness.Enabled = false

	pairs := settingsPairs(cfg)
	var sawSamplingInterval bool
	for _, p := range pairs {
		if p.key == "samplinginterval" {
			sawSamplingInterval = true
		}
	}
	require.False(t, sawSamplingInterval)
}

func TestSettingsPairsIncludesLivenessDetailWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Liveness.Enabled = true

	pairs := settingsPairs(cfg)
	var found bool
	for _, p := range pairs {
		if p.category == event.KindLiveObject && p.key == "samplinginterval" {
			found = true
		}
	}
	require.True(t, found)
}

func TestWriteActiveSettingEventRoundTrips(t *testing.T) {
	b := NewBuffer(256, 1<<30)
	writeActiveSettingEvent(b, 42, event.KindExecutionSample, "enabled", "true")

	out := b.Bytes()
	_, n := decodeVarInt(out) // size
	out = out[n:]
	kind, n := decodeVarInt(out)
	require.Equal(t, uint64(event.KindActiveSetting), kind)
	out = out[n:]
	ticks, n := decodeVarInt(out)
	require.Equal(t, uint64(42), ticks)
	out = out[n:]
	category, n := decodeVarInt(out)
	require.Equal(t, uint64(event.KindExecutionSample), category)
}

func TestStartEmitsSettingsOnceIntoFreshRecording(t *testing.T) {
	r := newTestRecorder(t)
	sizeAfterStart := r.fw.Size()
	require.Greater(t, sizeAfterStart, int64(0))

	meta := NewBuffer(64*1024, 1<<30)
	writeElement(meta, buildSchema())
	headerAndMeta := int64(chunkHeaderSize + meta.Offset())
	require.Greater(t, sizeAfterStart, headerAndMeta) // settings follow the first chunk's metadata.

	// Rotating must not re-emit the settings snapshot: only native
	// libraries are re-emitted at chunk boundaries.
	require.NoError(t, r.Rotate())
	require.Equal(t, -1, r.nativeLibWatermark) // no codeArray configured in newTestRecorder.

	// The new chunk holds its header and metadata only.
	require.Equal(t, headerAndMeta, r.fw.Size()-r.ch.chunkStart)
}

func TestWriteNativeLibrariesLockedEmitsOnlyNewEntries(t *testing.T) {
	path := tempRecordingPath(t)
	arr := codecache.NewArray(4)
	arr.Add(codecache.New("libfoo.so", 0))

	r, err := New(path, config.Default(), arr, nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	require.Equal(t, 1, r.nativeLibWatermark)

	arr.Add(codecache.New("libbar.so", 1))
	r.mu.Lock()
	r.writeNativeLibrariesLocked()
	r.mu.Unlock()
	require.Equal(t, 2, r.nativeLibWatermark)
}

func TestWriteNativeLibrariesLockedNoopWithoutCodeArray(t *testing.T) {
	r := newTestRecorder(t)
	require.Equal(t, -1, r.nativeLibWatermark)

	r.mu.Lock()
	r.writeNativeLibrariesLocked()
	r.mu.Unlock()
	require.Equal(t, -1, r.nativeLibWatermark)
}

func tempRecordingPath(t *testing.T) string {
	return t.TempDir() + "/rec.jfr"
}

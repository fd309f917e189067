package recorder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/dict"
	"github.com/sanchda/java-profiler/event"
)

func TestWriteFrameTypePoolCoversAllFourTypes(t *testing.T) {
	b := NewBuffer(256, 1<<30)
	writeFrameTypePool(b)
	count, n := decodeVarInt(b.Bytes())
	require.Equal(t, uint64(4), count)
	require.Greater(t, len(b.Bytes()), n)
}

func TestWriteThreadPoolSortsAndDeduplicates(t *testing.T) {
	b := NewBuffer(256, 1<<30)
	writeThreadPool(b, map[int]struct{}{5: {}, 1: {}, 3: {}})

	count, n := decodeVarInt(b.Bytes())
	require.Equal(t, uint64(3), count)

	rest := b.Bytes()[n:]
	id, n2 := decodeVarInt(rest)
	require.Equal(t, uint64(1), id) // first entry is the smallest tid.
	rest = rest[n2:]
	_, n3 := decodeVarInt(rest) // skip the thread-name field (== tid here).
	require.Greater(t, n3, 0)
}

func TestPackBCILineOnlyMarkerBecomesZero(t *testing.T) {
	require.Equal(t, int32(0), packBCI(event.BCINative)) // bit 16 set in any negative bci.
	require.Equal(t, int32(0), packBCI(bciLineOnlyMask|7))
}

func TestPackBCIPositivePassesThrough(t *testing.T) {
	require.Equal(t, int32(42), packBCI(42))
}

func TestPackBCIMasksToSixteenBits(t *testing.T) {
	require.Equal(t, int32(0x1234), packBCI(0x20000|0x1234))
}

func TestWriteStackTracePoolEmitsPerTraceMarkerAndFourFramesFields(t *testing.T) {
	b := NewBuffer(1024, 1<<30)
	methods := newMethodTable()
	traces := map[uint32]event.CallTrace{
		1: {Frames: []event.Frame{{MethodID: 1, BCI: 10}, {MethodID: 2, BCI: 20}}},
	}
	writeStackTracePool(b, traces, methods)

	out := b.Bytes()
	count, n := decodeVarInt(out)
	require.Equal(t, uint64(1), count)
	out = out[n:]

	_, n = decodeVarInt(out) // trace id
	out = out[n:]
	// Top frame (MethodID 2) was never resolved by a resolver, so
	// isEntry defaults false -> marker byte 1.
	require.Equal(t, byte(1), out[0])
	out = out[1:]
	frameCount, n := decodeVarInt(out)
	require.Equal(t, uint64(2), frameCount)
	out = out[n:]

	for i := 0; i < 2; i++ {
		_, n = decodeVarInt(out) // method key
		out = out[n:]
		lineNumber, n := decodeVarInt(out)
		require.Equal(t, uint64(0), lineNumber)
		out = out[n:]
		bci, n := decodeVarInt(out)
		require.Equal(t, uint64(10+10*i), bci)
		out = out[n:]
		out = out[1:] // frame type
	}
}

func TestTraceMarkerByteUsesEntryBitForManagedTopFrame(t *testing.T) {
	methods := newMethodTable()
	methods.resolver = &fakeResolver{
		classes: map[int64]string{1: "C"},
		names:   map[int64]string{1: "m"},
		sigs:    map[int64]string{1: ""},
		entries: map[int64]bool{1: true},
	}
	trace := event.CallTrace{Frames: []event.Frame{{MethodID: 1}}}
	require.Equal(t, byte(0), traceMarkerByte(trace, methods))
}

func TestTraceMarkerByteFallsBackToTruncatedForNativeTopFrame(t *testing.T) {
	methods := newMethodTable()
	trace := event.CallTrace{Frames: []event.Frame{{Native: true, NativeName: "memcpy"}}, Truncated: true}
	require.Equal(t, byte(1), traceMarkerByte(trace, methods))
}

func TestWriteMethodPoolEmitsClassNameSignature(t *testing.T) {
	b := NewBuffer(256, 1<<30)
	writeMethodPool(b, map[int64]methodEntry{
		1: {class: "com.example.Foo", name: "bar", signature: "()V"},
	})

	count, n := decodeVarInt(b.Bytes())
	require.Equal(t, uint64(1), count)
	require.Greater(t, len(b.Bytes()), n)
}

func TestWriteDictPoolEmitsEveryInternedString(t *testing.T) {
	d := dict.NewDictionary()
	d.Lookup("a")
	d.Lookup("b")

	b := NewBuffer(256, 1<<30)
	writeDictPool(b, d)

	count, _ := decodeVarInt(b.Bytes())
	require.Equal(t, uint64(2), count)
}

func TestBuildConstantPoolOrdersTenSubpools(t *testing.T) {
	m := &fakeResolver{classes: map[int64]string{}, names: map[int64]string{}, sigs: map[int64]string{}}
	r := &Recorder{
		methods:  newMethodTable(),
		classes:  dict.NewDictionary(),
		packages: dict.NewDictionary(),
		symbols:  dict.NewDictionary(),
		strings:  dict.NewDictionary(),
		threads:  newThreadSet(),
		traces:   dict.NewCallTraceStorage(),
	}
	r.threads.add(1)
	r.methods.resolver = m
	r.traces.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 1}}})

	out := r.buildConstantPool()
	require.NotEmpty(t, out)

	first := NewBuffer(256, 1<<30)
	writeFrameTypePool(first)
	last := NewBuffer(256, 1<<30)
	writeLogLevelPool(last)
	require.True(t, bytes.HasPrefix(out, first.Bytes()))
	require.True(t, bytes.HasSuffix(out, last.Bytes()))
}

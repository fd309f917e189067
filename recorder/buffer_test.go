package recorder

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/config"
)

func TestPutVarIntRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, math.MaxUint64}
	for _, v := range values {
		b := NewBuffer(32, 1<<30)
		b.PutVarInt(v)
		got, n := decodeVarInt(b.Bytes())
		require.Equal(t, v, got)
		require.Equal(t, b.Offset(), n)
		require.Equal(t, VarIntLen(v), n)
	}
}

func TestPutStringTagAndLength(t *testing.T) {
	b := NewBuffer(64, 1<<30)
	b.PutString("hello")
	out := b.Bytes()
	require.Equal(t, stringTag, out[0])
	length, n := decodeVarInt(out[1:])
	require.Equal(t, uint64(5), length)
	require.Equal(t, "hello", string(out[1+n:1+n+5]))
}

func TestPutNullStringIsZeroTag(t *testing.T) {
	b := NewBuffer(8, 1<<30)
	b.PutNullString()
	require.Equal(t, []byte{nullTag}, b.Bytes())
}

func TestPutStringTruncatesAtMaxLength(t *testing.T) {
	b := NewBuffer(config.MaxStringLength+64, 1<<30)
	s := strings.Repeat("x", config.MaxStringLength+100)
	b.PutString(s)
	out := b.Bytes()
	length, n := decodeVarInt(out[1:])
	require.Equal(t, uint64(config.MaxStringLength), length)
	require.Len(t, out[1+n:], config.MaxStringLength)
}

func TestPutFloat32RoundTrip(t *testing.T) {
	b := NewBuffer(8, 1<<30)
	b.PutFloat32(3.5)
	require.Equal(t, math.Float32bits(3.5), binary.BigEndian.Uint32(b.Bytes()))
}

func TestReserveSizeThenPatchSize(t *testing.T) {
	b := NewBuffer(32, 1<<30)
	pos := b.ReserveSize()
	b.PutByte(1)
	b.PutByte(2)
	b.PutByte(3)
	b.PatchSize(pos, 8)

	got, n := decodeVarInt(b.Bytes()[pos:])
	require.Equal(t, uint64(8), got)
	require.Equal(t, 5, n) // PatchSize always writes a fixed 5-byte slot.
}

func TestNeedsFlushCrossesLimit(t *testing.T) {
	b := NewBuffer(16, 4)
	require.False(t, b.NeedsFlush())
	b.PutU32(0)
	require.True(t, b.NeedsFlush())
}

func TestResetRewindsWithoutReallocating(t *testing.T) {
	b := NewBuffer(16, 1<<30)
	b.PutU64(42)
	require.Equal(t, 8, b.Offset())
	b.Reset()
	require.Equal(t, 0, b.Offset())
	require.Empty(t, b.Bytes())
}

// decodeVarInt mirrors PutVarInt's encoding for test assertions, kept
// local to this file so the production package exposes no decoder
// (nothing in this module reads its own wire format back).
func decodeVarInt(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return v, len(b)
}

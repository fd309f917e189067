// Package recorder implements the chunked binary event log described
// in spec.md §4.6: fixed per-thread Buffers encode events with a
// JFR-style wire format, and Chunk owns the header/metadata/cpool
// framing that groups a run of Buffer flushes into one self-contained
// section of the recording file.
//
// Grounded on the teacher's vendored JFR reader
// (_examples/grafana-pyroscope/vendor/github.com/pyroscope-io/jfr-parser):
// parser/header.go for the exact 68-byte chunk header field order, and
// reader/compressed.go's `ulong` loop for the LEB128-style variable-length
// integer this package writes (the pack carries no usable third-party
// varint encoder with a verifiable API, so the codec here is a direct,
// from-scratch mirror of that loop rather than an untested dependency —
// see DESIGN.md).
package recorder

import (
	"encoding/binary"
	"math"

	"github.com/sanchda/java-profiler/config"
)

// Buffer is a fixed-capacity byte buffer with a relative write cursor,
// supporting the primitive encodings the chunk format needs (spec.md
// §4.6 "Buffer"). It is owned by exactly one writer at a time — the
// recorder hands out slots by hashed tid and never shares a Buffer
// across goroutines without draining it first.
type Buffer struct {
	data   []byte
	offset int
	limit  int
}

// NewBuffer allocates a Buffer of the given capacity. limit is the
// flush-if-needed threshold; recorder.New derives it with
// flushThreshold: capacity - 4KiB for the per-slot buffers, capacity -
// 128 for the small buffer backing log/CPU-load events.
func NewBuffer(capacity, limit int) *Buffer {
	return &Buffer{data: make([]byte, capacity), limit: limit}
}

// Offset returns the current write cursor.
func (b *Buffer) Offset() int { return b.offset }

// Reset rewinds the cursor to zero, discarding buffered bytes without
// reallocating. Called after a successful flush.
func (b *Buffer) Reset() { b.offset = 0 }

// Bytes returns the written prefix of the backing array.
func (b *Buffer) Bytes() []byte { return b.data[:b.offset] }

// NeedsFlush reports whether the buffer has crossed its configured
// threshold (spec.md §4.6 "flush_if_needed").
func (b *Buffer) NeedsFlush() bool { return b.offset >= b.limit }

// PutRaw appends p verbatim.
func (b *Buffer) PutRaw(p []byte) {
	b.offset += copy(b.data[b.offset:], p)
}

// PutByte appends a single byte.
func (b *Buffer) PutByte(v byte) {
	b.data[b.offset] = v
	b.offset++
}

// PutU16 appends a big-endian uint16 (spec.md §4.6 "big-endian
// u16/u32/u64").
func (b *Buffer) PutU16(v uint16) {
	binary.BigEndian.PutUint16(b.data[b.offset:], v)
	b.offset += 2
}

// PutU32 appends a big-endian uint32.
func (b *Buffer) PutU32(v uint32) {
	binary.BigEndian.PutUint32(b.data[b.offset:], v)
	b.offset += 4
}

// PutU64 appends a big-endian uint64.
func (b *Buffer) PutU64(v uint64) {
	binary.BigEndian.PutUint64(b.data[b.offset:], v)
	b.offset += 8
}

// PutVarInt appends v as a little-endian base-128 varint with a 7-bit
// continuation bit, matching the jfr-parser reader's `ulong` encoding
// (spec.md §4.6 "variable-length unsigned integers").
func (b *Buffer) PutVarInt(v uint64) {
	for v >= 0x80 {
		b.data[b.offset] = byte(v) | 0x80
		b.offset++
		v >>= 7
	}
	b.data[b.offset] = byte(v)
	b.offset++
}

// VarIntLen reports how many bytes PutVarInt would write for v, for
// callers sizing a patchable slot without committing a write.
func VarIntLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// stringTag / nullTag are the leading tag bytes spec.md §6's primitive
// encoding table specifies ("tag byte 3, varint length, raw UTF-8
// bytes; tag byte 0 for null").
const (
	nullTag   byte = 0
	stringTag byte = 3
)

// PutString appends a tag byte, a varint length, then the UTF-8 bytes
// of s, truncating to config.MaxStringLength bytes if necessary
// (spec.md §4.6 "length-prefixed UTF-8 with a MAX_STRING_LENGTH cap",
// §6 "tag byte 3, varint length, raw UTF-8 bytes").
func (b *Buffer) PutString(s string) {
	if len(s) > config.MaxStringLength {
		s = s[:config.MaxStringLength]
	}
	b.PutByte(stringTag)
	b.PutVarInt(uint64(len(s)))
	b.offset += copy(b.data[b.offset:], s)
}

// PutNullString writes the tag-0 null-string marker (spec.md §6 "tag
// byte 0 for null"), used where a field is optional.
func (b *Buffer) PutNullString() {
	b.PutByte(nullTag)
}

// PutFloat32 appends v as an IEEE-754 bit pattern, big-endian (spec.md
// §6 "Floats: IEEE-754 bit reinterpret, then big-endian u32").
func (b *Buffer) PutFloat32(v float32) {
	b.PutU32(math.Float32bits(v))
}

// ReserveSize reserves a 5-byte patchable slot for an event/section
// size, returning its offset for a later PatchSize call (spec.md §4.6
// "reserving a 1-byte or 5-byte size slot" — this package always
// reserves the full 5 bytes, trading a handful of wasted bytes per
// event for a single unconditional patch path).
func (b *Buffer) ReserveSize() int {
	pos := b.offset
	b.offset += 5
	return pos
}

// PatchSize writes size as a fixed-width 5-byte varint at pos, the
// in-place patch ddprof-lib/JFR use once an event or section's true
// length is known (spec.md §4.6 "in-place 5-byte varint patch for
// pre-reserved size fields"). size must fit in the 35 bits a 5-byte
// varint can carry, which RecordingBufferLimit-sized buffers guarantee.
func (b *Buffer) PatchSize(pos int, size uint64) {
	for i := 0; i < 4; i++ {
		b.data[pos+i] = byte(size) | 0x80
		size >>= 7
	}
	b.data[pos+4] = byte(size)
}

// Remaining reports the number of unused bytes in the backing array.
func (b *Buffer) Remaining() int { return len(b.data) - b.offset }

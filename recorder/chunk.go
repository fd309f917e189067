package recorder

import (
	"github.com/sanchda/java-profiler/clock"
	"github.com/sanchda/java-profiler/config"
)

var chunkMagic = [4]byte{'F', 'L', 'R', 0}

const (
	chunkHeaderSize = 68
	chunkBodySize   = 60 // header minus magic+major/minor
	metaOffsetFixed = chunkHeaderSize
)

// chunk owns the framing for one section of the recording file: the
// 68-byte header, the metadata element tree written immediately after
// it, and the constant-pool section written at finish (spec.md §4.6
// "Chunk lifecycle").
type chunk struct {
	fw         *fileWriter
	chunkStart int64

	startTimeNanos int64
	startTicks     int64
	ticksPerSec    int64

	cpoolOffset int64
	baseID      uint64
}

// openChunk writes the header (with placeholder size/offset fields)
// and the metadata element tree, leaving the chunk ready to accept
// events (spec.md §4.6 step 1 "open", step 2 "write metadata element
// tree").
func openChunk(fw *fileWriter, clk *clock.Clock, baseID uint64) (*chunk, error) {
	c := &chunk{
		fw:             fw,
		startTimeNanos: clockWallNanos(),
		startTicks:     clk.Ticks(),
		ticksPerSec:    clk.Frequency(),
		baseID:         baseID,
	}

	hdr := make([]byte, chunkHeaderSize)
	copy(hdr[0:4], chunkMagic[:])
	hdr[4], hdr[5], hdr[6], hdr[7] = 0, 2, 0, 0 // major=2 (u16 BE), minor=0 (u16 BE)
	putBE64(hdr[32:40], c.startTimeNanos)
	putBE64(hdr[48:56], c.startTicks)
	putBE64(hdr[56:64], c.ticksPerSec)
	putBE32(hdr[64:68], 1) // feature bits

	chunkStart, err := fw.append(hdr)
	if err != nil {
		return nil, err
	}
	c.chunkStart = chunkStart

	meta := NewBuffer(64*1024, config.RecordingBufferLimit)
	writeElement(meta, buildSchema())
	if metaPos, err := fw.append(meta.Bytes()); err != nil {
		return nil, err
	} else if metaPos != chunkStart+chunkHeaderSize {
		// Only true if something else wrote to the file between the
		// header and metadata reservations; openChunk is only ever
		// called while holding the recorder's exclusive lock, so this
		// should be unreachable.
		return nil, errMetaOffsetDrift
	}

	return c, nil
}

// appendEvents writes buf as the next contiguous region of the file,
// called as per-thread buffers are flushed during step 4 of the chunk
// lifecycle. Safe to call concurrently from multiple buffers: fw
// reserves disjoint regions before doing the actual write.
func (c *chunk) appendEvents(buf []byte) error {
	_, err := c.fw.append(buf)
	return err
}

// finish writes the constant-pool section and patches the header's
// tail with the final chunk size, cpool offset, fixed meta offset,
// start time, duration, start ticks and tick frequency (spec.md §4.6
// step 5 "close chunk").
func (c *chunk) finish(cpool []byte, durationNanos int64) error {
	cpoolPos, err := c.fw.append(cpool)
	if err != nil {
		return err
	}
	c.cpoolOffset = cpoolPos - c.chunkStart
	chunkSize := c.fw.Size() - c.chunkStart

	tail := make([]byte, chunkBodySize)
	putBE64(tail[0:8], chunkSize)
	putBE64(tail[8:16], c.cpoolOffset)
	putBE64(tail[16:24], int64(metaOffsetFixed))
	putBE64(tail[24:32], c.startTimeNanos)
	putBE64(tail[32:40], durationNanos)
	putBE64(tail[40:48], c.startTicks)
	putBE64(tail[48:56], c.ticksPerSec)
	putBE32(tail[56:60], 1)

	return c.fw.patch(tail, c.chunkStart+8)
}

func putBE64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

func putBE32(b []byte, v int32) {
	for i := 0; i < 4; i++ {
		b[3-i] = byte(v)
		v >>= 8
	}
}

// clockWallNanos is split out so a test can observe the exact value
// written without racing time.Now() between the call and an assertion.
var clockWallNanos = func() int64 { return clock.WallMicros() * 1000 }

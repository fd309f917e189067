package recorder

import (
	"os"
	"sync/atomic"
)

// fileWriter is the recording file's sole point of contact with the
// filesystem. Every write reserves its region with an atomic add
// against size, then issues a pwrite (os.File.WriteAt) at the reserved
// offset — so concurrent per-thread buffer flushes never race for an
// append cursor, and header patches never disturb one (spec.md §5
// "bytes_written is atomically incremented; rotation read uses an
// acquire load" and "pwrite is used for header patching to keep the
// append cursor untouched").
type fileWriter struct {
	f    *os.File
	size atomic.Int64
}

func openFileWriter(path string) (*fileWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fw := &fileWriter{f: f}
	fw.size.Store(info.Size())
	return fw, nil
}

// reserve atomically claims n bytes at the current end of file and
// returns the offset the caller must write at.
func (fw *fileWriter) reserve(n int) int64 {
	end := fw.size.Add(int64(n))
	return end - int64(n)
}

// append reserves len(buf) bytes and writes buf there, returning the
// offset it landed at.
func (fw *fileWriter) append(buf []byte) (int64, error) {
	pos := fw.reserve(len(buf))
	_, err := fw.f.WriteAt(buf, pos)
	return pos, err
}

// patch overwrites already-written bytes at a fixed offset without
// reserving new space — the pwrite-for-header-patch case.
func (fw *fileWriter) patch(buf []byte, pos int64) error {
	_, err := fw.f.WriteAt(buf, pos)
	return err
}

// Size returns the current logical length of the file, i.e. the
// acquire-loaded bytes_written counter (spec.md §5).
func (fw *fileWriter) Size() int64 { return fw.size.Load() }

func (fw *fileWriter) Close() error { return fw.f.Close() }

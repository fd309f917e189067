package recorder

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReservesDisjointRegions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.bin")
	fw, err := openFileWriter(path)
	require.NoError(t, err)
	defer fw.Close()

	pos1, err := fw.append([]byte("abc"))
	require.NoError(t, err)
	pos2, err := fw.append([]byte("de"))
	require.NoError(t, err)

	require.Equal(t, int64(0), pos1)
	require.Equal(t, int64(3), pos2)
	require.Equal(t, int64(5), fw.Size())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcde", string(content))
}

func TestConcurrentAppendsNeverOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.bin")
	fw, err := openFileWriter(path)
	require.NoError(t, err)
	defer fw.Close()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fw.append(make([]byte, 16))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(n*16), fw.Size())
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(n*16), info.Size())
}

func TestPatchDoesNotMoveSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.bin")
	fw, err := openFileWriter(path)
	require.NoError(t, err)
	defer fw.Close()

	_, err = fw.append([]byte("0123456789"))
	require.NoError(t, err)
	sizeBefore := fw.Size()

	require.NoError(t, fw.patch([]byte("XY"), 2))
	require.Equal(t, sizeBefore, fw.Size())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "01XY456789", string(content))
}

func TestOpenFileWriterResumesExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.bin")
	require.NoError(t, os.WriteFile(path, []byte("preexisting"), 0o644))

	fw, err := openFileWriter(path)
	require.NoError(t, err)
	defer fw.Close()

	require.Equal(t, int64(len("preexisting")), fw.Size())
}

package codecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArrayAddAndResolve(t *testing.T) {
	a := NewArray(4)
	require.Equal(t, 0, a.Count())

	lib := New("libfoo.so", 0)
	lib.Add(0x1000, 0x100, "foo", true)
	lib.Sort()
	require.True(t, a.Add(lib))
	require.Equal(t, 1, a.Count())

	name, found := a.Resolve(0x1050)
	require.True(t, found)
	require.Equal(t, "foo", name)

	_, found = a.Resolve(0xdead)
	require.False(t, found)
}

func TestArrayFullRejectsAdd(t *testing.T) {
	a := NewArray(1)
	require.True(t, a.Add(New("a", 0)))
	require.False(t, a.Add(New("b", 1)))
	require.Equal(t, 1, a.Count())
}

func TestArrayGetOutOfRange(t *testing.T) {
	a := NewArray(2)
	require.Nil(t, a.Get(-1))
	require.Nil(t, a.Get(5))
}

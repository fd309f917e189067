package dict

import (
	"testing"

	"github.com/sanchda/java-profiler/event"
	"github.com/stretchr/testify/require"
)

func TestDictionaryLookupStable(t *testing.T) {
	d := NewDictionary()
	id1 := d.Lookup("foo")
	id2 := d.Lookup("bar")
	id3 := d.Lookup("foo")

	require.Equal(t, id1, id3)
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, d.Len())
}

func TestDictionaryCollectInsertionOrder(t *testing.T) {
	d := NewDictionary()
	d.Lookup("a")
	d.Lookup("b")
	d.Lookup("c")

	got := d.Collect()
	require.Equal(t, "a", got[0])
	require.Equal(t, "b", got[1])
	require.Equal(t, "c", got[2])
}

func TestDictionaryBoundedLookupExceedsLimit(t *testing.T) {
	d := NewDictionary()
	id := d.BoundedLookup("a", 1)
	require.NotEqual(t, BoundedLimitExceeded, id)
	require.Equal(t, BoundedLimitExceeded, d.BoundedLookup("b", 1))
	// existing entries still resolve even after the cap is hit
	require.Equal(t, id, d.BoundedLookup("a", 1))
}

func TestCallTraceStoragePutDedups(t *testing.T) {
	s := NewCallTraceStorage()
	trace := event.CallTrace{Frames: []event.Frame{{MethodID: 1, BCI: 2}}}
	id1 := s.Put(trace)
	id2 := s.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 1, BCI: 2}}})

	require.Equal(t, id1, id2)
	require.Equal(t, 1, s.Len())
}

func TestCallTraceStorageDistinctTraces(t *testing.T) {
	s := NewCallTraceStorage()
	id1 := s.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 1}}})
	id2 := s.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 2}}})
	id3 := s.Put(event.CallTrace{Truncated: true})

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id2, id3)
}

func TestCallTraceStorageCollectIsDelta(t *testing.T) {
	s := NewCallTraceStorage()
	s.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 1}}})

	first := s.Collect()
	require.Len(t, first, 1)

	second := s.Collect()
	require.Empty(t, second)

	s.Put(event.CallTrace{Frames: []event.Frame{{MethodID: 2}}})
	third := s.Collect()
	require.Len(t, third, 1)
}

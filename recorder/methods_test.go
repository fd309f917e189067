package recorder

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/event"
)

type fakeResolver struct {
	classes, names, sigs map[int64]string
	entries              map[int64]bool
}

func (f *fakeResolver) ResolveMethod(methodID int64) (class, name, signature string, isEntry, ok bool) {
	class, ok1 := f.classes[methodID]
	name, ok2 := f.names[methodID]
	sig := f.sigs[methodID]
	return class, name, sig, f.entries[methodID], ok1 && ok2
}

func TestLookupManagedUsesResolverOnce(t *testing.T) {
	tbl := newMethodTable()
	tbl.resolver = &fakeResolver{
		classes: map[int64]string{7: "com.example.Foo"},
		names:   map[int64]string{7: "bar"},
		sigs:    map[int64]string{7: "()V"},
	}

	id := tbl.lookupManaged(7)
	require.Equal(t, int64(7), id)
	require.Equal(t, "com.example.Foo", tbl.byID[7].class)
	require.True(t, tbl.byID[7].marked)
}

func TestLookupManagedCapturesIsEntry(t *testing.T) {
	tbl := newMethodTable()
	tbl.resolver = &fakeResolver{
		classes: map[int64]string{7: "com.example.Foo"},
		names:   map[int64]string{7: "bar"},
		sigs:    map[int64]string{7: "()V"},
		entries: map[int64]bool{7: true},
	}

	tbl.lookupManaged(7)
	require.True(t, tbl.isEntry(7))
	require.False(t, tbl.isEntry(999)) // never looked up.
}

func TestIsEntryFalseForNativeKey(t *testing.T) {
	tbl := newMethodTable()
	id := tbl.lookupNative("malloc")
	require.False(t, tbl.isEntry(id))
}

func TestMethodTableConcurrentLookupDoesNotRace(t *testing.T) {
	tbl := newMethodTable()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl.lookupManaged(int64(i % 8))
			tbl.lookupNative("malloc")
			tbl.collectMarked()
		}(i)
	}
	wg.Wait()
}

func TestLookupManagedWithoutResolverStillMarks(t *testing.T) {
	tbl := newMethodTable()
	id := tbl.lookupManaged(42)
	require.Equal(t, int64(42), id)
	require.Equal(t, "", tbl.byID[42].class)
	require.True(t, tbl.byID[42].marked)
}

func TestLookupNativeSharesIDForRepeatedSymbol(t *testing.T) {
	tbl := newMethodTable()
	id1 := tbl.lookupNative("malloc")
	id2 := tbl.lookupNative("malloc")
	require.Equal(t, id1, id2)
	require.Less(t, id1, int64(0))
}

func TestLookupNativeDistinctSymbolsGetDistinctIDs(t *testing.T) {
	tbl := newMethodTable()
	id1 := tbl.lookupNative("malloc")
	id2 := tbl.lookupNative("free")
	require.NotEqual(t, id1, id2)
}

func TestClassifyNativeKernelSuffix(t *testing.T) {
	class, name := classifyNative("do_page_fault_[k]")
	require.Equal(t, "(k)", class)
	require.Equal(t, "do_page_fault", name)
}

func TestClassifyNativePlainCFrame(t *testing.T) {
	class, name := classifyNative("malloc")
	require.Equal(t, "", class)
	require.Equal(t, "malloc", name)
}

func TestClassifyNativeMangledCPPSplitsClassAndMethod(t *testing.T) {
	// _ZN3Foo3barEv demangles to "Foo::bar", with the argument list
	// stripped by the Simplified preset; classifyNative splits the
	// result on its last "::".
	class, name := classifyNative("_ZN3Foo3barEv")
	require.Equal(t, "Foo", class)
	require.True(t, strings.HasPrefix(name, "bar"), "got %q", name)
}

func TestLookupDispatchesOnFrameNative(t *testing.T) {
	tbl := newMethodTable()

	managedID := tbl.lookup(event.Frame{MethodID: 5})
	require.Equal(t, int64(5), managedID)

	nativeID := tbl.lookup(event.Frame{Native: true, NativeName: "memcpy"})
	require.Less(t, nativeID, int64(0))
}

func TestCollectMarkedClearsMarksForNextChunk(t *testing.T) {
	tbl := newMethodTable()
	tbl.lookupManaged(1)

	first := tbl.collectMarked()
	require.Len(t, first, 1)
	require.False(t, tbl.byID[1].marked)

	second := tbl.collectMarked()
	require.Empty(t, second)
}

func TestCollectMarkedOnlyReturnsMethodsTouchedSinceLastCollect(t *testing.T) {
	tbl := newMethodTable()
	tbl.lookupManaged(1)
	tbl.collectMarked()

	tbl.lookupManaged(2)
	second := tbl.collectMarked()
	require.Len(t, second, 1)
	require.Contains(t, second, int64(2))
}

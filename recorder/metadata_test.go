package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanchda/java-profiler/event"
)

func TestWriteElementPatchesItsOwnSize(t *testing.T) {
	b := NewBuffer(256, 1<<30)
	e := element{
		name:  "class",
		attrs: [][2]string{{"name", "jdk.ExecutionSample"}},
		children: []element{
			{name: "field", attrs: [][2]string{{"name", "startTime"}}},
		},
	}
	writeElement(b, e)

	got, n := decodeVarInt(b.Bytes())
	require.Equal(t, uint64(b.Offset()-5), got)
	require.Equal(t, 5, n)
}

func TestBuildSchemaCoversEveryKnownEventKind(t *testing.T) {
	b := NewBuffer(64*1024, 1<<30)
	writeElement(b, buildSchema())
	require.Greater(t, b.Offset(), 0)

	classes := buildSchema().children[0].children
	require.Len(t, classes, int(event.KindRecordingInfo)+1)
	for i, c := range classes {
		require.Equal(t, event.Kind(i).String(), c.attrs[0][1])
	}
}

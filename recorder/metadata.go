package recorder

import "github.com/sanchda/java-profiler/event"

// element is one node of the metadata tree written once at the top of
// every chunk (spec.md §4.6 "write metadata element tree... encodes the
// type schema"). Real JFR metadata is richer; this mirrors its shape
// (a "metadata" element holding one "root" element whose children are
// "class" elements, each describing a field list) closely enough that a chunk
// is self-describing without embedding a second, parallel schema
// format.
type element struct {
	name     string
	attrs    [][2]string
	children []element
}

// writeElement serializes one element recursively: a reserved 5-byte
// size slot, its name, its attributes, its children, then the slot is
// patched with the element's total encoded length (spec.md §4.6,
// mirroring the per-event size-slot pattern at the metadata-tree
// level).
func writeElement(b *Buffer, e element) {
	sizePos := b.ReserveSize()
	start := b.Offset()

	b.PutString(e.name)
	b.PutVarInt(uint64(len(e.attrs)))
	for _, kv := range e.attrs {
		b.PutString(kv[0])
		b.PutString(kv[1])
	}
	b.PutVarInt(uint64(len(e.children)))
	for _, c := range e.children {
		writeElement(b, c)
	}

	b.PatchSize(sizePos, uint64(b.Offset()-start))
}

// buildSchema produces the metadata tree for every event.Kind this
// recorder might emit. Each kind becomes a "class" element named after
// event.Kind.String(), with the same two "field" children (startTime,
// tid) for every kind; the other payload fields writeSampleEvent writes
// are not described. The schema is coarse (no nested complex types),
// since nothing here round-trips through a real JFR-consuming tool.
func buildSchema() element {
	classes := make([]element, 0, 16)
	for k := event.Kind(0); k.String() != "unknown"; k++ {
		classes = append(classes, element{
			name:  "class",
			attrs: [][2]string{{"name", k.String()}},
			children: []element{
				{name: "field", attrs: [][2]string{{"name", "startTime"}, {"type", "long"}}},
				{name: "field", attrs: [][2]string{{"name", "tid"}, {"type", "int"}}},
			},
		})
	}
	return element{
		name: "metadata",
		children: []element{
			{name: "root", children: classes},
		},
	}
}

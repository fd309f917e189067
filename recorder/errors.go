package recorder

import "github.com/pkg/errors"

// errMetaOffsetDrift guards an invariant that only a concurrency bug in
// openChunk's caller could violate (spec.md §4.6 step 1/2: the
// metadata element tree always starts exactly chunkHeaderSize bytes
// into its chunk).
var errMetaOffsetDrift = errors.New("recorder: metadata offset drifted from its fixed position")

// errNoActiveChunk is returned by Rotate and Dump when the recorder was
// never started or has already been stopped. In that state
// RecordSample drops the sample and Stop returns nil.
var errNoActiveChunk = errors.New("recorder: no active chunk")

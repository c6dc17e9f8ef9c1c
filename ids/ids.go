// Package ids holds the opaque ordinal identifiers shared across every
// corefts subpackage: FieldId and TermId (process-wide, 32-bit, never
// reused), SegmentId (32-bit, monotonic across the index's life) and DocRef
// (SegmentId, ord).
package ids

import "fmt"

// FieldId identifies a schema field. Assigned densely from 1 by Schema.
type FieldId uint32

// TermId identifies an interned term's byte sequence. Born on first
// insertion, immortal for the lifetime of the index.
type TermId uint32

// SegmentId identifies a segment. Monotonically increasing, never reused.
type SegmentId uint32

// Ord is a document's dense position within one segment. A segment holds at
// most 65536 documents, so Ord never needs more than 16
// bits, but is carried as uint16 explicitly to make that cap visible in the
// type system.
type Ord = uint16

// MaxDocsPerSegment is the hard cap on documents per segment, enforced
// wherever a segment builder accepts new documents.
const MaxDocsPerSegment = 1 << 16

// DocRef identifies one document instance on disk: which segment, and its
// dense ordinal within that segment.
type DocRef struct {
	Segment SegmentId
	Ord     Ord
}

func (r DocRef) String() string {
	return fmt.Sprintf("%d/%d", r.Segment, r.Ord)
}

// Less gives DocRefs the ascending tiebreak order collectors require:
// segment first, then ord.
func (r DocRef) Less(o DocRef) bool {
	if r.Segment != o.Segment {
		return r.Segment < o.Segment
	}
	return r.Ord < o.Ord
}

// Package kcodec implements the deterministic byte-key layout shared by
// every on-disk table: a one-byte domain tag followed by fixed-width
// big-endian integer components, chosen so lexicographic key order always
// matches numeric order within a component.
package kcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/go-mizu/corefts/ids"
)

// Domain tags, one byte each. Keeping them as named bytes (not iota) lets
// every key stay human-inspectable in a hex dump: '.', 'a', 'd', 'v', 's',
// 'x', 't', 'T', 'k' each read back as the domain they belong to.
const (
	TagSchema     byte = '.' // .schema -> schema blob
	TagActive     byte = 'a' // a/<segment> -> active marker
	TagPostings   byte = 'd' // d/<field>/<term>/<segment> -> DocIdSet
	TagStored     byte = 'v' // v/<segment>/<ord>/<field>/<kind> -> bytes
	TagStat       byte = 's' // s/<segment>/<name> -> i64 LE
	TagDeletions  byte = 'x' // x/<segment> -> DocIdSet
	TagTermFwd    byte = 't' // t/<term-bytes> -> TermId
	TagTermRev    byte = 'T' // T/<term-id> -> term-bytes
	TagPrimaryKey byte = 'k' // k/<primary-key-bytes> -> DocRef
)

// SchemaKey returns the single well-known key ".schema".
func SchemaKey() []byte { return []byte{TagSchema} }

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// Active returns the "a/<segment>" presence-marker key.
func Active(seg ids.SegmentId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagActive
	putU32(k[1:], uint32(seg))
	return k
}

// Postings returns the "d/<field>/<term>/<segment>" key. The field and
// term come before the segment so a prefix scan on (field, term) is
// contiguous across every segment carrying that pair -- the property
// MergeEngine relies on to avoid a merge-sort.
func Postings(field ids.FieldId, termID ids.TermId, seg ids.SegmentId) []byte {
	k := make([]byte, 1+4+4+4)
	k[0] = TagPostings
	putU32(k[1:5], uint32(field))
	putU32(k[5:9], uint32(termID))
	putU32(k[9:13], uint32(seg))
	return k
}

// PostingsPrefix returns the prefix shared by every segment's postings for
// (field, term).
func PostingsPrefix(field ids.FieldId, termID ids.TermId) []byte {
	k := make([]byte, 1+4+4)
	k[0] = TagPostings
	putU32(k[1:5], uint32(field))
	putU32(k[5:9], uint32(termID))
	return k
}

// PostingsFieldPrefix returns the prefix shared by every term of one field,
// across all segments.
func PostingsFieldPrefix(field ids.FieldId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagPostings
	putU32(k[1:5], uint32(field))
	return k
}

// StoredValueKind tags the encoding of one stored field value.
type StoredValueKind byte

const (
	StoredString StoredValueKind = 's'
	StoredI64    StoredValueKind = 'i'
	StoredBool   StoredValueKind = 'b'
	StoredTime   StoredValueKind = 't'
	// StoredFieldLen is index metadata rather than a caller-visible value:
	// the analyzed token count of one (document, field) pair, written for
	// every indexed field and consulted by the BM25 length normalization.
	StoredFieldLen StoredValueKind = 'l'
)

// StatDocCount is the per-segment document-count statistic name.
const StatDocCount = "doc_count"

// StatTokens returns the per-segment statistic name summing the analyzed
// token count of one field across every document, the numerator of the
// average field length BM25 divides by.
func StatTokens(field ids.FieldId) string {
	return fmt.Sprintf("tokens_%d", field)
}

// Stored returns the "v/<segment>/<ord>/<field>/<kind>" key.
func Stored(seg ids.SegmentId, ord ids.Ord, field ids.FieldId, kind StoredValueKind) []byte {
	k := make([]byte, 1+4+2+4+1)
	k[0] = TagStored
	putU32(k[1:5], uint32(seg))
	putU16(k[5:7], ord)
	putU32(k[7:11], uint32(field))
	k[11] = byte(kind)
	return k
}

// StoredDocPrefix returns the prefix of every stored field for one document.
func StoredDocPrefix(seg ids.SegmentId, ord ids.Ord) []byte {
	k := make([]byte, 1+4+2)
	k[0] = TagStored
	putU32(k[1:5], uint32(seg))
	putU16(k[5:7], ord)
	return k
}

// StoredSegmentPrefix returns the prefix of every stored value in a segment.
func StoredSegmentPrefix(seg ids.SegmentId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagStored
	putU32(k[1:5], uint32(seg))
	return k
}

// Stat returns the "s/<segment>/<name>" key.
func Stat(seg ids.SegmentId, name string) []byte {
	k := make([]byte, 1+4+len(name))
	k[0] = TagStat
	putU32(k[1:5], uint32(seg))
	copy(k[5:], name)
	return k
}

// StatSegmentPrefix returns the prefix of every statistic for a segment.
func StatSegmentPrefix(seg ids.SegmentId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagStat
	putU32(k[1:5], uint32(seg))
	return k
}

// Deletions returns the "x/<segment>" tombstone-list key.
func Deletions(seg ids.SegmentId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagDeletions
	putU32(k[1:5], uint32(seg))
	return k
}

// TermForward returns the "t/<term-bytes>" key.
func TermForward(termBytes []byte) []byte {
	k := make([]byte, 1+len(termBytes))
	k[0] = TagTermFwd
	copy(k[1:], termBytes)
	return k
}

// TermForwardPrefix returns the forward-term-table key prefix for terms
// starting with prefix.
func TermForwardPrefix(prefix []byte) []byte {
	k := make([]byte, 1+len(prefix))
	k[0] = TagTermFwd
	copy(k[1:], prefix)
	return k
}

// TermReverse returns the "T/<term-id>" key.
func TermReverse(id ids.TermId) []byte {
	k := make([]byte, 1+4)
	k[0] = TagTermRev
	putU32(k[1:], uint32(id))
	return k
}

// PrimaryKey returns the "k/<primary-key-bytes>" key.
func PrimaryKey(pk []byte) []byte {
	k := make([]byte, 1+len(pk))
	k[0] = TagPrimaryKey
	copy(k[1:], pk)
	return k
}

// PrimaryKeyPrefix returns the domain prefix for the primary-key table,
// used by docindex.Open's recovery scan of the full table.
func PrimaryKeyPrefix() []byte { return []byte{TagPrimaryKey} }

// TermBytes strips the "t/" domain tag, returning the interned bytes.
func TermBytes(key []byte) ([]byte, error) {
	if len(key) < 1 || key[0] != TagTermFwd {
		return nil, fmt.Errorf("kcodec: not a term-forward key")
	}
	return key[1:], nil
}

// Package docid implements Set: a sorted set of u16 doc-ords stored on
// disk as a packed sequence of big-endian 2-byte integers, with
// union/intersection/difference merging sorted cursors in a single linear
// pass. Once a set's cardinality crosses denseThreshold, Set additionally
// carries a github.com/RoaringBitmap/roaring bitmap for O(1) membership
// probes; iteration order and algebra results are identical either way.
package docid

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// denseThreshold is the cardinality above which Set also builds a roaring
// bitmap for membership. 4096 keeps small postings lists (the overwhelming
// majority in a real corpus) allocation-free.
const denseThreshold = 4096

// Set is an immutable, ascending-sorted collection of doc ordinals.
// The zero value is the empty set.
type Set struct {
	packed []byte         // big-endian uint16 pairs, strictly ascending
	dense  *roaring.Bitmap // present once cardinality > denseThreshold
}

// FromPacked wraps a borrowed (zero-copy) packed byte slice as read
// straight from the backend. The caller must not mutate b afterward.
func FromPacked(b []byte) Set {
	s := Set{packed: b}
	if len(b)/2 > denseThreshold {
		s.dense = toRoaring(b)
	}
	return s
}

// Empty is the canonical empty set.
var Empty = Set{}

func toRoaring(packed []byte) *roaring.Bitmap {
	bm := roaring.New()
	for i := 0; i+1 < len(packed); i += 2 {
		bm.Add(uint32(binary.BigEndian.Uint16(packed[i : i+2])))
	}
	return bm
}

// FromSortedOrds builds an owned Set from an already ascending, deduped
// slice of ordinals (builder output).
func FromSortedOrds(ords []uint16) Set {
	packed := make([]byte, 2*len(ords))
	for i, o := range ords {
		binary.BigEndian.PutUint16(packed[2*i:], o)
	}
	return FromPacked(packed)
}

// Builder accumulates ordinals in any order, possibly with duplicates, and
// produces a canonical Set on Build. segment.Builder accumulates each
// (field, term) postings list with one, and merge.Engine uses one per
// (field, term) to collect remapped ordinals from the source segments.
type Builder struct {
	ords []uint16
}

func (b *Builder) Add(ord uint16) { b.ords = append(b.ords, ord) }

// AppendSorted appends ords that are already known to be ascending and
// greater than everything already added (the merge fast path).
func (b *Builder) AppendSorted(ords []uint16) { b.ords = append(b.ords, ords...) }

func (b *Builder) Build() Set {
	sort.Slice(b.ords, func(i, j int) bool { return b.ords[i] < b.ords[j] })
	out := b.ords[:0:0]
	var last uint16
	for i, o := range b.ords {
		if i > 0 && o == last {
			continue
		}
		out = append(out, o)
		last = o
	}
	return FromSortedOrds(out)
}

// Cardinality is the number of ordinals in the set.
func (s Set) Cardinality() int {
	if s.dense != nil {
		return int(s.dense.GetCardinality())
	}
	return len(s.packed) / 2
}

// Bytes returns the packed on-disk encoding.
func (s Set) Bytes() []byte { return s.packed }

// Contains reports doc-ord membership. With a dense representation this is
// O(1); otherwise it's a binary search over the packed bytes, still far
// cheaper than materializing an iterator.
func (s Set) Contains(ord uint16) bool {
	if s.dense != nil {
		return s.dense.Contains(uint32(ord))
	}
	n := len(s.packed) / 2
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		v := binary.BigEndian.Uint16(s.packed[2*mid:])
		if v == ord {
			return true
		}
		if v < ord {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return false
}

// Cursor sequentially yields ordinals in ascending order.
type Cursor struct {
	packed []byte
	i      int
}

func (s Set) Cursor() *Cursor { return &Cursor{packed: s.packed} }

// Next advances and reports whether a value is available.
func (c *Cursor) Next() (uint16, bool) {
	if 2*c.i+1 >= len(c.packed) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.packed[2*c.i:])
	c.i++
	return v, true
}

// merge runs f over the ascending union of a and b's cursors, calling f
// with (ord, inA, inB) for every distinct ordinal seen. All three
// combinators below are built on this single linear pass.
func merge(a, b Set, f func(ord uint16, inA, inB bool)) {
	ca, cb := a.Cursor(), b.Cursor()
	va, oka := ca.Next()
	vb, okb := cb.Next()
	for oka || okb {
		switch {
		case oka && (!okb || va < vb):
			f(va, true, false)
			va, oka = ca.Next()
		case okb && (!oka || vb < va):
			f(vb, false, true)
			vb, okb = cb.Next()
		default: // va == vb
			f(va, true, true)
			va, oka = ca.Next()
			vb, okb = cb.Next()
		}
	}
}

// Union returns every ord in a OR b, no duplicates.
func Union(a, b Set) Set {
	var bd Builder
	merge(a, b, func(ord uint16, _, _ bool) { bd.Add(ord) })
	return bd.Build()
}

// Intersection returns every ord in a AND b.
func Intersection(a, b Set) Set {
	var bd Builder
	merge(a, b, func(ord uint16, inA, inB bool) {
		if inA && inB {
			bd.Add(ord)
		}
	})
	return bd.Build()
}

// Difference returns every ord in a AND NOT b.
func Difference(a, b Set) Set {
	var bd Builder
	merge(a, b, func(ord uint16, inA, inB bool) {
		if inA && !inB {
			bd.Add(ord)
		}
	})
	return bd.Build()
}

// Full returns the universe [0, totalDocs) as a Set, used when negated
// boolean-program results are materialized.
func Full(totalDocs int) Set {
	if totalDocs <= 0 {
		return Empty
	}
	if totalDocs > 1<<16 {
		panic(fmt.Sprintf("docid: totalDocs %d exceeds segment capacity", totalDocs))
	}
	ords := make([]uint16, totalDocs)
	for i := range ords {
		ords[i] = uint16(i)
	}
	return FromSortedOrds(ords)
}

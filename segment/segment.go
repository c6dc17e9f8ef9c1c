// Package segment implements the in-memory accumulation structure a writer
// fills one document at a time, bounded to MaxDocsPerSegment documents,
// then flushes once to the KV backend as a complete, write-once segment.
// It builds everything in RAM -- a postings table per
// (field, term) plus a side table of stored values -- and serializes once,
// never incrementally rewriting already-written data.
package segment

import (
	"fmt"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
)

// Posting is one (field, term, position) occurrence to add for the document
// currently being built. Position feeds a future phrase-adjacency
// consumer; DocIdSet construction only needs Field and Term.
type Posting struct {
	Field    ids.FieldId
	Term     ids.TermId
	Position uint32
}

// StoredField is one already-encoded stored value
// (mapping.EncodeStored output) to attach to the document being built.
type StoredField struct {
	Field ids.FieldId
	Kind  kcodec.StoredValueKind
	Bytes []byte
}

type postingsKey struct {
	Field ids.FieldId
	Term  ids.TermId
}

type storedValue struct {
	Field ids.FieldId
	Kind  kcodec.StoredValueKind
	Bytes []byte
}

// Builder accumulates one segment's worth of documents in memory. The zero
// value is not usable; construct with New.
type Builder struct {
	id       ids.SegmentId
	nextOrd  int
	postings map[postingsKey]*docid.Builder
	stored   map[ids.Ord][]storedValue
	stats    map[string]int64
}

// New starts an empty builder for segment id.
func New(id ids.SegmentId) *Builder {
	return &Builder{
		id:       id,
		postings: make(map[postingsKey]*docid.Builder),
		stored:   make(map[ids.Ord][]storedValue),
		stats:    make(map[string]int64),
	}
}

// ID returns the segment id this builder is accumulating.
func (b *Builder) ID() ids.SegmentId { return b.id }

// DocCount reports how many documents have been added so far.
func (b *Builder) DocCount() int { return b.nextOrd }

// AddDocument appends one document's postings and stored fields, assigning
// it the next doc ordinal. It fails with ErrSegmentFull once
// MaxDocsPerSegment documents have been added.
func (b *Builder) AddDocument(postings []Posting, stored []StoredField) (ids.Ord, error) {
	if b.nextOrd >= ids.MaxDocsPerSegment {
		return 0, corefts.ErrSegmentFull
	}
	ord := ids.Ord(b.nextOrd)
	b.nextOrd++

	for _, p := range postings {
		key := postingsKey{Field: p.Field, Term: p.Term}
		bd, ok := b.postings[key]
		if !ok {
			bd = &docid.Builder{}
			b.postings[key] = bd
		}
		bd.Add(uint16(ord))
	}

	if len(stored) > 0 {
		entries := make([]storedValue, len(stored))
		for i, s := range stored {
			entries[i] = storedValue{Field: s.Field, Kind: s.Kind, Bytes: s.Bytes}
		}
		b.stored[ord] = entries
	}

	b.stats[kcodec.StatDocCount]++
	return ord, nil
}

// IncrStat adds delta to a named segment-level statistic (e.g. the
// per-field token-count sum the BM25 scorer reads). Unlike postings and
// stored values, statistics are plain accumulating i64 counters.
func (b *Builder) IncrStat(name string, delta int64) {
	b.stats[name] += delta
}

// Flush serializes the whole accumulated segment in a single batch:
// every postings DocIdSet, every stored value, every statistic, and finally
// the "a/<segment>" active marker that makes the segment visible to
// readers. Flush is the only write this segment's data ever
// receives; nothing is written incrementally as documents are added.
func (b *Builder) Flush(be kv.Backend) error {
	var ops []kv.Op

	for key, bd := range b.postings {
		set := bd.Build()
		ops = append(ops, kv.PutOp(kcodec.Postings(key.Field, key.Term, b.id), set.Bytes()))
	}

	for ord, entries := range b.stored {
		for _, e := range entries {
			ops = append(ops, kv.PutOp(kcodec.Stored(b.id, ord, e.Field, e.Kind), e.Bytes))
		}
	}

	for name, v := range b.stats {
		ops = append(ops, kv.PutOp(kcodec.Stat(b.id, name), kv.EncodeI64(v)))
	}

	ops = append(ops, kv.PutOp(kcodec.Active(b.id), []byte{1}))

	if err := be.Batch(ops); err != nil {
		return fmt.Errorf("segment: flush %d: %w", b.id, err)
	}
	return nil
}

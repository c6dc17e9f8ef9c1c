package store

import (
	"context"
	"fmt"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/collector"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/exec"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/mapping"
	"github.com/go-mizu/corefts/query"
)

// Reader is a consistent point-in-time view of the store: the active
// segment set, postings, stored values, statistics, deletion lists and
// primary-key map it exposes are all read from one backend snapshot, so a
// Reader never observes a half-applied write or merge that lands after it
// was opened. Readers are cheap; close them promptly to release the
// snapshot.
type Reader struct {
	store  *Store
	snap   kv.Snapshot
	segs   []exec.SegmentReader
	closed bool
}

// Reader captures a snapshot and the segment set active within it.
func (s *Store) Reader() (*Reader, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, corefts.ErrClosed
	}

	snap, err := s.be.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("store: reader: %w", err)
	}
	r := &Reader{store: s, snap: snap}
	if r.segs, err = r.segmentReaders(); err != nil {
		_ = snap.Close()
		return nil, err
	}
	return r, nil
}

// segmentReaders lists the segments active in the snapshot by scanning its
// "a/" markers, so a segment activated or retired after the snapshot was
// taken is invisible here even though the live segment manager already
// knows about it.
func (r *Reader) segmentReaders() ([]exec.SegmentReader, error) {
	it, err := r.snap.PrefixScan([]byte{kcodec.TagActive})
	if err != nil {
		return nil, fmt.Errorf("store: reader active scan: %w", err)
	}
	defer it.Close()

	var out []exec.SegmentReader
	for it.Next() {
		key := it.Key()
		if len(key) != 5 {
			continue
		}
		id := ids.SegmentId(uint32(key[1])<<24 | uint32(key[2])<<16 | uint32(key[3])<<8 | uint32(key[4]))
		count, err := r.segmentDocCount(id)
		if err != nil {
			return nil, err
		}
		out = append(out, exec.SegmentReader{ID: id, DocCount: count, Snap: r.snap})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("store: reader active scan: %w", err)
	}
	return out, nil
}

func (r *Reader) segmentDocCount(id ids.SegmentId) (int, error) {
	v, ok, err := r.snap.Get(kcodec.Stat(id, kcodec.StatDocCount))
	if err != nil {
		return 0, fmt.Errorf("store: segment doc_count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := kv.DecodeI64(v)
	if err != nil {
		return 0, fmt.Errorf("store: segment doc_count: %w", err)
	}
	return int(n), nil
}

// Deletions reads a segment's tombstone set from the snapshot, satisfying
// exec.DeletionSource with the same consistency as every other table the
// Reader exposes.
func (r *Reader) Deletions(seg ids.SegmentId) docid.Set {
	b, ok, err := r.snap.Get(kcodec.Deletions(seg))
	if err != nil || !ok {
		return docid.Empty
	}
	return docid.FromPacked(b)
}

// Execute compiles q and streams every match in the snapshot into coll.
func (r *Reader) Execute(ctx context.Context, q query.Query, coll collector.Collector) (exec.Explain, error) {
	if r.closed {
		return exec.Explain{}, corefts.ErrClosed
	}
	prog, err := r.store.planner().Compile(q)
	if err != nil {
		return exec.Explain{}, err
	}
	return exec.Run(ctx, prog, r.segs, r, coll)
}

// Search returns the top k matches for q, ranked by score.
func (r *Reader) Search(ctx context.Context, q query.Query, k int) ([]collector.Hit, exec.Explain, error) {
	coll := collector.NewTopK(k)
	explain, err := r.Execute(ctx, q, coll)
	if err != nil {
		return nil, exec.Explain{}, err
	}
	return coll.Results(), explain, nil
}

// Count reports how many documents in the snapshot match q.
func (r *Reader) Count(ctx context.Context, q query.Query) (int64, error) {
	coll := collector.NewCount()
	if _, err := r.Execute(ctx, q, coll); err != nil {
		return 0, err
	}
	return coll.Total(), nil
}

// ContainsDocumentKey reports whether a live document existed under pk
// when the snapshot was taken.
func (r *Reader) ContainsDocumentKey(pk []byte) bool {
	if r.closed {
		return false
	}
	_, ok, err := r.snap.Get(kcodec.PrimaryKey(pk))
	return err == nil && ok
}

// ReadStoredField reads one field's stored value for a DocRef,
// reconstructing its "v/..." key from the schema's declared type.
func (r *Reader) ReadStoredField(ref ids.DocRef, fieldName string) (mapping.FieldValue, bool, error) {
	if r.closed {
		return mapping.FieldValue{}, false, corefts.ErrClosed
	}
	f, ok := r.store.schema.Snapshot().Field(fieldName)
	if !ok {
		return mapping.FieldValue{}, false, fmt.Errorf("%w: %q", corefts.ErrUnknownField, fieldName)
	}
	kind := mapping.StoredKindFor(f.Type)
	b, ok, err := r.snap.Get(kcodec.Stored(ref.Segment, ref.Ord, f.ID, kind))
	if err != nil {
		return mapping.FieldValue{}, false, fmt.Errorf("store: read stored: %w", err)
	}
	if !ok {
		return mapping.FieldValue{}, false, nil
	}
	fv, err := mapping.DecodeStored(kind, b)
	if err != nil {
		return mapping.FieldValue{}, false, err
	}
	return fv, true, nil
}

// ActiveSegments lists the segments active in the snapshot, ascending.
func (r *Reader) ActiveSegments() []ids.SegmentId {
	out := make([]ids.SegmentId, 0, len(r.segs))
	for _, seg := range r.segs {
		out = append(out, seg.ID)
	}
	return out
}

// Close releases the snapshot. Using the Reader afterward returns
// ErrClosed.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.snap.Close()
}

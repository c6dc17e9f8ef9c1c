// Package docindex implements the primary-key to DocRef map and the
// per-segment deletion-list overlay that turns write-once segment postings
// into an updatable document store. Every mutation holds the index's
// single mutex. Store runs a merge commit under its own mutex, which also
// keeps new Readers from opening during the commit; Readers opened earlier
// keep reading their own backend snapshot.
package docindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
)

// Index is the DocumentIndex.
type Index struct {
	mu        sync.RWMutex
	byPK      map[string]ids.DocRef
	deletions map[ids.SegmentId]map[ids.Ord]struct{}
}

// Open recovers an Index from the backend: the full primary-key table and
// every segment's deletion list.
func Open(be kv.Backend) (*Index, error) {
	idx := &Index{
		byPK:      map[string]ids.DocRef{},
		deletions: map[ids.SegmentId]map[ids.Ord]struct{}{},
	}

	it, err := be.PrefixScan(kcodec.PrimaryKeyPrefix())
	if err != nil {
		return nil, fmt.Errorf("docindex: open pk scan: %w", err)
	}
	defer it.Close()
	for it.Next() {
		pk := string(it.Key()[1:])
		ref, err := decodeDocRef(it.Value())
		if err != nil {
			return nil, err
		}
		idx.byPK[pk] = ref
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("docindex: open pk scan: %w", err)
	}

	it2, err := be.PrefixScan([]byte{kcodec.TagDeletions})
	if err != nil {
		return nil, fmt.Errorf("docindex: open deletions scan: %w", err)
	}
	defer it2.Close()
	for it2.Next() {
		key := it2.Key()
		if len(key) != 5 {
			continue
		}
		seg := ids.SegmentId(be32(key[1:]))
		set := docid.FromPacked(it2.Value())
		m := map[ids.Ord]struct{}{}
		cur := set.Cursor()
		for ord, ok := cur.Next(); ok; ord, ok = cur.Next() {
			m[ids.Ord(ord)] = struct{}{}
		}
		idx.deletions[seg] = m
	}
	if err := it2.Err(); err != nil {
		return nil, fmt.Errorf("docindex: open deletions scan: %w", err)
	}
	return idx, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func encodeDocRef(r ids.DocRef) []byte {
	b := make([]byte, 6)
	b[0] = byte(r.Segment >> 24)
	b[1] = byte(r.Segment >> 16)
	b[2] = byte(r.Segment >> 8)
	b[3] = byte(r.Segment)
	b[4] = byte(r.Ord >> 8)
	b[5] = byte(r.Ord)
	return b
}

func decodeDocRef(b []byte) (ids.DocRef, error) {
	if len(b) != 6 {
		return ids.DocRef{}, fmt.Errorf("%w: doc ref wants 6 bytes, got %d", corefts.ErrDecode, len(b))
	}
	return ids.DocRef{
		Segment: ids.SegmentId(be32(b[:4])),
		Ord:     ids.Ord(uint16(b[4])<<8 | uint16(b[5])),
	}, nil
}

// Lookup resolves a primary key to its current DocRef.
func (idx *Index) Lookup(pk []byte) (ids.DocRef, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byPK[string(pk)]
	return r, ok
}

// Contains reports whether pk is currently live (present and not deleted).
func (idx *Index) Contains(pk []byte) bool {
	_, ok := idx.Lookup(pk)
	return ok
}

// IsDeleted reports whether a (segment, ord) doc has been superseded or
// removed. Executor does not probe ords one by one; it subtracts the
// whole Deletions set instead.
func (idx *Index) IsDeleted(seg ids.SegmentId, ord ids.Ord) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.deletions[seg]
	if !ok {
		return false
	}
	_, deleted := m[ord]
	return deleted
}

// Deletions returns the current tombstone Set for a segment, for Executor
// to subtract from every program result in one pass.
func (idx *Index) Deletions(seg ids.SegmentId) docid.Set {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m := idx.deletions[seg]
	if len(m) == 0 {
		return docid.Empty
	}
	ords := make([]uint16, 0, len(m))
	for o := range m {
		ords = append(ords, uint16(o))
	}
	sort.Slice(ords, func(i, j int) bool { return ords[i] < ords[j] })
	return docid.FromSortedOrds(ords)
}

// InsertOrReplace maps pk to ref. If pk was already mapped, the previous
// DocRef is tombstoned in its segment's deletion list before the mapping
// is overwritten, so the old posting becomes unreachable without rewriting
// its segment.
func (idx *Index) InsertOrReplace(be kv.Backend, pk []byte, ref ids.DocRef) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ops []kv.Op
	if old, ok := idx.byPK[string(pk)]; ok {
		idx.tombstoneLocked(old.Segment, old.Ord)
		ops = append(ops, kv.PutOp(kcodec.Deletions(old.Segment), idx.deletionBytesLocked(old.Segment)))
	}
	idx.byPK[string(pk)] = ref
	ops = append(ops, kv.PutOp(kcodec.PrimaryKey(pk), encodeDocRef(ref)))

	if err := be.Batch(ops); err != nil {
		return fmt.Errorf("docindex: insert_or_replace: %w", err)
	}
	return nil
}

// Delete removes pk, tombstoning its DocRef. Reports false if pk was
// already absent.
func (idx *Index) Delete(be kv.Backend, pk []byte) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.byPK[string(pk)]
	if !ok {
		return false, nil
	}
	idx.tombstoneLocked(old.Segment, old.Ord)
	delete(idx.byPK, string(pk))

	ops := []kv.Op{
		kv.DeleteOp(kcodec.PrimaryKey(pk)),
		kv.PutOp(kcodec.Deletions(old.Segment), idx.deletionBytesLocked(old.Segment)),
	}
	if err := be.Batch(ops); err != nil {
		return false, fmt.Errorf("docindex: delete: %w", err)
	}
	return true, nil
}

func (idx *Index) tombstoneLocked(seg ids.SegmentId, ord ids.Ord) {
	m, ok := idx.deletions[seg]
	if !ok {
		m = map[ids.Ord]struct{}{}
		idx.deletions[seg] = m
	}
	m[ord] = struct{}{}
}

func (idx *Index) deletionBytesLocked(seg ids.SegmentId) []byte {
	m := idx.deletions[seg]
	ords := make([]uint16, 0, len(m))
	for o := range m {
		ords = append(ords, uint16(o))
	}
	sort.Slice(ords, func(i, j int) bool { return ords[i] < ords[j] })
	return docid.FromSortedOrds(ords).Bytes()
}

// CommitMerge atomically rewrites every primary-key entry pointing into one
// of sources to point into dest using remap, then deletes each source's
// deletion list and active marker, in one backend batch. Callers must already hold
// whatever broader lock (Store's merge mutex) serializes this against new
// writes and reader snapshot creation.
func (idx *Index) CommitMerge(be kv.Backend, sources []ids.SegmentId, dest ids.SegmentId, remap map[ids.SegmentId]map[ids.Ord]ids.Ord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	isSource := make(map[ids.SegmentId]struct{}, len(sources))
	for _, s := range sources {
		isSource[s] = struct{}{}
	}

	var ops []kv.Op
	for pk, ref := range idx.byPK {
		if _, ok := isSource[ref.Segment]; !ok {
			continue
		}
		newOrd, ok := remap[ref.Segment][ref.Ord]
		if !ok {
			// was tombstoned in this segment; not carried forward.
			continue
		}
		newRef := ids.DocRef{Segment: dest, Ord: newOrd}
		idx.byPK[pk] = newRef
		ops = append(ops, kv.PutOp(kcodec.PrimaryKey([]byte(pk)), encodeDocRef(newRef)))
	}

	for _, s := range sources {
		delete(idx.deletions, s)
		ops = append(ops, kv.DeleteOp(kcodec.Deletions(s)), kv.DeleteOp(kcodec.Active(s)))
	}

	if err := be.Batch(ops); err != nil {
		return fmt.Errorf("docindex: commit_merge: %w", err)
	}
	return nil
}

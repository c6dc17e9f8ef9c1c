// Package merge implements the merge engine: compacting a set of source
// segments into one destination segment in two phases. The first phase
// does all the expensive data work -- postings union with doc-ord remap,
// stored-value copy, statistic aggregation -- without touching anything a
// reader might be using concurrently. The second phase is the short atomic
// commit that flips the active set and rewrites the document index, the
// only step requiring exclusive access. The per-(field,term) grouping and
// doc-ord remap follow the same shape bleve's zap segment merger uses:
// accumulate per-term postings across source segments, remap to dense new
// doc numbers, write once.
package merge

import (
	"fmt"
	"sort"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/docindex"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/segmgr"
)

// Engine runs merges against one store's backend, segment manager and
// document index.
type Engine struct {
	be     kv.Backend
	segMgr *segmgr.Manager
	docIdx *docindex.Index
}

// New returns an Engine wired to a store's backend, segment manager and
// document index.
func New(be kv.Backend, segMgr *segmgr.Manager, docIdx *docindex.Index) *Engine {
	return &Engine{be: be, segMgr: segMgr, docIdx: docIdx}
}

// Merge compacts sources into one freshly allocated segment, returning its
// id. Callers are responsible for serializing concurrent Merge calls and
// new writes against the same sources.
func (e *Engine) Merge(sources []ids.SegmentId) (ids.SegmentId, error) {
	dest := e.segMgr.Allocate()

	remap, total, err := e.buildRemap(sources)
	if err != nil {
		return 0, err
	}
	if total > ids.MaxDocsPerSegment {
		return 0, corefts.ErrTooManyDocs
	}

	staleKeys, err := e.mergePostings(sources, dest, remap)
	if err != nil {
		return 0, err
	}
	tokenSums, err := e.mergeStored(sources, dest, remap)
	if err != nil {
		return 0, err
	}
	if err := e.mergeStats(sources, dest, total, tokenSums); err != nil {
		return 0, err
	}

	if err := e.commit(sources, dest, remap); err != nil {
		return 0, err
	}
	e.purge(sources, staleKeys)

	return dest, nil
}

// buildRemap assigns each surviving (non-deleted) document a dense new
// ordinal in the destination segment, source segments visited in
// ascending id order so the remap itself is deterministic.
func (e *Engine) buildRemap(sources []ids.SegmentId) (map[ids.SegmentId]map[ids.Ord]ids.Ord, int, error) {
	sorted := append([]ids.SegmentId(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	remap := make(map[ids.SegmentId]map[ids.Ord]ids.Ord, len(sorted))
	next := ids.Ord(0)
	for _, seg := range sorted {
		count, err := e.docCount(seg)
		if err != nil {
			return nil, 0, err
		}
		del := e.docIdx.Deletions(seg)
		m := make(map[ids.Ord]ids.Ord)
		for ord := 0; ord < count; ord++ {
			o := ids.Ord(ord)
			if del.Contains(o) {
				continue
			}
			m[o] = next
			next++
		}
		remap[seg] = m
	}
	return remap, int(next), nil
}

func (e *Engine) docCount(seg ids.SegmentId) (int, error) {
	v, ok, err := e.be.Get(kcodec.Stat(seg, kcodec.StatDocCount))
	if err != nil {
		return 0, fmt.Errorf("merge: doc_count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := kv.DecodeI64(v)
	if err != nil {
		return 0, fmt.Errorf("merge: doc_count: %w", err)
	}
	return int(n), nil
}

// mergePostings scans the entire postings domain once, grouping entries by
// (field, term) and unioning the remapped ordinals of every source segment
// that carries that pair.
// mergePostings returns the raw keys of every stale (source-segment)
// postings entry it visited, so purge can delete them directly afterward
// without needing a by-segment prefix scan -- the postings key layout
// orders (field, term) before segment, so a source segment's entries are
// not contiguous and can only be found by this same full-domain scan.
func (e *Engine) mergePostings(sources []ids.SegmentId, dest ids.SegmentId, remap map[ids.SegmentId]map[ids.Ord]ids.Ord) ([][]byte, error) {
	isSource := make(map[ids.SegmentId]struct{}, len(sources))
	for _, s := range sources {
		isSource[s] = struct{}{}
	}

	type fieldTerm struct {
		Field ids.FieldId
		Term  ids.TermId
	}
	builders := map[fieldTerm]*docid.Builder{}
	var staleKeys [][]byte

	it, err := e.be.PrefixScan([]byte{kcodec.TagPostings})
	if err != nil {
		return nil, fmt.Errorf("merge: postings scan: %w", err)
	}
	for it.Next() {
		key := it.Key()
		if len(key) != 1+4+4+4 {
			continue
		}
		seg := ids.SegmentId(be32(key[9:13]))
		if _, ok := isSource[seg]; !ok {
			continue
		}
		staleKeys = append(staleKeys, append([]byte(nil), key...))

		ft := fieldTerm{Field: ids.FieldId(be32(key[1:5])), Term: ids.TermId(be32(key[5:9]))}
		segRemap := remap[seg]
		set := docid.FromPacked(it.Value())
		cur := set.Cursor()
		bd, ok := builders[ft]
		if !ok {
			bd = &docid.Builder{}
			builders[ft] = bd
		}
		for ord, ok := cur.Next(); ok; ord, ok = cur.Next() {
			if newOrd, kept := segRemap[ids.Ord(ord)]; kept {
				bd.Add(newOrd)
			}
		}
	}
	err = it.Err()
	// Close the scan's read transaction before the write below.
	it.Close()
	if err != nil {
		return nil, fmt.Errorf("merge: postings scan: %w", err)
	}

	var ops []kv.Op
	for ft, bd := range builders {
		set := bd.Build()
		if set.Cardinality() == 0 {
			continue
		}
		ops = append(ops, kv.PutOp(kcodec.Postings(ft.Field, ft.Term, dest), set.Bytes()))
	}
	if len(ops) > 0 {
		if err := e.be.Batch(ops); err != nil {
			return nil, fmt.Errorf("merge: write postings: %w", err)
		}
	}
	return staleKeys, nil
}

// mergeStored copies every surviving document's stored fields to its new
// (dest, new-ord) location. While walking it also sums the surviving
// documents' per-field length entries, so mergeStats can write token
// statistics that reflect only the documents actually carried forward.
func (e *Engine) mergeStored(sources []ids.SegmentId, dest ids.SegmentId, remap map[ids.SegmentId]map[ids.Ord]ids.Ord) (map[ids.FieldId]int64, error) {
	var ops []kv.Op
	tokenSums := map[ids.FieldId]int64{}
	for _, seg := range sources {
		segRemap := remap[seg]
		it, err := e.be.PrefixScan(kcodec.StoredSegmentPrefix(seg))
		if err != nil {
			return nil, fmt.Errorf("merge: stored scan: %w", err)
		}
		for it.Next() {
			key := it.Key()
			if len(key) != 1+4+2+4+1 {
				continue
			}
			oldOrd := ids.Ord(uint16(key[5])<<8 | uint16(key[6]))
			newOrd, kept := segRemap[oldOrd]
			if !kept {
				continue
			}
			field := ids.FieldId(be32(key[7:11]))
			kind := kcodec.StoredValueKind(key[11])
			val := append([]byte(nil), it.Value()...)
			if kind == kcodec.StoredFieldLen {
				if n, err := kv.DecodeI64(val); err == nil {
					tokenSums[field] += n
				}
			}
			ops = append(ops, kv.PutOp(kcodec.Stored(dest, newOrd, field, kind), val))
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return nil, fmt.Errorf("merge: stored scan: %w", err)
		}
	}
	if len(ops) == 0 {
		return tokenSums, nil
	}
	if err := e.be.Batch(ops); err != nil {
		return nil, fmt.Errorf("merge: write stored: %w", err)
	}
	return tokenSums, nil
}

// mergeStats sums same-named statistics across every source segment, then
// overrides the counts it can derive exactly from the merge itself: the
// destination's doc_count is the remap's live total (tombstoned documents
// were dropped, so summing source doc_counts would overcount), and each
// tokens_<field> is the survivors' length-entry sum gathered by
// mergeStored.
func (e *Engine) mergeStats(sources []ids.SegmentId, dest ids.SegmentId, liveDocs int, tokenSums map[ids.FieldId]int64) error {
	totals := map[string]int64{}
	for _, seg := range sources {
		it, err := e.be.PrefixScan(kcodec.StatSegmentPrefix(seg))
		if err != nil {
			return fmt.Errorf("merge: stats scan: %w", err)
		}
		for it.Next() {
			key := it.Key()
			name := string(key[5:])
			v, err := kv.DecodeI64(it.Value())
			if err != nil {
				it.Close()
				return fmt.Errorf("merge: stats decode: %w", err)
			}
			totals[name] += v
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return fmt.Errorf("merge: stats scan: %w", err)
		}
	}

	totals[kcodec.StatDocCount] = int64(liveDocs)
	for field, n := range tokenSums {
		totals[kcodec.StatTokens(field)] = n
	}

	var ops []kv.Op
	for name, v := range totals {
		ops = append(ops, kv.PutOp(kcodec.Stat(dest, name), kv.EncodeI64(v)))
	}
	if len(ops) == 0 {
		return nil
	}
	if err := e.be.Batch(ops); err != nil {
		return fmt.Errorf("merge: write stats: %w", err)
	}
	return nil
}

// commit is the single exclusive step: it activates dest, retires
// sources from the active set, and rewrites the document index's
// primary-key table to point at dest.
func (e *Engine) commit(sources []ids.SegmentId, dest ids.SegmentId, remap map[ids.SegmentId]map[ids.Ord]ids.Ord) error {
	ops := []kv.Op{kv.PutOp(kcodec.Active(dest), []byte{1})}
	for _, s := range sources {
		ops = append(ops, kv.DeleteOp(kcodec.Active(s)))
	}
	if err := e.be.Batch(ops); err != nil {
		return fmt.Errorf("merge: commit activate: %w", err)
	}

	if err := e.docIdx.CommitMerge(e.be, sources, dest, remap); err != nil {
		return err
	}

	e.segMgr.Activate(dest)
	e.segMgr.Deactivate(sources...)
	return nil
}

// Purge deletes every remaining record of the named segments: postings,
// stored values, statistics and deletion lists. Unlike the post-merge fast
// path, which already knows the stale postings keys from the merge's own
// scan, Purge has to find them with a full postings-domain walk (the key
// layout orders (field, term) before segment). Callers must guarantee the
// segments are inactive and unreferenced.
func (e *Engine) Purge(segments []ids.SegmentId) error {
	isTarget := make(map[ids.SegmentId]struct{}, len(segments))
	for _, s := range segments {
		isTarget[s] = struct{}{}
	}

	var ops []kv.Op
	it, err := e.be.PrefixScan([]byte{kcodec.TagPostings})
	if err != nil {
		return fmt.Errorf("merge: purge postings scan: %w", err)
	}
	for it.Next() {
		key := it.Key()
		if len(key) != 1+4+4+4 {
			continue
		}
		if _, ok := isTarget[ids.SegmentId(be32(key[9:13]))]; ok {
			ops = append(ops, kv.DeleteOp(append([]byte(nil), key...)))
		}
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return fmt.Errorf("merge: purge postings scan: %w", err)
	}

	for _, seg := range segments {
		for _, prefix := range [][]byte{kcodec.StoredSegmentPrefix(seg), kcodec.StatSegmentPrefix(seg)} {
			it, err := e.be.PrefixScan(prefix)
			if err != nil {
				return fmt.Errorf("merge: purge scan: %w", err)
			}
			for it.Next() {
				ops = append(ops, kv.DeleteOp(append([]byte(nil), it.Key()...)))
			}
			err = it.Err()
			it.Close()
			if err != nil {
				return fmt.Errorf("merge: purge scan: %w", err)
			}
		}
		ops = append(ops, kv.DeleteOp(kcodec.Deletions(seg)))
	}

	if len(ops) == 0 {
		return nil
	}
	if err := e.be.Batch(ops); err != nil {
		return fmt.Errorf("merge: purge: %w", err)
	}
	return nil
}

// purge drops the now-unreferenced postings (staleKeys, gathered while
// merging), stored values and statistics of every source segment.
// Best-effort: a crash here leaves harmless garbage (sources are already
// inactive) rather than lost data, so errors are swallowed rather than
// propagated -- nothing downstream depends on purge completing promptly.
func (e *Engine) purge(sources []ids.SegmentId, staleKeys [][]byte) {
	var ops []kv.Op
	for _, k := range staleKeys {
		ops = append(ops, kv.DeleteOp(k))
	}
	for _, seg := range sources {
		for _, prefix := range [][]byte{kcodec.StoredSegmentPrefix(seg), kcodec.StatSegmentPrefix(seg)} {
			it, err := e.be.PrefixScan(prefix)
			if err != nil {
				continue
			}
			for it.Next() {
				ops = append(ops, kv.DeleteOp(append([]byte(nil), it.Key()...)))
			}
			it.Close()
		}
	}
	if len(ops) == 0 {
		return
	}
	_ = e.be.Batch(ops)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

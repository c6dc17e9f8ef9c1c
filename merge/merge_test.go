package merge

import (
	"path/filepath"
	"testing"

	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/docindex"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/segment"
	"github.com/go-mizu/corefts/segmgr"
)

func setupTwoSegmentIndex(t *testing.T) (kv.Backend, *segmgr.Manager, *docindex.Index, ids.SegmentId, ids.SegmentId) {
	t.Helper()
	be, err := kv.OpenBolt(filepath.Join(t.TempDir(), "merge.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })

	segMgr, err := segmgr.Open(be)
	if err != nil {
		t.Fatalf("segmgr.Open: %v", err)
	}
	docIdx, err := docindex.Open(be)
	if err != nil {
		t.Fatalf("docindex.Open: %v", err)
	}

	seg1 := segMgr.Allocate()
	b1 := segment.New(seg1)
	o0, err := b1.AddDocument([]segment.Posting{{Field: 1, Term: 100}}, []segment.StoredField{{Field: 1, Kind: kcodec.StoredString, Bytes: []byte("doc-a")}})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	o1, err := b1.AddDocument([]segment.Posting{{Field: 1, Term: 100}}, []segment.StoredField{{Field: 1, Kind: kcodec.StoredString, Bytes: []byte("doc-b")}})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := b1.Flush(be); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	segMgr.Activate(seg1)

	if err := docIdx.InsertOrReplace(be, []byte("a"), ids.DocRef{Segment: seg1, Ord: o0}); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}
	if err := docIdx.InsertOrReplace(be, []byte("b"), ids.DocRef{Segment: seg1, Ord: o1}); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}
	// tombstone "b" before the merge, so its ordinal must not survive.
	if _, err := docIdx.Delete(be, []byte("b")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	seg2 := segMgr.Allocate()
	b2 := segment.New(seg2)
	o2, err := b2.AddDocument([]segment.Posting{{Field: 1, Term: 100}}, []segment.StoredField{{Field: 1, Kind: kcodec.StoredString, Bytes: []byte("doc-c")}})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := b2.Flush(be); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	segMgr.Activate(seg2)
	if err := docIdx.InsertOrReplace(be, []byte("c"), ids.DocRef{Segment: seg2, Ord: o2}); err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	return be, segMgr, docIdx, seg1, seg2
}

func TestMergeProducesCompactedDestination(t *testing.T) {
	be, segMgr, docIdx, seg1, seg2 := setupTwoSegmentIndex(t)
	eng := New(be, segMgr, docIdx)

	dest, err := eng.Merge([]ids.SegmentId{seg1, seg2})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if segMgr.IsActive(seg1) || segMgr.IsActive(seg2) {
		t.Fatalf("source segments must be deactivated after Merge")
	}
	if !segMgr.IsActive(dest) {
		t.Fatalf("destination segment must be active after Merge")
	}

	// doc "a" and "c" survive (2 live docs); "b" was tombstoned before merge.
	docCount, ok, err := be.Get(kcodec.Stat(dest, "doc_count"))
	if err != nil || !ok {
		t.Fatalf("dest doc_count stat missing")
	}
	n, err := kv.DecodeI64(docCount)
	if err != nil || n != 2 {
		t.Fatalf("merged doc_count = %d, want 2 (err=%v)", n, err)
	}

	refA, ok := docIdx.Lookup([]byte("a"))
	if !ok || refA.Segment != dest {
		t.Fatalf("Lookup(a) after merge = %v, %v, want segment %d", refA, ok, dest)
	}
	refC, ok := docIdx.Lookup([]byte("c"))
	if !ok || refC.Segment != dest {
		t.Fatalf("Lookup(c) after merge = %v, %v, want segment %d", refC, ok, dest)
	}
	if docIdx.Contains([]byte("b")) {
		t.Fatalf("Lookup(b) must remain absent; it was deleted before the merge")
	}

	v, ok, err := be.Get(kcodec.Postings(1, 100, dest))
	if err != nil || !ok {
		t.Fatalf("merged postings entry missing")
	}
	set := docid.FromPacked(v)
	if set.Cardinality() != 2 {
		t.Fatalf("merged postings cardinality = %d, want 2", set.Cardinality())
	}
	if !set.Contains(refA.Ord) || !set.Contains(refC.Ord) {
		t.Fatalf("merged postings must contain both surviving docs' new ordinals")
	}
}

func TestMergePurgesSourceSegmentData(t *testing.T) {
	be, segMgr, docIdx, seg1, seg2 := setupTwoSegmentIndex(t)
	eng := New(be, segMgr, docIdx)

	if _, err := eng.Merge([]ids.SegmentId{seg1, seg2}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if _, ok, _ := be.Get(kcodec.Postings(1, 100, seg1)); ok {
		t.Fatalf("source segment 1's postings must be purged after merge")
	}
	if _, ok, _ := be.Get(kcodec.Postings(1, 100, seg2)); ok {
		t.Fatalf("source segment 2's postings must be purged after merge")
	}
	if _, ok, _ := be.Get(kcodec.Active(seg1)); ok {
		t.Fatalf("source segment 1's active marker must be gone after merge")
	}
}

func TestPurgeRemovesEveryRecordOfInactiveSegments(t *testing.T) {
	be, segMgr, docIdx, seg1, seg2 := setupTwoSegmentIndex(t)
	eng := New(be, segMgr, docIdx)

	// Retire seg1 manually (as if a merge commit had replaced it) and purge.
	if err := be.Delete(kcodec.Active(seg1)); err != nil {
		t.Fatalf("Delete active marker: %v", err)
	}
	segMgr.Deactivate(seg1)

	if err := eng.Purge([]ids.SegmentId{seg1}); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if _, ok, _ := be.Get(kcodec.Postings(1, 100, seg1)); ok {
		t.Fatalf("purged segment's postings must be gone")
	}
	if _, ok, _ := be.Get(kcodec.Stat(seg1, kcodec.StatDocCount)); ok {
		t.Fatalf("purged segment's statistics must be gone")
	}
	if _, ok, _ := be.Get(kcodec.Stored(seg1, 0, 1, kcodec.StoredString)); ok {
		t.Fatalf("purged segment's stored values must be gone")
	}
	if _, ok, _ := be.Get(kcodec.Deletions(seg1)); ok {
		t.Fatalf("purged segment's deletion list must be gone")
	}

	// seg2 was untouched.
	if _, ok, _ := be.Get(kcodec.Postings(1, 100, seg2)); !ok {
		t.Fatalf("Purge must not touch segments it was not asked about")
	}
}

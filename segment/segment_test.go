package segment

import (
	"path/filepath"
	"testing"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
)

func openTestBackend(t *testing.T) kv.Backend {
	t.Helper()
	be, err := kv.OpenBolt(filepath.Join(t.TempDir(), "segment.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	return be
}

func TestAddDocumentAssignsSequentialOrds(t *testing.T) {
	b := New(1)
	o0, err := b.AddDocument(nil, nil)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	o1, err := b.AddDocument(nil, nil)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if o0 != 0 || o1 != 1 {
		t.Fatalf("ords = %d, %d, want 0, 1", o0, o1)
	}
	if b.DocCount() != 2 {
		t.Fatalf("DocCount() = %d, want 2", b.DocCount())
	}
}

func TestAddDocumentFailsWhenFull(t *testing.T) {
	b := New(1)
	b.nextOrd = ids.MaxDocsPerSegment
	if _, err := b.AddDocument(nil, nil); err != corefts.ErrSegmentFull {
		t.Fatalf("AddDocument on a full segment = %v, want ErrSegmentFull", err)
	}
}

func TestFlushWritesPostingsStoredStatsAndActiveMarker(t *testing.T) {
	be := openTestBackend(t)
	b := New(7)

	ord, err := b.AddDocument(
		[]Posting{{Field: 1, Term: 2, Position: 1}},
		[]StoredField{{Field: 1, Kind: kcodec.StoredString, Bytes: []byte("hello")}},
	)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	b.IncrStat("custom", 5)

	if err := b.Flush(be); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	v, ok, err := be.Get(kcodec.Postings(1, 2, 7))
	if err != nil || !ok {
		t.Fatalf("postings key missing after Flush: ok=%v err=%v", ok, err)
	}
	set := docid.FromPacked(v)
	if !set.Contains(uint16(ord)) {
		t.Fatalf("flushed postings set does not contain the added ord")
	}

	sv, ok, err := be.Get(kcodec.Stored(7, ord, 1, kcodec.StoredString))
	if err != nil || !ok || string(sv) != "hello" {
		t.Fatalf("stored value after Flush = %q, ok=%v err=%v", sv, ok, err)
	}

	docCount, ok, err := be.Get(kcodec.Stat(7, "doc_count"))
	if err != nil || !ok {
		t.Fatalf("doc_count stat missing after Flush")
	}
	n, err := kv.DecodeI64(docCount)
	if err != nil || n != 1 {
		t.Fatalf("doc_count = %d, want 1 (err=%v)", n, err)
	}

	custom, ok, err := be.Get(kcodec.Stat(7, "custom"))
	if err != nil || !ok {
		t.Fatalf("custom stat missing after Flush")
	}
	cn, err := kv.DecodeI64(custom)
	if err != nil || cn != 5 {
		t.Fatalf("custom stat = %d, want 5 (err=%v)", cn, err)
	}

	marker, ok, err := be.Get(kcodec.Active(7))
	if err != nil || !ok || len(marker) != 1 {
		t.Fatalf("active marker missing after Flush: ok=%v err=%v", ok, err)
	}
}

func TestFlushMergesMultipleDocumentsIntoOnePostingsSet(t *testing.T) {
	be := openTestBackend(t)
	b := New(1)

	if _, err := b.AddDocument([]Posting{{Field: 1, Term: 9}}, nil); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if _, err := b.AddDocument([]Posting{{Field: 1, Term: 9}}, nil); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := b.Flush(be); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	v, ok, err := be.Get(kcodec.Postings(1, 9, 1))
	if err != nil || !ok {
		t.Fatalf("postings key missing: ok=%v err=%v", ok, err)
	}
	set := docid.FromPacked(v)
	if set.Cardinality() != 2 {
		t.Fatalf("Cardinality() = %d, want 2", set.Cardinality())
	}
}

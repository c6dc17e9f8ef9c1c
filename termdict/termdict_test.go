package termdict

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-mizu/corefts/kv"
)

func openTestDict(t *testing.T) (*Dictionary, kv.Backend) {
	t.Helper()
	be, err := kv.OpenBolt(filepath.Join(t.TempDir(), "termdict.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	d, err := Open(be)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d, be
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	d, _ := openTestDict(t)

	id1, err := d.GetOrCreate([]byte("hello"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	id2, err := d.GetOrCreate([]byte("hello"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("GetOrCreate returned different ids for the same term: %d vs %d", id1, id2)
	}

	id3, err := d.GetOrCreate([]byte("world"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id3 == id1 {
		t.Fatalf("distinct terms must not share a TermId")
	}
}

func TestLookupUnknownTerm(t *testing.T) {
	d, _ := openTestDict(t)
	if _, ok, err := d.Lookup([]byte("nope")); err != nil || ok {
		t.Fatalf("Lookup of an unseen term: ok=%v err=%v", ok, err)
	}
}

func TestBytesReversesLookup(t *testing.T) {
	d, _ := openTestDict(t)
	id, err := d.GetOrCreate([]byte("roundtrip"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, ok, err := d.Bytes(id)
	if err != nil || !ok || string(b) != "roundtrip" {
		t.Fatalf("Bytes(%d) = %q, %v, %v", id, b, ok, err)
	}
}

func TestSelectExact(t *testing.T) {
	d, _ := openTestDict(t)
	id, err := d.GetOrCreate([]byte("cat"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	got, err := d.Select(Selector{Kind: Exact, Term: []byte("cat")})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("Select(Exact) = %v, want [%d]", got, id)
	}

	none, err := d.Select(Selector{Kind: Exact, Term: []byte("dog")})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("Select(Exact) for unknown term = %v, want empty", none)
	}
}

func TestSelectPrefix(t *testing.T) {
	d, _ := openTestDict(t)
	for _, term := range []string{"cat", "car", "cart", "dog"} {
		if _, err := d.GetOrCreate([]byte(term)); err != nil {
			t.Fatalf("GetOrCreate(%q): %v", term, err)
		}
	}

	got, err := d.Select(Selector{Kind: Prefix, Term: []byte("ca")})
	if err != nil {
		t.Fatalf("Select(Prefix): %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Select(Prefix ca) returned %d ids, want 3", len(got))
	}

	gotBytes := make([]string, 0, len(got))
	for _, id := range got {
		b, ok, err := d.Bytes(id)
		if err != nil || !ok {
			t.Fatalf("Bytes(%d): ok=%v err=%v", id, ok, err)
		}
		gotBytes = append(gotBytes, string(b))
	}
	sort.Strings(gotBytes)
	want := []string{"car", "cart", "cat"}
	for i := range want {
		if gotBytes[i] != want[i] {
			t.Fatalf("Select(Prefix ca) bytes = %v, want %v", gotBytes, want)
		}
	}
}

func TestOpenRecoversNextID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termdict.db")
	be, err := kv.OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	d, err := Open(be)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := d.GetOrCreate([]byte("persisted"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	be2, err := kv.OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt (reopen): %v", err)
	}
	t.Cleanup(func() { _ = be2.Close() })
	d2, err := Open(be2)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}

	again, err := d2.GetOrCreate([]byte("persisted"))
	if err != nil {
		t.Fatalf("GetOrCreate (reopen): %v", err)
	}
	if again != first {
		t.Fatalf("reopened dictionary assigned a new id to an already-interned term: %d vs %d", again, first)
	}

	fresh, err := d2.GetOrCreate([]byte("new-after-reopen"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if fresh == first {
		t.Fatalf("reopened dictionary must not reuse an id already assigned before reopen")
	}
}

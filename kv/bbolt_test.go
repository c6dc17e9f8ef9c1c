package kv

import (
	"path/filepath"
	"testing"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGetPutDelete(t *testing.T) {
	b := openTestBolt(t)

	if _, ok, err := b.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}
	if err := b.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := b.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get after Put = %q, %v, %v", v, ok, err)
	}
	if err := b.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := b.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Get after Delete: ok=%v err=%v", ok, err)
	}
}

func TestBatchMergeAppend(t *testing.T) {
	b := openTestBolt(t)
	key := []byte("postings")

	ops := []Op{
		MergeAppendOp(key, []byte{1, 2}),
		MergeAppendOp(key, []byte{3, 4}),
	}
	if err := b.Batch(ops); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	v, ok, err := b.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	want := []byte{1, 2, 3, 4}
	if len(v) != len(want) {
		t.Fatalf("merged value = %v, want %v", v, want)
	}
	for i := range want {
		if v[i] != want[i] {
			t.Fatalf("merged value = %v, want %v", v, want)
		}
	}
}

func TestBatchMergeAddI64(t *testing.T) {
	b := openTestBolt(t)
	key := []byte("stat")

	if err := b.Batch([]Op{MergeAddI64Op(key, 5)}); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if err := b.Batch([]Op{MergeAddI64Op(key, -2)}); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	v, ok, err := b.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	got, err := DecodeI64(v)
	if err != nil {
		t.Fatalf("DecodeI64: %v", err)
	}
	if got != 3 {
		t.Fatalf("summed stat = %d, want 3", got)
	}
}

func TestBatchAtomicity(t *testing.T) {
	b := openTestBolt(t)
	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ops := []Op{
		PutOp([]byte("a"), []byte("2")),
		{Kind: OpKind(99), Key: []byte("a")},
	}
	if err := b.Batch(ops); err == nil {
		t.Fatalf("expected Batch to fail on an unknown op kind")
	}
	v, ok, err := b.Get([]byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("partial batch must not have committed: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestPrefixScan(t *testing.T) {
	b := openTestBolt(t)
	entries := map[string]string{
		"p/1": "one",
		"p/2": "two",
		"q/1": "three",
	}
	for k, v := range entries {
		if err := b.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it, err := b.PrefixScan([]byte("p/"))
	if err != nil {
		t.Fatalf("PrefixScan: %v", err)
	}
	defer it.Close()

	got := map[string]string{}
	for it.Next() {
		got[string(it.Key())] = string(it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) != 2 || got["p/1"] != "one" || got["p/2"] != "two" {
		t.Fatalf("PrefixScan results = %v", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	b := openTestBolt(t)
	if err := b.Put([]byte("k"), []byte("before")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap, err := b.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	if err := b.Put([]byte("k"), []byte("after")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := snap.Get([]byte("k"))
	if err != nil || !ok || string(v) != "before" {
		t.Fatalf("snapshot observed a write after it began: v=%q ok=%v err=%v", v, ok, err)
	}

	live, ok, err := b.Get([]byte("k"))
	if err != nil || !ok || string(live) != "after" {
		t.Fatalf("live read after write = %q, %v, %v", live, ok, err)
	}
}

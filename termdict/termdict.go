// Package termdict implements TermDictionary: a process-wide interner
// from term bytes to TermId, persisting both directions so reverse lookups
// (used by Store's prefix queries) are O(1).
//
// get_or_create is sharded by github.com/cespare/xxhash/v2 so interning
// contention is spread across shardCount locks instead of one global
// mutex, and each shard fronts its KV read with a
// github.com/bits-and-blooms/bloom/v3 filter: a negative test proves the
// term is new without a backend round trip, the common case during bulk
// ingestion of a large, mostly-novel vocabulary.
//
// Prefix selection is served by a github.com/blevesearch/vellum FST built
// over the (sorted) forward table, rebuilt lazily when new terms have
// been interned since the last build.
package termdict

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/blevesearch/vellum"
	"github.com/cespare/xxhash/v2"

	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
)

const shardCount = 16

// bloomExpectedTerms sizes each shard's bloom filter; oversized relative to
// a typical index's true vocabulary per shard to keep the false-positive
// rate low without periodic resizing.
const bloomExpectedTerms = 1 << 20

type shard struct {
	mu    sync.Mutex
	bloom *bloom.BloomFilter
}

// Dictionary is the TermDictionary. Safe for concurrent use.
type Dictionary struct {
	be     kv.Backend
	shards [shardCount]*shard
	nextID atomic.Uint32

	fstMu    sync.Mutex
	fst      *vellum.FST
	fstDirty bool
}

// Open reconstructs a Dictionary from whatever the backend already holds,
// recovering the next-id counter by scanning the reverse table for its
// maximum key (TermId is never persisted as a standalone counter; it's
// derivable from the reverse table, keeping the schema blob the only
// "config" record the store needs to special-case).
func Open(be kv.Backend) (*Dictionary, error) {
	d := &Dictionary{be: be}
	for i := range d.shards {
		d.shards[i] = &shard{bloom: bloom.NewWithEstimates(bloomExpectedTerms, 0.01)}
	}

	it, err := be.PrefixScan([]byte{kcodec.TagTermRev})
	if err != nil {
		return nil, fmt.Errorf("termdict: open scan: %w", err)
	}
	defer it.Close()
	var maxID uint32
	for it.Next() {
		key := it.Key()
		if len(key) != 5 {
			continue
		}
		id := beUint32(key[1:])
		if id+1 > maxID {
			maxID = id + 1
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("termdict: open scan: %w", err)
	}
	d.nextID.Store(maxID)

	it2, err := be.PrefixScan([]byte{kcodec.TagTermFwd})
	if err != nil {
		return nil, fmt.Errorf("termdict: open seed bloom: %w", err)
	}
	defer it2.Close()
	for it2.Next() {
		termBytes, err := kcodec.TermBytes(it2.Key())
		if err != nil {
			return nil, err
		}
		d.shardFor(termBytes).bloom.Add(termBytes)
	}
	if err := it2.Err(); err != nil {
		return nil, fmt.Errorf("termdict: open seed bloom: %w", err)
	}

	d.fstDirty = true
	return d, nil
}

func (d *Dictionary) shardFor(termBytes []byte) *shard {
	h := xxhash.Sum64(termBytes)
	return d.shards[h%shardCount]
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// GetOrCreate interns termBytes, returning its TermId. Concurrent callers
// with equal bytes observe identical ids and exactly one persistence
// record is written.
func (d *Dictionary) GetOrCreate(termBytes []byte) (ids.TermId, error) {
	sh := d.shardFor(termBytes)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.bloom.Test(termBytes) {
		if v, ok, err := d.be.Get(kcodec.TermForward(termBytes)); err != nil {
			return 0, fmt.Errorf("termdict: lookup: %w", err)
		} else if ok {
			return ids.TermId(beUint32(v)), nil
		}
		// bloom false positive: genuinely new, fall through to allocate.
	}

	id := ids.TermId(d.nextID.Add(1) - 1)
	idBytes := make([]byte, 4)
	putBE32(idBytes, uint32(id))
	err := d.be.Batch([]kv.Op{
		kv.PutOp(kcodec.TermForward(termBytes), idBytes),
		kv.PutOp(kcodec.TermReverse(id), termBytes),
	})
	if err != nil {
		return 0, fmt.Errorf("termdict: persist: %w", err)
	}
	sh.bloom.Add(termBytes)

	d.fstMu.Lock()
	d.fstDirty = true
	d.fstMu.Unlock()

	return id, nil
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// Lookup returns the TermId for termBytes if it has already been interned,
// without creating it (used by planning: an unseen term compiles to
// PushEmpty instead of returning ErrUnknownTerm to the caller).
func (d *Dictionary) Lookup(termBytes []byte) (ids.TermId, bool, error) {
	v, ok, err := d.be.Get(kcodec.TermForward(termBytes))
	if err != nil {
		return 0, false, fmt.Errorf("termdict: lookup: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	return ids.TermId(beUint32(v)), true, nil
}

// Bytes reverses a TermId back to its byte sequence (used by Store.PrefixQuery).
func (d *Dictionary) Bytes(id ids.TermId) ([]byte, bool, error) {
	v, ok, err := d.be.Get(kcodec.TermReverse(id))
	if err != nil {
		return nil, false, fmt.Errorf("termdict: bytes: %w", err)
	}
	return v, ok, nil
}

// SelectorKind distinguishes an exact term lookup from a prefix scan.
type SelectorKind int

const (
	Exact SelectorKind = iota
	Prefix
)

// Selector picks a finite set of TermIds from the dictionary.
type Selector struct {
	Kind SelectorKind
	Term []byte
}

// Select resolves a selector to the matching TermIds.
func (d *Dictionary) Select(sel Selector) ([]ids.TermId, error) {
	switch sel.Kind {
	case Exact:
		id, ok, err := d.Lookup(sel.Term)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []ids.TermId{id}, nil
	case Prefix:
		return d.selectPrefix(sel.Term)
	default:
		return nil, fmt.Errorf("termdict: unknown selector kind %d", sel.Kind)
	}
}

func (d *Dictionary) selectPrefix(prefix []byte) ([]ids.TermId, error) {
	d.fstMu.Lock()
	defer d.fstMu.Unlock()
	if d.fstDirty || d.fst == nil {
		if err := d.rebuildFSTLocked(); err != nil {
			return nil, err
		}
	}
	if d.fst == nil {
		return nil, nil
	}

	var out []ids.TermId
	start := prefix
	end := prefixUpperBound(prefix)
	itr, err := d.fst.Iterator(start, end)
	for err == nil {
		_, val := itr.Current()
		out = append(out, ids.TermId(val))
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, fmt.Errorf("termdict: prefix iterate: %w", err)
	}
	return out, nil
}

// rebuildFSTLocked rebuilds the FST from the forward table. vellum
// requires keys inserted in ascending lexicographic order; the backend's
// PrefixScan over the 't' domain already yields keys in that order because
// the domain tag is a fixed prefix and the bucket cursor walks sorted
// bytes, so this is a single linear pass.
func (d *Dictionary) rebuildFSTLocked() error {
	it, err := d.be.PrefixScan([]byte{kcodec.TagTermFwd})
	if err != nil {
		return fmt.Errorf("termdict: rebuild scan: %w", err)
	}
	defer it.Close()

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return fmt.Errorf("termdict: vellum new: %w", err)
	}

	var any bool
	for it.Next() {
		termBytes, err := kcodec.TermBytes(it.Key())
		if err != nil {
			return err
		}
		id := beUint32(it.Value())
		if err := builder.Insert(termBytes, uint64(id)); err != nil {
			return fmt.Errorf("termdict: vellum insert: %w", err)
		}
		any = true
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("termdict: rebuild scan: %w", err)
	}
	if err := builder.Close(); err != nil {
		return fmt.Errorf("termdict: vellum close: %w", err)
	}

	if !any {
		d.fst = nil
		d.fstDirty = false
		return nil
	}

	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return fmt.Errorf("termdict: vellum load: %w", err)
	}
	d.fst = fst
	d.fstDirty = false
	return nil
}

// prefixUpperBound returns the smallest byte string strictly greater than
// every string with the given prefix, or nil (unbounded) if prefix is all
// 0xff bytes.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

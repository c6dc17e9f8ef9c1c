package kv

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// bucketName holds every domain-tagged key. The domain tag is already the
// first byte of every key (kcodec), so a single flat bucket is sufficient
// and keeps prefix scans a single cursor walk.
var bucketName = []byte("corefts")

// Bolt is the default Backend, backed by a single bbolt database file.
type Bolt struct {
	db *bolt.DB
}

// initialMmapSize is mapped up front so a write transaction does not have
// to remap the file (which waits for every open read transaction) until
// the database grows past it.
const initialMmapSize = 1 << 30

// OpenBolt opens (creating if absent) a bbolt-backed Backend at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{InitialMmapSize: initialMmapSize})
	if err != nil {
		return nil, fmt.Errorf("kv: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: init bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: get: %w", err)
	}
	return out, out != nil, nil
}

func (b *Bolt) Put(key, val []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

func (b *Bolt) Delete(key []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// Batch applies every op inside a single bbolt write transaction, so the
// whole set either commits together (and is fsync'd durable on return) or
// not at all -- the atomicity a two-phase insert depends on.
func (b *Bolt) Batch(ops []Op) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		for _, op := range ops {
			switch op.Kind {
			case OpPut:
				if err := bkt.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := bkt.Delete(op.Key); err != nil {
					return err
				}
			case OpMergeAppend:
				cur := bkt.Get(op.Key)
				merged := make([]byte, 0, len(cur)+len(op.Value))
				merged = append(merged, cur...)
				merged = append(merged, op.Value...)
				if err := bkt.Put(op.Key, merged); err != nil {
					return err
				}
			case OpMergeAddI64:
				cur := bkt.Get(op.Key)
				var curV int64
				if cur != nil {
					v, err := DecodeI64(cur)
					if err != nil {
						return err
					}
					curV = v
				}
				delta, err := DecodeI64(op.Value)
				if err != nil {
					return err
				}
				if err := bkt.Put(op.Key, EncodeI64(curV+delta)); err != nil {
					return err
				}
			default:
				return fmt.Errorf("kv: unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: batch: %w", err)
	}
	return nil
}

// Snapshot begins a long-lived bbolt read transaction. bbolt's MVCC gives
// every open read transaction a consistent point-in-time view of the
// database as of the moment it began, regardless of concurrent writers.
// Close it promptly; an open read transaction pins bbolt's freelist and
// blocks page reuse, and a write that grows the file past the initial
// mapping waits until every open snapshot and iterator is closed.
func (b *Bolt) Snapshot() (Snapshot, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("kv: begin snapshot: %w", err)
	}
	return &boltSnapshot{tx: tx}, nil
}

func (b *Bolt) PrefixScan(prefix []byte) (Iterator, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("kv: begin scan: %w", err)
	}
	return newBoltIterator(tx, prefix, true), nil
}

func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("kv: close: %w", err)
	}
	return nil
}

type boltSnapshot struct {
	tx *bolt.Tx
}

func (s *boltSnapshot) Get(key []byte) ([]byte, bool, error) {
	v := s.tx.Bucket(bucketName).Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *boltSnapshot) PrefixScan(prefix []byte) (Iterator, error) {
	return newBoltIterator(s.tx, prefix, false), nil
}

func (s *boltSnapshot) Close() error {
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("kv: close snapshot: %w", err)
	}
	return nil
}

// boltIterator walks a prefix range via a bolt.Cursor. ownsTx marks whether
// Close should end the underlying transaction (true for a standalone
// PrefixScan call, false when the iterator rides on a caller-owned
// Snapshot's transaction).
type boltIterator struct {
	tx      *bolt.Tx
	cur     *bolt.Cursor
	prefix  []byte
	ownsTx  bool
	started bool
	k, v    []byte
	err     error
}

func newBoltIterator(tx *bolt.Tx, prefix []byte, ownsTx bool) *boltIterator {
	return &boltIterator{
		tx:     tx,
		cur:    tx.Bucket(bucketName).Cursor(),
		prefix: append([]byte(nil), prefix...),
		ownsTx: ownsTx,
	}
}

func (it *boltIterator) Next() bool {
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.cur.Seek(it.prefix)
	} else {
		k, v = it.cur.Next()
	}
	if k == nil || !bytes.HasPrefix(k, it.prefix) {
		it.k, it.v = nil, nil
		return false
	}
	it.k = append([]byte(nil), k...)
	it.v = append([]byte(nil), v...)
	return true
}

func (it *boltIterator) Key() []byte   { return it.k }
func (it *boltIterator) Value() []byte { return it.v }
func (it *boltIterator) Err() error    { return it.err }

func (it *boltIterator) Close() error {
	if it.ownsTx {
		if err := it.tx.Rollback(); err != nil {
			return fmt.Errorf("kv: close iterator: %w", err)
		}
	}
	return nil
}

// Package kv defines the ordered key-value backend contract corefts
// depends on and provides a default implementation on top of
// go.etcd.io/bbolt. The contract is intentionally small: get/put/delete,
// an atomic batch, a point-in-time snapshot, prefix scans, and
// merge-operator batch ops for byte append and int64 add. The segment,
// merge and docindex packages write whole values with OpPut.
package kv

import (
	"encoding/binary"
	"fmt"
)

// OpKind selects the action of one Batch entry.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	// OpMergeAppend concatenates Value onto whatever bytes already live at
	// Key.
	OpMergeAppend
	// OpMergeAddI64 decodes the current value (or 0 if absent) and Value as
	// little-endian int64 and writes their sum.
	OpMergeAddI64
)

// Op is one mutation in an atomic Batch.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

func PutOp(key, val []byte) Op      { return Op{Kind: OpPut, Key: key, Value: val} }
func DeleteOp(key []byte) Op        { return Op{Kind: OpDelete, Key: key} }
func MergeAppendOp(key, v []byte) Op { return Op{Kind: OpMergeAppend, Key: key, Value: v} }
func MergeAddI64Op(key []byte, delta int64) Op {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, uint64(delta))
	return Op{Kind: OpMergeAddI64, Key: key, Value: v}
}

// Iterator walks an ascending range of keys. Advance with Next before the
// first Key/Value call, mirroring bufio.Scanner / bolt.Cursor idiom.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Snapshot is an immutable point-in-time view of the backend. Readers built
// from it never observe later writes.
type Snapshot interface {
	Get(key []byte) ([]byte, bool, error)
	PrefixScan(prefix []byte) (Iterator, error)
	Close() error
}

// Backend is the ordered key-value store contract. Batch commits are
// durable: once Batch returns nil, the writes survive a crash.
type Backend interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, val []byte) error
	Delete(key []byte) error
	Batch(ops []Op) error
	Snapshot() (Snapshot, error)
	PrefixScan(prefix []byte) (Iterator, error)
	Close() error
}

// DecodeI64 reads a little-endian int64 stat value.
func DecodeI64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("kv: bad i64 stat length %d", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// EncodeI64 writes a little-endian int64 stat value.
func EncodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

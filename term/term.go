// Package term implements the Term data model: a tagged value (string /
// i64 / bool / timestamp) that serializes to a byte string
// content-addressed so equal terms always produce equal bytes, plus the
// Token and Vector types that ride on top of it.
package term

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Kind tags a Term's dynamic type. The tag is the first byte of a Term's
// serialization so differently-typed terms never collide.
type Kind byte

const (
	KindString Kind = 's'
	KindI64    Kind = 'i'
	KindBool   Kind = 'b'
	KindTime   Kind = 't'
)

// Term is a content-addressed, tagged value used both as an indexed token
// and as a query leaf (Query.Term.term). Zero value is not meaningful;
// construct with the From* helpers.
type Term struct {
	kind Kind
	str  []byte
	i64  int64
}

// FromString builds a string term from raw bytes (already analyzed/folded
// by the time it reaches here; the analyzer decides casing/normalization).
func FromString(b []byte) Term {
	return Term{kind: KindString, str: append([]byte(nil), b...)}
}

// FromI64 builds a signed 64-bit integer term.
func FromI64(v int64) Term { return Term{kind: KindI64, i64: v} }

// FromBool builds a boolean term.
func FromBool(v bool) Term {
	var i int64
	if v {
		i = 1
	}
	return Term{kind: KindBool, i64: i}
}

// FromTime builds a timestamp term truncated to microseconds since the
// Unix epoch.
func FromTime(t time.Time) Term {
	return Term{kind: KindTime, i64: t.UnixMicro()}
}

func (t Term) Kind() Kind { return t.kind }

// Bytes returns the raw string payload; only meaningful for KindString.
func (t Term) Bytes() []byte { return t.str }

// Int64 returns the raw integer payload; meaningful for KindI64, KindBool
// (0/1) and KindTime (microseconds since epoch).
func (t Term) Int64() int64 { return t.i64 }

// Encode serializes the term to its content-addressed byte form: one tag
// byte followed by the type-specific payload. Equal terms produce equal
// bytes and vice versa, which is what lets TermDictionary intern by byte
// equality.
func (t Term) Encode() []byte {
	switch t.kind {
	case KindString:
		out := make([]byte, 1+len(t.str))
		out[0] = byte(KindString)
		copy(out[1:], t.str)
		return out
	case KindI64, KindBool, KindTime:
		out := make([]byte, 9)
		out[0] = byte(t.kind)
		binary.BigEndian.PutUint64(out[1:], uint64(t.i64))
		return out
	default:
		panic(fmt.Sprintf("term: encode of zero-value term (kind=%q)", t.kind))
	}
}

// Decode parses the byte form produced by Encode.
func Decode(b []byte) (Term, error) {
	if len(b) == 0 {
		return Term{}, fmt.Errorf("term: empty encoding")
	}
	kind := Kind(b[0])
	switch kind {
	case KindString:
		return Term{kind: kind, str: append([]byte(nil), b[1:]...)}, nil
	case KindI64, KindBool, KindTime:
		if len(b) != 9 {
			return Term{}, fmt.Errorf("term: bad numeric encoding length %d", len(b))
		}
		v := int64(binary.BigEndian.Uint64(b[1:]))
		return Term{kind: kind, i64: v}, nil
	default:
		return Term{}, fmt.Errorf("term: unknown type tag %q", kind)
	}
}

// Equal reports whether two terms are content-equal (same encoding).
func (t Term) Equal(o Term) bool {
	if t.kind != o.kind {
		return false
	}
	if t.kind == KindString {
		return string(t.str) == string(o.str)
	}
	return t.i64 == o.i64
}

func (t Term) String() string {
	switch t.kind {
	case KindString:
		return string(t.str)
	case KindI64:
		return fmt.Sprintf("%d", t.i64)
	case KindBool:
		return fmt.Sprintf("%v", t.i64 != 0)
	case KindTime:
		return time.UnixMicro(t.i64).UTC().Format(time.RFC3339Nano)
	default:
		return "<zero-term>"
	}
}

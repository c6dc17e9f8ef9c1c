// Package mapping binds each field name to a data type, storage policy,
// analyzers and boost, and exposes the two pure functions that turn a
// dynamic JSON value into strongly-typed internal representations.
package mapping

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/analysis"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/schema"
	"github.com/go-mizu/corefts/term"
)

// AllField is the synthetic field name collecting every is_in_all field's
// string content.
const AllField = "_all"

// positionGap is the number of positions skipped between successive array
// elements or successive source fields feeding a multi-value term.Vector,
// so a phrase-adjacency consumer (positions are carried today but not yet
// consulted by any scorer) never sees two unrelated values as adjacent.
const positionGap = 1

// Field describes one mapped field.
type Field struct {
	Name           string
	Type           schema.FieldType
	IsIndexed      bool
	IsAnalyzed     bool
	IsStored       bool
	IsInAll        bool
	Boost          float32
	IndexAnalyzer  string // analysis.Registry name; "" = mapping default
	SearchAnalyzer string // analysis.Registry name; recorded only, Mapping and Store never consult it
}

// FieldValue is a decoded stored value of one of the four schema types.
type FieldValue struct {
	Kind kcodec.StoredValueKind
	Str  string
	I64  int64
	Bool bool
	Time time.Time
}

// Mapping binds field names to analyzers and storage policy and exposes
// the pure process_for_index / process_for_store functions.
type Mapping struct {
	schema          *schema.Registry
	registry        *analysis.Registry
	fields          map[string]Field
	defaultAnalyzer string
}

// New constructs a Mapping over a schema registry and analyzer registry.
// defaultAnalyzer names the analyzer used by analyzed fields that don't
// override one; it falls back to "standard" if empty.
func New(sch *schema.Registry, reg *analysis.Registry, defaultAnalyzer string) *Mapping {
	if defaultAnalyzer == "" {
		defaultAnalyzer = "standard"
	}
	return &Mapping{schema: sch, registry: reg, fields: map[string]Field{}, defaultAnalyzer: defaultAnalyzer}
}

// DefineField registers a field's mapping policy and its backing schema
// entry in one step, returning the assigned FieldId.
func (m *Mapping) DefineField(f Field) (ids.FieldId, error) {
	var flags schema.Flags
	if f.IsIndexed {
		flags |= schema.Indexed
	}
	if f.IsStored {
		flags |= schema.Stored
	}
	id, err := m.schema.AddField(f.Name, f.Type, flags)
	if err != nil {
		return 0, err
	}
	m.fields[f.Name] = f
	return id, nil
}

// Fields returns every field this Mapping has defined, order unspecified.
// Store.processDocument walks this list to decide what to index/store for
// an incoming document.
func (m *Mapping) Fields() []Field {
	out := make([]Field, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f)
	}
	return out
}

func (m *Mapping) field(name string) (Field, error) {
	f, ok := m.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", corefts.ErrUnknownField, name)
	}
	return f, nil
}

// Field returns the mapping policy for name, so a query builder can read
// its per-field Boost without duplicating Mapping's own field table.
func (m *Mapping) Field(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// RemoveField forgets a field's mapping policy. The schema registry's own
// RemoveField handles the persisted side; a name unknown to the mapping is
// a no-op.
func (m *Mapping) RemoveField(name string) {
	delete(m.fields, name)
}

func (m *Mapping) analyzerFor(name, override string) (*analysis.Analyzer, error) {
	aName := override
	if aName == "" {
		aName = m.defaultAnalyzer
	}
	a, err := m.registry.Get(aName)
	if err != nil {
		return nil, fmt.Errorf("mapping: field %q: %w", name, err)
	}
	return a, nil
}

// ProcessForIndex turns one field's dynamic JSON value into the
// term.Vector SegmentBuilder will add to postings. Numeric/bool/datetime
// fields bypass the analyzer and map to a single-token vector.
func (m *Mapping) ProcessForIndex(name string, value any) (term.Vector, error) {
	f, err := m.field(name)
	if err != nil {
		return nil, err
	}
	if !f.IsIndexed {
		return nil, nil
	}

	switch f.Type {
	case schema.Text:
		return m.processTextForIndex(f, value)
	case schema.PlainString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants a string", corefts.ErrFieldValue, name)
		}
		return term.Vector{{Term: term.FromString([]byte(s)), Position: 1}}, nil
	case schema.I64:
		i, err := coerceI64(value)
		if err != nil {
			return nil, fmt.Errorf("mapping: field %q: %w", name, err)
		}
		return term.Vector{{Term: term.FromI64(i), Position: 1}}, nil
	case schema.Boolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants a bool", corefts.ErrFieldValue, name)
		}
		return term.Vector{{Term: term.FromBool(b), Position: 1}}, nil
	case schema.DateTime:
		t, err := coerceTime(value)
		if err != nil {
			return nil, fmt.Errorf("mapping: field %q: %w", name, err)
		}
		return term.Vector{{Term: term.FromTime(t), Position: 1}}, nil
	default:
		return nil, fmt.Errorf("mapping: field %q: unknown type %v", name, f.Type)
	}
}

func (m *Mapping) processTextForIndex(f Field, value any) (term.Vector, error) {
	strs, err := stringOrStringArray(f.Name, value)
	if err != nil {
		return nil, err
	}
	if !f.IsAnalyzed {
		var vec term.Vector
		pos := uint32(1)
		for _, s := range strs {
			vec = append(vec, term.Token{Term: term.FromString([]byte(s)), Position: pos})
			pos += 1 + positionGap
		}
		return vec, nil
	}
	a, err := m.analyzerFor(f.Name, f.IndexAnalyzer)
	if err != nil {
		return nil, err
	}
	return analyzeConcatenated(a, strs), nil
}

// analyzeConcatenated analyzes each string independently and concatenates
// the resulting vectors with a position gap between them, so adjacency
// across array items (or across fields, for _all) is never implied.
func analyzeConcatenated(a *analysis.Analyzer, strs []string) term.Vector {
	var out term.Vector
	var base uint32
	for _, s := range strs {
		v := a.Analyze([]byte(s))
		for _, tok := range v {
			out = append(out, term.Token{Term: tok.Term, Position: base + tok.Position})
		}
		if len(v) > 0 {
			base += v[len(v)-1].Position + positionGap
		}
	}
	return out
}

// ProcessForStore converts one field's input value into the FieldValue to
// store; a field that is not stored yields the zero FieldValue. String
// arrays join with ' '.
func (m *Mapping) ProcessForStore(name string, value any) (FieldValue, error) {
	f, err := m.field(name)
	if err != nil {
		return FieldValue{}, err
	}
	if !f.IsStored {
		return FieldValue{}, nil
	}

	switch f.Type {
	case schema.Text, schema.PlainString:
		strs, err := stringOrStringArray(name, value)
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Kind: kcodec.StoredString, Str: joinStrings(strs)}, nil
	case schema.I64:
		i, err := coerceI64(value)
		if err != nil {
			return FieldValue{}, fmt.Errorf("mapping: field %q: %w", name, err)
		}
		return FieldValue{Kind: kcodec.StoredI64, I64: i}, nil
	case schema.Boolean:
		b, ok := value.(bool)
		if !ok {
			return FieldValue{}, fmt.Errorf("%w: field %q wants a bool", corefts.ErrFieldValue, name)
		}
		return FieldValue{Kind: kcodec.StoredBool, Bool: b}, nil
	case schema.DateTime:
		t, err := coerceTime(value)
		if err != nil {
			return FieldValue{}, fmt.Errorf("mapping: field %q: %w", name, err)
		}
		return FieldValue{Kind: kcodec.StoredTime, Time: t.Truncate(time.Microsecond)}, nil
	default:
		return FieldValue{}, fmt.Errorf("mapping: field %q: unknown type %v", name, f.Type)
	}
}

// StoredKindFor returns the kcodec.StoredValueKind a schema field type
// serializes to, letting a reader reconstruct the "v/..." key for a field
// without re-deriving the mapping's own per-value logic.
func StoredKindFor(t schema.FieldType) kcodec.StoredValueKind {
	switch t {
	case schema.Text, schema.PlainString:
		return kcodec.StoredString
	case schema.I64:
		return kcodec.StoredI64
	case schema.Boolean:
		return kcodec.StoredBool
	case schema.DateTime:
		return kcodec.StoredTime
	default:
		return kcodec.StoredString
	}
}

// EncodeStored serializes a FieldValue to the bytes persisted under a
// "v/..." key.
func EncodeStored(fv FieldValue) []byte {
	switch fv.Kind {
	case kcodec.StoredString:
		return []byte(fv.Str)
	case kcodec.StoredI64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(fv.I64))
		return b
	case kcodec.StoredBool:
		if fv.Bool {
			return []byte{'t'}
		}
		return []byte{'f'}
	case kcodec.StoredTime:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(fv.Time.UnixMicro()))
		return b
	default:
		return nil
	}
}

// DecodeStored parses bytes written by EncodeStored. Any value that
// doesn't match its kind's expected shape is a Decode error.
func DecodeStored(kind kcodec.StoredValueKind, b []byte) (FieldValue, error) {
	switch kind {
	case kcodec.StoredString:
		return FieldValue{Kind: kind, Str: string(b)}, nil
	case kcodec.StoredI64:
		if len(b) != 8 {
			return FieldValue{}, fmt.Errorf("%w: i64 wants 8 bytes, got %d", corefts.ErrDecode, len(b))
		}
		return FieldValue{Kind: kind, I64: int64(binary.BigEndian.Uint64(b))}, nil
	case kcodec.StoredBool:
		if len(b) != 1 || (b[0] != 't' && b[0] != 'f') {
			return FieldValue{}, fmt.Errorf("%w: bad boolean byte %v", corefts.ErrDecode, b)
		}
		return FieldValue{Kind: kind, Bool: b[0] == 't'}, nil
	case kcodec.StoredTime:
		if len(b) != 8 {
			return FieldValue{}, fmt.Errorf("%w: datetime wants 8 bytes, got %d", corefts.ErrDecode, len(b))
		}
		us := int64(binary.BigEndian.Uint64(b))
		return FieldValue{Kind: kind, Time: time.UnixMicro(us).UTC()}, nil
	default:
		return FieldValue{}, fmt.Errorf("%w: unknown stored kind %q", corefts.ErrDecode, kind)
	}
}

// ProcessAll builds the synthetic _all field's term.Vector by analyzing
// every is_in_all field's string content found in doc, in a deterministic
// (sorted field name) order, with a standard-analyzer default unless the
// Mapping registered an _all override.
func (m *Mapping) ProcessAll(doc map[string]any) (term.Vector, error) {
	names := make([]string, 0, len(m.fields))
	for name, f := range m.fields {
		if f.IsInAll {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	allAnalyzerName := "standard"
	if af, ok := m.fields[AllField]; ok && af.IndexAnalyzer != "" {
		allAnalyzerName = af.IndexAnalyzer
	}
	a, err := m.analyzerFor(AllField, allAnalyzerName)
	if err != nil {
		return nil, err
	}

	var strs []string
	for _, name := range names {
		v, ok := doc[name]
		if !ok {
			continue
		}
		vs, err := stringOrStringArray(name, v)
		if err != nil {
			continue // non-string values simply don't contribute to _all
		}
		strs = append(strs, vs...)
	}
	return analyzeConcatenated(a, strs), nil
}

func stringOrStringArray(field string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: field %q array element is not a string", corefts.ErrFieldValue, field)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: field %q wants string or []string", corefts.ErrFieldValue, field)
	}
}

func joinStrings(strs []string) string {
	out := ""
	for i, s := range strs {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func coerceI64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%w: wants an integer", corefts.ErrFieldValue)
	}
}

func coerceTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unparseable datetime %q", corefts.ErrFieldValue, v)
		}
		return t, nil
	case float64:
		return time.UnixMicro(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("%w: wants a datetime", corefts.ErrFieldValue)
	}
}

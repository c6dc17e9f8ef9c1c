// Package schema implements the field-name registry binding names to
// (FieldId, FieldType, flags), append-mostly and persisted as a single
// rewritten blob.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/ids"
)

// FieldType is a field's data type.
type FieldType int

const (
	Text FieldType = iota
	PlainString
	I64
	Boolean
	DateTime
)

func (t FieldType) String() string {
	switch t {
	case Text:
		return "text"
	case PlainString:
		return "plain_string"
	case I64:
		return "i64"
	case Boolean:
		return "boolean"
	case DateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Flags are the storage bits of a field.
type Flags uint8

const (
	Indexed Flags = 1 << iota
	Stored
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Field is one entry of a schema snapshot.
type Field struct {
	Name  string    `json:"name"`
	ID    ids.FieldId `json:"id"`
	Type  FieldType `json:"type"`
	Flags Flags     `json:"flags"`
}

// Snapshot is an immutable view of the schema at one point in time.
// Mutation clones and replaces.
type Snapshot struct {
	byName map[string]Field
	byID   map[ids.FieldId]Field
	nextID ids.FieldId
}

func emptySnapshot() *Snapshot {
	return &Snapshot{byName: map[string]Field{}, byID: map[ids.FieldId]Field{}, nextID: 1}
}

func (s *Snapshot) clone() *Snapshot {
	n := &Snapshot{
		byName: make(map[string]Field, len(s.byName)),
		byID:   make(map[ids.FieldId]Field, len(s.byID)),
		nextID: s.nextID,
	}
	for k, v := range s.byName {
		n.byName[k] = v
	}
	for k, v := range s.byID {
		n.byID[k] = v
	}
	return n
}

// Field looks up a field by name.
func (s *Snapshot) Field(name string) (Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// FieldByID looks up a field by id.
func (s *Snapshot) FieldByID(id ids.FieldId) (Field, bool) {
	f, ok := s.byID[id]
	return f, ok
}

// Fields returns every field in the snapshot, order unspecified.
func (s *Snapshot) Fields() []Field {
	out := make([]Field, 0, len(s.byName))
	for _, f := range s.byName {
		out = append(out, f)
	}
	return out
}

// wireSnapshot is the persisted blob shape.
type wireSnapshot struct {
	Fields []Field     `json:"fields"`
	NextID ids.FieldId `json:"next_id"`
}

// Marshal serializes the snapshot to the schema blob persisted under the
// ".schema" key.
func (s *Snapshot) Marshal() ([]byte, error) {
	w := wireSnapshot{NextID: s.nextID}
	for _, f := range s.byName {
		w.Fields = append(w.Fields, f)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal parses a persisted schema blob.
func Unmarshal(b []byte) (*Snapshot, error) {
	if len(b) == 0 {
		return emptySnapshot(), nil
	}
	var w wireSnapshot
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("schema: unmarshal: %w", err)
	}
	s := emptySnapshot()
	s.nextID = w.NextID
	if s.nextID == 0 {
		s.nextID = 1
	}
	for _, f := range w.Fields {
		s.byName[f.Name] = f
		s.byID[f.ID] = f
	}
	return s, nil
}

// Registry owns the current Snapshot and the lock serializing its
// replacement: writers clone the snapshot, mutate the clone, then swap it in.
type Registry struct {
	mu   sync.RWMutex
	snap *Snapshot
	save func(*Snapshot) error
}

// NewRegistry wraps an initial snapshot with a persistence callback invoked
// on every mutation (Store wires this to a single-key KV write).
func NewRegistry(initial *Snapshot, save func(*Snapshot) error) *Registry {
	if initial == nil {
		initial = emptySnapshot()
	}
	return &Registry{snap: initial, save: save}
}

// Snapshot returns the current schema snapshot. Safe to retain; it is
// immutable and will not be mutated in place by a later AddField.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// AddField is idempotent on (name, type, flags); reusing a name with a
// different type or flags fails with ErrSchemaConflict.
func (r *Registry) AddField(name string, typ FieldType, flags Flags) (ids.FieldId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.snap.byName[name]; ok {
		if existing.Type == typ && existing.Flags == flags {
			return existing.ID, nil
		}
		return 0, fmt.Errorf("%w: field %q already %s/%d", corefts.ErrSchemaConflict, name, existing.Type, existing.Flags)
	}

	next := r.snap.clone()
	id := next.nextID
	next.nextID++
	f := Field{Name: name, ID: id, Type: typ, Flags: flags}
	next.byName[name] = f
	next.byID[id] = f

	if r.save != nil {
		if err := r.save(next); err != nil {
			return 0, fmt.Errorf("schema: persist: %w", err)
		}
	}
	r.snap = next
	return id, nil
}

// RemoveField drops a field from future snapshots. Already-written segment
// data under the old FieldId is untouched since segments are write-once;
// it simply becomes unreachable through the schema.
func (r *Registry) RemoveField(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.snap.byName[name]; !ok {
		return nil
	}
	next := r.snap.clone()
	f := next.byName[name]
	delete(next.byName, name)
	delete(next.byID, f.ID)

	if r.save != nil {
		if err := r.save(next); err != nil {
			return fmt.Errorf("schema: persist: %w", err)
		}
	}
	r.snap = next
	return nil
}

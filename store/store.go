// Package store implements Store: the facade tying every subsystem
// together behind two operations a caller actually needs -- insert/update
// a document, and open a read-only Reader snapshot -- plus the merge
// entrypoint an operator or background job drives. Construction uses the
// functional-options pattern (an Option func(*Store)); opening, indexing,
// merging and purging log through github.com/rs/zerolog.
package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-mizu/corefts"
	"github.com/go-mizu/corefts/analysis"
	"github.com/go-mizu/corefts/collector"
	"github.com/go-mizu/corefts/config"
	"github.com/go-mizu/corefts/docindex"
	"github.com/go-mizu/corefts/exec"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/mapping"
	"github.com/go-mizu/corefts/merge"
	"github.com/go-mizu/corefts/plan"
	"github.com/go-mizu/corefts/query"
	"github.com/go-mizu/corefts/schema"
	"github.com/go-mizu/corefts/segment"
	"github.com/go-mizu/corefts/segmgr"
	"github.com/go-mizu/corefts/term"
	"github.com/go-mizu/corefts/termdict"
)

// Document is one caller-supplied record: a primary key plus a dynamic
// field-name to JSON-shaped-value map.
type Document struct {
	PK     []byte
	Fields map[string]any
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the zerolog.Logger a Store writes operational
// events to. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the facade tying everything needed to index and query one
// corpus, backed by one kv.Backend.
type Store struct {
	cfg *config.StoreConfig
	log zerolog.Logger

	be        kv.Backend
	schema    *schema.Registry
	terms     *termdict.Dictionary
	analyzers *analysis.Registry
	mapping   *mapping.Mapping
	segMgr    *segmgr.Manager
	docIdx    *docindex.Index
	merger    *merge.Engine

	mu     sync.Mutex // serializes writers and merges
	closed bool
}

// Create opens a store at cfg.Path. It is identical to Open: every
// substructure recovers an empty state from an empty backend, and an
// existing store at cfg.Path is opened rather than rejected.
func Create(cfg *config.StoreConfig, opts ...Option) (*Store, error) {
	return Open(cfg, opts...)
}

// Open opens (creating if absent) the store described by cfg.
func Open(cfg *config.StoreConfig, opts ...Option) (*Store, error) {
	be, err := kv.OpenBolt(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open backend: %w", err)
	}

	s := &Store{cfg: cfg, be: be, log: zerolog.New(io.Discard)}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadSchema(); err != nil {
		_ = be.Close()
		return nil, err
	}

	s.terms, err = termdict.Open(be)
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("store: open term dictionary: %w", err)
	}
	s.segMgr, err = segmgr.Open(be)
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("store: open segment manager: %w", err)
	}
	s.docIdx, err = docindex.Open(be)
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("store: open document index: %w", err)
	}

	s.analyzers = analysis.NewRegistry()
	s.mapping = mapping.New(s.schema, s.analyzers, cfg.DefaultAnalyzer)
	s.merger = merge.New(be, s.segMgr, s.docIdx)

	if _, err := s.mapping.DefineField(mapping.Field{
		Name: mapping.AllField, Type: schema.Text, IsIndexed: true, IsAnalyzed: true,
	}); err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("store: define _all field: %w", err)
	}

	s.log.Info().Str("path", cfg.Path).Msg("store opened")
	return s, nil
}

func (s *Store) loadSchema() error {
	b, ok, err := s.be.Get(kcodec.SchemaKey())
	if err != nil {
		return fmt.Errorf("store: load schema: %w", err)
	}
	var snap *schema.Snapshot
	if ok {
		snap, err = schema.Unmarshal(b)
		if err != nil {
			return fmt.Errorf("store: load schema: %w", err)
		}
	}
	s.schema = schema.NewRegistry(snap, func(next *schema.Snapshot) error {
		wire, err := next.Marshal()
		if err != nil {
			return err
		}
		return s.be.Put(kcodec.SchemaKey(), wire)
	})
	return nil
}

// Close releases the backend. A closed Store must not be used again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.be.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// DefineField registers a mapped field.
func (s *Store) DefineField(f mapping.Field) (ids.FieldId, error) {
	return s.mapping.DefineField(f)
}

// Schema exposes the underlying schema.Registry for callers resolving
// field names to ids.FieldId when building a query.Query.
func (s *Store) Schema() *schema.Registry { return s.schema }

// Analyzers exposes the analyzer registry so callers can register custom
// named analyzers before indexing.
func (s *Store) Analyzers() *analysis.Registry { return s.analyzers }

// InsertOrUpdateDocument indexes a single document, replacing any existing
// document under the same primary key.
func (s *Store) InsertOrUpdateDocument(doc Document) error {
	return s.IndexBatch([]Document{doc})
}

// IndexBatch builds one new segment from docs and publishes it in two
// phases: phase one durably flushes the segment's data with its
// activation marker in a single atomic batch, after which new readers
// can match the new documents; phase two rewrites DocumentIndex to point
// each primary key at its new location and tombstones any previous
// version, so no key ever points into an inactive segment. Between the
// two phases a replaced document's previous version is still live.
func (s *Store) IndexBatch(docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corefts.ErrClosed
	}
	if len(docs) == 0 {
		return nil
	}

	segID := s.segMgr.Allocate()
	builder := segment.New(segID)

	type pending struct {
		pk  []byte
		ref ids.DocRef
	}
	pendings := make([]pending, 0, len(docs))

	for _, d := range docs {
		postings, stored, tokens, err := s.processDocument(d.Fields)
		if err != nil {
			return err
		}
		ord, err := builder.AddDocument(postings, stored)
		if err != nil {
			return fmt.Errorf("store: index %x: %w", d.PK, err)
		}
		for field, n := range tokens {
			builder.IncrStat(kcodec.StatTokens(field), n)
		}
		pendings = append(pendings, pending{pk: d.PK, ref: ids.DocRef{Segment: segID, Ord: ord}})
	}

	// Phase 1.
	if err := builder.Flush(s.be); err != nil {
		return err
	}
	s.segMgr.Activate(segID)

	// Phase 2.
	for _, p := range pendings {
		if err := s.docIdx.InsertOrReplace(s.be, p.pk, p.ref); err != nil {
			return err
		}
	}

	s.log.Debug().Int("docs", len(docs)).Uint32("segment", uint32(segID)).Msg("indexed batch")
	return nil
}

// DeleteDocument removes pk, reporting whether it was present.
func (s *Store) DeleteDocument(pk []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, corefts.ErrClosed
	}
	return s.docIdx.Delete(s.be, pk)
}

// processDocument analyzes one document's fields into postings and stored
// values, returning alongside them the analyzed token count per field --
// accumulated into the segment's tokens_<field> statistic and written per
// document as a StoredFieldLen entry, the two inputs BM25's length
// normalization reads back at query time.
func (s *Store) processDocument(fields map[string]any) ([]segment.Posting, []segment.StoredField, map[ids.FieldId]int64, error) {
	var postings []segment.Posting
	var stored []segment.StoredField
	tokens := map[ids.FieldId]int64{}

	for _, f := range s.mapping.Fields() {
		if f.Name == mapping.AllField {
			continue
		}
		value, ok := fields[f.Name]
		if !ok {
			continue
		}
		sf, ok := s.schema.Snapshot().Field(f.Name)
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %q", corefts.ErrUnknownField, f.Name)
		}

		if f.IsIndexed {
			vec, err := s.mapping.ProcessForIndex(f.Name, value)
			if err != nil {
				return nil, nil, nil, err
			}
			for _, tok := range vec {
				termID, err := s.terms.GetOrCreate(tok.Term.Encode())
				if err != nil {
					return nil, nil, nil, err
				}
				postings = append(postings, segment.Posting{Field: sf.ID, Term: termID, Position: tok.Position})
			}
			tokens[sf.ID] += int64(len(vec))
		}

		if f.IsStored {
			fv, err := s.mapping.ProcessForStore(f.Name, value)
			if err != nil {
				return nil, nil, nil, err
			}
			stored = append(stored, segment.StoredField{Field: sf.ID, Kind: fv.Kind, Bytes: mapping.EncodeStored(fv)})
		}
	}

	allField, ok := s.schema.Snapshot().Field(mapping.AllField)
	if ok {
		vec, err := s.mapping.ProcessAll(fields)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, tok := range vec {
			termID, err := s.terms.GetOrCreate(tok.Term.Encode())
			if err != nil {
				return nil, nil, nil, err
			}
			postings = append(postings, segment.Posting{Field: allField.ID, Term: termID, Position: tok.Position})
		}
		if len(vec) > 0 {
			tokens[allField.ID] += int64(len(vec))
		}
	}

	for field, n := range tokens {
		if n == 0 {
			continue
		}
		stored = append(stored, segment.StoredField{
			Field: field,
			Kind:  kcodec.StoredFieldLen,
			Bytes: kv.EncodeI64(n),
		})
	}

	return postings, stored, tokens, nil
}

// TermQuery resolves fieldName through the schema and builds a single-term
// query.Query, degrading to query.None() for an unknown field rather than
// failing the caller outright. The field's mapping Boost, if any, is folded in
// here so every query path scores consistently without the planner having
// to re-resolve field names.
func (s *Store) TermQuery(fieldName string, t term.Term) query.Query {
	f, ok := s.schema.Snapshot().Field(fieldName)
	if !ok {
		return query.None()
	}
	q := query.OneTerm(f.ID, t)
	if mf, ok := s.mapping.Field(fieldName); ok && mf.Boost != 0 && mf.Boost != 1 {
		q = query.Boosted(q, mf.Boost)
	}
	return q
}

// PrefixQuery matches documents whose field carries any string term
// beginning with prefix. The prefix is resolved to its concrete matches
// through the term dictionary's FST at build time, yielding a MultiTerm
// over that finite set; a prefix matching nothing (or an unknown field)
// degrades to query.None.
func (s *Store) PrefixQuery(fieldName, prefix string) (query.Query, error) {
	f, ok := s.schema.Snapshot().Field(fieldName)
	if !ok {
		return query.None(), nil
	}

	matched, err := s.terms.Select(termdict.Selector{
		Kind: termdict.Prefix,
		Term: term.FromString([]byte(prefix)).Encode(),
	})
	if err != nil {
		return query.Query{}, fmt.Errorf("store: prefix query: %w", err)
	}

	terms := make([]term.Term, 0, len(matched))
	for _, id := range matched {
		b, ok, err := s.terms.Bytes(id)
		if err != nil {
			return query.Query{}, fmt.Errorf("store: prefix query: %w", err)
		}
		if !ok {
			continue
		}
		t, err := term.Decode(b)
		if err != nil {
			return query.Query{}, fmt.Errorf("store: prefix query: %w", err)
		}
		terms = append(terms, t)
	}

	q := query.MultiTerm(f.ID, terms)
	if mf, ok := s.mapping.Field(fieldName); ok && mf.Boost != 0 && mf.Boost != 1 {
		q = query.Boosted(q, mf.Boost)
	}
	return q, nil
}

// planner returns a fresh Planner carrying the store's configured BM25
// parameters.
func (s *Store) planner() *plan.Planner {
	p := plan.New(s.terms)
	p.BM25 = plan.BM25{K1: float32(s.cfg.BM25.K1), B: float32(s.cfg.BM25.B)}
	return p
}

// Search compiles q and runs it across every active segment, returning the
// top k results ranked by score.
func (s *Store) Search(ctx context.Context, q query.Query, k int) ([]collector.Hit, exec.Explain, error) {
	r, err := s.Reader()
	if err != nil {
		return nil, exec.Explain{}, err
	}
	defer r.Close()
	return r.Search(ctx, q, k)
}

// Count reports how many live documents match q, without ranking them.
func (s *Store) Count(ctx context.Context, q query.Query) (int64, error) {
	r, err := s.Reader()
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Count(ctx, q)
}

// GetStored reads one field's stored value for a DocRef returned by
// Search, reconstructing its "v/..." key from the schema's declared type.
func (s *Store) GetStored(ref ids.DocRef, fieldName string) (mapping.FieldValue, bool, error) {
	r, err := s.Reader()
	if err != nil {
		return mapping.FieldValue{}, false, err
	}
	defer r.Close()
	return r.ReadStoredField(ref, fieldName)
}

// ContainsDocumentKey reports whether a live document currently exists
// under pk.
func (s *Store) ContainsDocumentKey(pk []byte) bool {
	return s.docIdx.Contains(pk)
}

// RemoveField drops a field from the mapping and schema. Already-written
// segment data under its FieldId stays on disk (segments are write-once)
// but becomes unreachable: queries can no longer name the field.
func (s *Store) RemoveField(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corefts.ErrClosed
	}
	s.mapping.RemoveField(name)
	return s.schema.RemoveField(name)
}

// Merge compacts sources into one destination segment,
// serialized against writers by the same mutex IndexBatch uses.
func (s *Store) Merge(sources []ids.SegmentId) (ids.SegmentId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, corefts.ErrClosed
	}
	dest, err := s.merger.Merge(sources)
	if err != nil {
		return 0, err
	}
	s.log.Info().Int("sources", len(sources)).Uint32("dest", uint32(dest)).Msg("merged segments")
	return dest, nil
}

// MergeIfNeeded applies the configured MergePolicy and reports whether a
// merge ran: once the active set grows past MaxActiveSegments every
// active segment is compacted into one; otherwise the first segment whose
// tombstoned fraction reaches MinDeletionRatio is compacted by itself to
// reclaim its space.
func (s *Store) MergeIfNeeded() (bool, error) {
	policy := s.cfg.Merge

	if policy.MaxActiveSegments > 0 {
		active := s.segMgr.IterActive()
		if len(active) > policy.MaxActiveSegments {
			if _, err := s.Merge(active); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	if policy.MinDeletionRatio > 0 {
		for _, seg := range s.segMgr.IterActive() {
			count, err := s.segmentDocCount(seg)
			if err != nil {
				return false, err
			}
			if count == 0 {
				continue
			}
			deleted := s.docIdx.Deletions(seg).Cardinality()
			if float64(deleted)/float64(count) >= policy.MinDeletionRatio {
				if _, err := s.Merge([]ids.SegmentId{seg}); err != nil {
					return false, err
				}
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) segmentDocCount(id ids.SegmentId) (int, error) {
	v, ok, err := s.be.Get(kcodec.Stat(id, kcodec.StatDocCount))
	if err != nil {
		return 0, fmt.Errorf("store: segment doc_count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := kv.DecodeI64(v)
	if err != nil {
		return 0, fmt.Errorf("store: segment doc_count: %w", err)
	}
	return int(n), nil
}

// PurgeSegments deletes every remaining record of the named segments.
// Only inactive segments (already replaced by a merge, or left behind by a
// crash between data write and activation) may be purged; naming an active
// one fails without touching anything.
func (s *Store) PurgeSegments(segments []ids.SegmentId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corefts.ErrClosed
	}
	for _, seg := range segments {
		if s.segMgr.IsActive(seg) {
			return fmt.Errorf("store: purge: segment %d is active", seg)
		}
	}
	if err := s.merger.Purge(segments); err != nil {
		return err
	}
	s.log.Info().Int("segments", len(segments)).Msg("purged segments")
	return nil
}

// ActiveSegments lists every currently active segment id, the input
// MergePolicy decisions (and cmd/coreftsctl's "stats" subcommand) consult.
func (s *Store) ActiveSegments() []ids.SegmentId {
	return s.segMgr.IterActive()
}

package analysis

import (
	"fmt"
	"sync"

	"github.com/go-mizu/corefts/term"
)

// Analyzer composes a Tokenizer with an ordered Filter chain.
type Analyzer struct {
	Tokenizer Tokenizer
	Filters   []Filter
}

// Analyze runs the full pipeline over one field value's raw bytes,
// producing the finite term.Vector the mapping layer indexes from.
// Building the slice eagerly rather than streaming keeps the API simple
// since every caller consumes the whole vector immediately anyway.
func (a *Analyzer) Analyze(input []byte) term.Vector {
	toks := a.Tokenizer.Tokenize(input)
	for _, f := range a.Filters {
		toks = f.Apply(toks)
	}
	out := make(term.Vector, len(toks))
	for i, t := range toks {
		out[i] = term.Token{Term: term.FromString(t.Term), Position: t.Position}
	}
	return out
}

// Standard is the default analyzer: Unicode word segmentation + lowercase.
func Standard() *Analyzer {
	return &Analyzer{Tokenizer: StandardTokenizer{}, Filters: []Filter{LowercaseFilter}}
}

// Keyword treats the whole input as a single token, used for
// PlainString fields that are indexed but not analyzed.
func Keyword() *Analyzer {
	return &Analyzer{Tokenizer: keywordTokenizer{}, Filters: nil}
}

// keywordTokenizer is a private Tokenizer emitting the whole input as one
// token at position 1.
type keywordTokenizer struct{}

func (keywordTokenizer) Tokenize(input []byte) []RawToken {
	if len(input) == 0 {
		return nil
	}
	b := make([]byte, len(input))
	copy(b, input)
	return []RawToken{{Term: b, Position: 1}}
}

// Registry holds named, user-registered analyzers, supplementing the
// built-ins with a pluggable table so a deployment can define its own
// tokenizer/filter combinations under stable names.
type Registry struct {
	mu    sync.RWMutex
	named map[string]*Analyzer
}

// NewRegistry returns a Registry preloaded with "standard" and "keyword".
func NewRegistry() *Registry {
	r := &Registry{named: map[string]*Analyzer{}}
	r.named["standard"] = Standard()
	r.named["keyword"] = Keyword()
	return r
}

// Register adds or replaces a named analyzer.
func (r *Registry) Register(name string, a *Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = a
}

// Get resolves a named analyzer.
func (r *Registry) Get(name string) (*Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.named[name]
	if !ok {
		return nil, fmt.Errorf("analysis: unknown analyzer %q", name)
	}
	return a, nil
}

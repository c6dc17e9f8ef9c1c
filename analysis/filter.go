package analysis

import (
	"bytes"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/unicode/norm"
)

// Filter consumes a token stream and produces zero or more tokens per
// input token. Filters never reorder tokens, only expand/contract/rewrite
// them.
type Filter interface {
	Apply(in []RawToken) []RawToken
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func(in []RawToken) []RawToken

func (f FilterFunc) Apply(in []RawToken) []RawToken { return f(in) }

// LowercaseFilter returns a copy of each token with its bytes lowercased
// (the input tokens are left untouched); it never changes
// token count or positions.
var LowercaseFilter Filter = FilterFunc(func(in []RawToken) []RawToken {
	out := make([]RawToken, len(in))
	for i, t := range in {
		out[i] = RawToken{Term: bytes.ToLower(t.Term), Position: t.Position}
	}
	return out
})

// ASCIIFoldingFilter strips diacritics by NFD-decomposing each token and
// dropping Unicode combining marks (category Mn), using
// golang.org/x/text/unicode/norm for correct decomposition. "café" folds
// to "cafe"; token count and positions are unchanged.
var ASCIIFoldingFilter Filter = FilterFunc(func(in []RawToken) []RawToken {
	out := make([]RawToken, len(in))
	for i, t := range in {
		decomposed := norm.NFD.Bytes(t.Term)
		folded := make([]byte, 0, len(decomposed))
		for _, r := range string(decomposed) {
			if unicode.Is(unicode.Mn, r) {
				continue
			}
			folded = append(folded, string(r)...)
		}
		out[i] = RawToken{Term: folded, Position: t.Position}
	}
	return out
})

// NGramFilter expands each input token into its own character n-grams,
// every emitted gram carrying the input token's position.
type NGramFilter struct {
	Min, Max int
	Edge     NGramEdge
}

func (f NGramFilter) Apply(in []RawToken) []RawToken {
	var out []RawToken
	for _, t := range in {
		runes := []rune(string(t.Term))
		for _, g := range ngramRunes(runes, f.Min, f.Max, f.Edge) {
			out = append(out, RawToken{Term: []byte(string(g)), Position: t.Position})
		}
	}
	return out
}

// StemmerFilter reduces each token to its stem using
// github.com/kljensen/snowball's Porter2 implementation, an optional
// addition to the core Lowercase/ASCIIFolding/NGram filter set.
type StemmerFilter struct {
	Language string // e.g. "english"; defaults to "english" if empty
}

func (f StemmerFilter) Apply(in []RawToken) []RawToken {
	lang := f.Language
	if lang == "" {
		lang = "english"
	}
	out := make([]RawToken, len(in))
	for i, t := range in {
		stemmed, err := snowball.Stem(string(t.Term), lang, true)
		if err != nil {
			out[i] = t
			continue
		}
		out[i] = RawToken{Term: []byte(stemmed), Position: t.Position}
	}
	return out
}

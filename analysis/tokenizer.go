// Package analysis implements the tokenizer + filter composition pipeline:
// analyzers are a Tokenizer followed by zero or more Filters, producing a
// lazy conceptual token stream that the mapping layer turns into a
// term.Vector.
package analysis

import (
	"unicode/utf8"

	"github.com/blevesearch/segment"
)

// RawToken is one token mid-pipeline: raw bytes plus the 1-based position
// it will carry if it survives to the output term.Vector.
type RawToken struct {
	Term     []byte
	Position uint32
}

// Tokenizer splits raw field bytes into an initial token stream.
type Tokenizer interface {
	Tokenize(input []byte) []RawToken
}

// StandardTokenizer performs Unicode word segmentation via
// github.com/blevesearch/segment, the same library bleve's own "unicode"
// tokenizer package uses. Non-word segments (whitespace, punctuation) are
// dropped; every retained segment gets the next dense 1-based position.
type StandardTokenizer struct{}

func (StandardTokenizer) Tokenize(input []byte) []RawToken {
	out := make([]RawToken, 0, guessTokenCount(input))
	seg := segment.NewWordSegmenterDirect(input)
	pos := uint32(1)
	for seg.Segment() {
		if seg.Type() == segment.None {
			continue
		}
		b := seg.Bytes()
		term := make([]byte, len(b))
		copy(term, b)
		out = append(out, RawToken{Term: term, Position: pos})
		pos++
	}
	return out
}

func guessTokenCount(input []byte) int {
	n := utf8.RuneCount(input) / 5
	if n < 4 {
		n = 4
	}
	return n
}

// NGramEdge constrains where an n-gram tokenizer/filter anchors.
type NGramEdge int

const (
	EdgeNeither NGramEdge = iota
	EdgeLeft
	EdgeRight
)

// NGramTokenizer emits character n-grams of the whole input directly,
// sized between Min and Max runes inclusive, anchored per Edge.
type NGramTokenizer struct {
	Min, Max int
	Edge     NGramEdge
}

func (t NGramTokenizer) Tokenize(input []byte) []RawToken {
	runes := []rune(string(input))
	grams := ngramRunes(runes, t.Min, t.Max, t.Edge)
	out := make([]RawToken, len(grams))
	for i, g := range grams {
		out[i] = RawToken{Term: []byte(string(g)), Position: uint32(i + 1)}
	}
	return out
}

// ngramRunes generates every n-gram of runes with n in [min, max],
// honoring the requested edge anchoring.
func ngramRunes(runes []rune, min, max int, edge NGramEdge) [][]rune {
	var out [][]rune
	n := len(runes)
	switch edge {
	case EdgeLeft:
		for size := min; size <= max && size <= n; size++ {
			out = append(out, runes[0:size])
		}
	case EdgeRight:
		for size := min; size <= max && size <= n; size++ {
			out = append(out, runes[n-size:n])
		}
	default:
		for size := min; size <= max; size++ {
			if size > n {
				break
			}
			for start := 0; start+size <= n; start++ {
				out = append(out, runes[start:start+size])
			}
		}
	}
	return out
}

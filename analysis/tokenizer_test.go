package analysis

import "testing"

func tokenStrings(toks []RawToken) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = string(t.Term)
	}
	return out
}

func eqStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStandardTokenizerSplitsWords(t *testing.T) {
	toks := StandardTokenizer{}.Tokenize([]byte("hello, world!"))
	got := tokenStrings(toks)
	want := []string{"hello", "world"}
	if !eqStrings(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i, tok := range toks {
		if tok.Position != uint32(i+1) {
			t.Fatalf("token %d position = %d, want %d", i, tok.Position, i+1)
		}
	}
}

func TestStandardTokenizerEmptyInput(t *testing.T) {
	if toks := (StandardTokenizer{}).Tokenize(nil); len(toks) != 0 {
		t.Fatalf("Tokenize(nil) = %v, want empty", toks)
	}
}

func TestNGramTokenizerUnanchored(t *testing.T) {
	toks := NGramTokenizer{Min: 2, Max: 2}.Tokenize([]byte("abc"))
	got := tokenStrings(toks)
	want := []string{"ab", "bc"}
	if !eqStrings(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestNGramTokenizerEdgeLeft(t *testing.T) {
	toks := NGramTokenizer{Min: 1, Max: 3, Edge: EdgeLeft}.Tokenize([]byte("abcd"))
	got := tokenStrings(toks)
	want := []string{"a", "ab", "abc"}
	if !eqStrings(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestNGramTokenizerEdgeRight(t *testing.T) {
	toks := NGramTokenizer{Min: 1, Max: 2, Edge: EdgeRight}.Tokenize([]byte("abcd"))
	got := tokenStrings(toks)
	want := []string{"d", "cd"}
	if !eqStrings(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

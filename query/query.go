// Package query implements the Query ADT: an algebraic value describing
// what to retrieve, built through smart constructors that flatten nested
// associative nodes and collapse All/None absorbing elements at
// construction time rather than leaving that work to the planner.
package query

import (
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/term"
)

// Kind discriminates a Query node.
type Kind int

const (
	KindAll Kind = iota
	KindNone
	KindTerm
	KindMultiTerm
	KindConjunction
	KindDisjunction
	KindNDisjunction
	KindDisjunctionMax
	KindFilter
	KindExclude
)

// Query is one node of the tree. Only the fields relevant to Kind are
// populated; Boost defaults to 1 and multiplies as Boosted composes.
type Query struct {
	Kind     Kind
	Field    ids.FieldId
	Term     term.Term
	Terms    []term.Term
	Children []Query
	Min      int // NDisjunction's minimum_should_match
	Boost    float32
}

// All matches every live document.
func All() Query { return Query{Kind: KindAll, Boost: 1} }

// None matches no document.
func None() Query { return Query{Kind: KindNone, Boost: 1} }

// OneTerm matches documents whose field carries exactly t.
func OneTerm(field ids.FieldId, t term.Term) Query {
	return Query{Kind: KindTerm, Field: field, Term: t, Boost: 1}
}

// MultiTerm matches documents whose field carries any of terms -- the
// common case of an analyzed query string expanding to several terms
// combined without requiring all of them. It is not sugar for
// Disjunction(OneTerm...): the planner compiles it to a single fused
// opcode over the whole term list.
func MultiTerm(field ids.FieldId, terms []term.Term) Query {
	switch len(terms) {
	case 0:
		return None()
	case 1:
		return OneTerm(field, terms[0])
	default:
		cp := make([]term.Term, len(terms))
		copy(cp, terms)
		return Query{Kind: KindMultiTerm, Field: field, Terms: cp, Boost: 1}
	}
}

// flatten collects qs, splicing in any child already of kind so nested
// Conjunction(Conjunction(...)) trees associate into one flat node.
func flatten(qs []Query, kind Kind) []Query {
	var out []Query
	for _, q := range qs {
		if q.Kind == kind {
			out = append(out, q.Children...)
		} else {
			out = append(out, q)
		}
	}
	return out
}

// Conjunction matches documents satisfying every child (AND). Conjunction()
// with no children is All; any None child collapses the whole node to None.
func Conjunction(qs ...Query) Query {
	flat := flatten(qs, KindConjunction)
	var kept []Query
	for _, q := range flat {
		if q.Kind == KindNone {
			return None()
		}
		if q.Kind != KindAll {
			kept = append(kept, q)
		}
	}
	switch len(kept) {
	case 0:
		return All()
	case 1:
		return kept[0]
	default:
		return Query{Kind: KindConjunction, Children: kept, Boost: 1}
	}
}

// Disjunction matches documents satisfying at least one child (OR).
// Disjunction() with no children is None; any All child collapses the
// whole node to All.
func Disjunction(qs ...Query) Query {
	flat := flatten(qs, KindDisjunction)
	var kept []Query
	for _, q := range flat {
		if q.Kind == KindAll {
			return All()
		}
		if q.Kind != KindNone {
			kept = append(kept, q)
		}
	}
	switch len(kept) {
	case 0:
		return None()
	case 1:
		return kept[0]
	default:
		return Query{Kind: KindDisjunction, Children: kept, Boost: 1}
	}
}

// NDisjunction matches documents satisfying at least min of qs
// (minimum_should_match). min<=0 degenerates to Disjunction; min equal to
// the child count degenerates to Conjunction; min greater than the child
// count is unsatisfiable and collapses to None.
func NDisjunction(min int, qs ...Query) Query {
	var kept []Query
	for _, q := range qs {
		if q.Kind != KindNone {
			kept = append(kept, q)
		}
	}
	if min <= 0 {
		return Disjunction(kept...)
	}
	if min > len(kept) {
		return None()
	}
	if min == len(kept) {
		return Conjunction(kept...)
	}
	return Query{Kind: KindNDisjunction, Children: kept, Min: min, Boost: 1}
}

// DisjunctionMax matches like Disjunction but scores by the single best
// matching child rather than a sum, for combining alternate fields/boosts
// over the "same" conceptual match.
func DisjunctionMax(qs ...Query) Query {
	flat := flatten(qs, KindDisjunctionMax)
	var kept []Query
	for _, q := range flat {
		if q.Kind == KindAll {
			return All()
		}
		if q.Kind != KindNone {
			kept = append(kept, q)
		}
	}
	switch len(kept) {
	case 0:
		return None()
	case 1:
		return kept[0]
	default:
		return Query{Kind: KindDisjunctionMax, Children: kept, Boost: 1}
	}
}

// Filter matches and scores by scored, but additionally requires filter to
// match, contributing nothing to the score itself.
func Filter(scored, filter Query) Query {
	if scored.Kind == KindNone || filter.Kind == KindNone {
		return None()
	}
	if filter.Kind == KindAll {
		return scored
	}
	return Query{Kind: KindFilter, Children: []Query{scored, filter}, Boost: 1}
}

// Exclude matches include but not exclude, with a score taken entirely
// from include.
func Exclude(include, exclude Query) Query {
	if include.Kind == KindNone {
		return None()
	}
	if exclude.Kind == KindNone {
		return include
	}
	if exclude.Kind == KindAll {
		return None()
	}
	return Query{Kind: KindExclude, Children: []Query{include, exclude}, Boost: 1}
}

// Boosted multiplies q's score contribution by factor, composing with any
// boost already applied.
func Boosted(q Query, factor float32) Query {
	q.Boost *= factor
	return q
}

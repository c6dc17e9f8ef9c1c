// Package plan implements the Planner: compiling a
// query.Query into two parallel stack-machine programs -- one producing
// the boolean match set, one producing per-document score contributions --
// with compile-time algebraic simplification driven by each subtree's
// static Shape (Full/Empty/Sparse/NegatedSparse), so a segment with no
// postings for a term never costs more than pushing a constant at
// execution time.
package plan

import (
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/query"
	"github.com/go-mizu/corefts/term"
	"github.com/go-mizu/corefts/termdict"
)

// Shape statically classifies what a compiled subprogram will produce,
// independent of which segment it eventually runs against.
type Shape int

const (
	// ShapeEmpty always yields the empty set.
	ShapeEmpty Shape = iota
	// ShapeFull always yields every live document (materialized per-segment
	// at execution time, since only the executor knows a segment's doc
	// count).
	ShapeFull
	// ShapeSparse yields an ordinary, possibly-empty, possibly-partial set.
	ShapeSparse
	// ShapeNegatedSparse yields "everything except a sparse set" -- still
	// computed as Full minus Sparse at execution time, but tagged
	// separately so a caller inspecting Program.Shape can tell that this
	// branch's cost scales with the segment size, not the excluded set.
	ShapeNegatedSparse
)

// BoolCode is one boolean-program opcode.
type BoolCode int

const (
	BPushEmpty BoolCode = iota
	BPushFull
	BPushTerms // union of postings for Field/Terms
	BAnd
	BOr
	BAndNot
	BMinMatch
)

// BoolOp is one boolean-program instruction, executed against an explicit
// docid.Set stack.
type BoolOp struct {
	Code  BoolCode
	Field ids.FieldId
	Terms []ids.TermId
	N     int // BMinMatch: how many operands (already pushed) it consumes
	Min   int // BMinMatch: minimum operands that must contain an ord
}

// ScoreCode is one score-program opcode.
type ScoreCode int

const (
	// SPushTerms contributes each term's BM25 score, scaled by Boost, to
	// every document containing it.
	SPushTerms ScoreCode = iota
	// SPushAll contributes the constant Boost to every document in the
	// segment -- the literal score a match-all query carries.
	SPushAll
	SSum
	SMax
	SMinMatchSum
)

// ScoreOp is one score-program instruction, executed against an explicit
// map[ord]float32 stack running alongside the boolean stack.
type ScoreOp struct {
	Code  ScoreCode
	Field ids.FieldId
	Terms []ids.TermId
	Boost float32
	BM25  BM25
	N     int
}

// Program is a compiled query: parallel boolean and score instruction
// streams plus the statically known Shape of the boolean result.
type Program struct {
	Bool  []BoolOp
	Score []ScoreOp
	Shape Shape
}

// Planner compiles query.Query values, resolving term bytes to ids.TermId
// through dict. A term never interned compiles to ShapeEmpty rather than
// failing the whole query.
type Planner struct {
	dict *termdict.Dictionary

	// BM25 parameterizes every term scorer the planner emits.
	BM25 BM25
}

// New returns a Planner resolving terms through dict, scoring with
// DefaultBM25 until the caller overrides the parameters.
func New(dict *termdict.Dictionary) *Planner {
	return &Planner{dict: dict, BM25: DefaultBM25}
}

// Compile produces a Program equivalent to q.
func (p *Planner) Compile(q query.Query) (Program, error) {
	return p.compile(q, 1)
}

func (p *Planner) compile(q query.Query, scale float32) (Program, error) {
	boost := scale * nonZero(q.Boost)

	switch q.Kind {
	case query.KindAll:
		return fullProgram([]ScoreOp{{Code: SPushAll, Boost: boost}}), nil

	case query.KindNone:
		return emptyProgram(), nil

	case query.KindTerm:
		return p.compileTerms(q.Field, []term.Term{q.Term}, boost)

	case query.KindMultiTerm:
		return p.compileTerms(q.Field, q.Terms, boost)

	case query.KindConjunction:
		return p.compileNAry(q.Children, boost, combineAnd)

	case query.KindDisjunction:
		return p.compileNAry(q.Children, boost, combineOr)

	case query.KindDisjunctionMax:
		return p.compileNAry(q.Children, boost, combineMax)

	case query.KindNDisjunction:
		return p.compileMinMatch(q.Children, q.Min, boost)

	case query.KindFilter:
		return p.compileGate(q.Children[0], q.Children[1], boost)

	case query.KindExclude:
		return p.compileExclude(q.Children[0], q.Children[1], boost)

	default:
		return emptyProgram(), nil
	}
}

func nonZero(b float32) float32 {
	if b == 0 {
		return 1
	}
	return b
}

func emptyProgram() Program {
	return Program{Bool: []BoolOp{{Code: BPushEmpty}}, Score: []ScoreOp{}, Shape: ShapeEmpty}
}

func fullProgram(score []ScoreOp) Program {
	return Program{Bool: []BoolOp{{Code: BPushFull}}, Score: score, Shape: ShapeFull}
}

// combineScores concatenates two score sub-programs and closes them with
// combine. Every non-empty sub-program leaves exactly one score map on the
// stack, so when one side is empty (it compiled away) the other is
// returned alone rather than emitting a combiner that would underflow.
func combineScores(a, b []ScoreOp, combine ScoreCode) []ScoreOp {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]ScoreOp, 0, len(a)+len(b)+1)
	out = append(out, a...)
	out = append(out, b...)
	return append(out, ScoreOp{Code: combine})
}

func (p *Planner) compileTerms(field ids.FieldId, terms []term.Term, boost float32) (Program, error) {
	var ids_ []ids.TermId
	for _, t := range terms {
		id, ok, err := p.dict.Lookup(t.Encode())
		if err != nil {
			return Program{}, err
		}
		if ok {
			ids_ = append(ids_, id)
		}
	}
	if len(ids_) == 0 {
		return emptyProgram(), nil
	}
	return Program{
		Bool:  []BoolOp{{Code: BPushTerms, Field: field, Terms: ids_}},
		Score: []ScoreOp{{Code: SPushTerms, Field: field, Terms: ids_, Boost: boost, BM25: p.BM25}},
		Shape: ShapeSparse,
	}, nil
}

type combineFn func(l, r Program) Program

func (p *Planner) compileNAry(children []query.Query, boost float32, combine combineFn) (Program, error) {
	if len(children) == 0 {
		return emptyProgram(), nil
	}
	acc, err := p.compile(children[0], boost)
	if err != nil {
		return Program{}, err
	}
	for _, c := range children[1:] {
		next, err := p.compile(c, boost)
		if err != nil {
			return Program{}, err
		}
		acc = combine(acc, next)
	}
	return acc, nil
}

func combineAnd(l, r Program) Program {
	switch {
	case l.Shape == ShapeEmpty || r.Shape == ShapeEmpty:
		return emptyProgram()
	case l.Shape == ShapeFull:
		return r
	case r.Shape == ShapeFull:
		return l
	default:
		return Program{
			Bool:  append(append(l.Bool, r.Bool...), BoolOp{Code: BAnd}),
			Score: combineScores(l.Score, r.Score, SSum),
			Shape: ShapeSparse,
		}
	}
}

func combineOr(l, r Program) Program {
	switch {
	case l.Shape == ShapeFull || r.Shape == ShapeFull:
		return fullProgram(combineScores(l.Score, r.Score, SSum))
	case l.Shape == ShapeEmpty:
		return r
	case r.Shape == ShapeEmpty:
		return l
	default:
		return Program{
			Bool:  append(append(l.Bool, r.Bool...), BoolOp{Code: BOr}),
			Score: combineScores(l.Score, r.Score, SSum),
			Shape: ShapeSparse,
		}
	}
}

func combineMax(l, r Program) Program {
	switch {
	case l.Shape == ShapeFull || r.Shape == ShapeFull:
		return fullProgram(combineScores(l.Score, r.Score, SMax))
	case l.Shape == ShapeEmpty:
		return r
	case r.Shape == ShapeEmpty:
		return l
	default:
		return Program{
			Bool:  append(append(l.Bool, r.Bool...), BoolOp{Code: BOr}),
			Score: combineScores(l.Score, r.Score, SMax),
			Shape: ShapeSparse,
		}
	}
}

func (p *Planner) compileMinMatch(children []query.Query, min int, boost float32) (Program, error) {
	var progs []Program
	required := min
	for _, c := range children {
		prog, err := p.compile(c, boost)
		if err != nil {
			return Program{}, err
		}
		switch prog.Shape {
		case ShapeEmpty:
			continue // never contributes
		case ShapeFull:
			required-- // always satisfies one unit of the minimum
			continue
		default:
			progs = append(progs, prog)
		}
	}
	if required <= 0 {
		return fullProgram([]ScoreOp{{Code: SPushAll, Boost: boost}}), nil
	}
	if required > len(progs) {
		return emptyProgram(), nil
	}
	if required == len(progs) {
		acc := progs[0]
		for _, n := range progs[1:] {
			acc = combineAnd(acc, n)
		}
		return acc, nil
	}

	var boolOps []BoolOp
	var scoreOps []ScoreOp
	for _, prog := range progs {
		boolOps = append(boolOps, prog.Bool...)
		scoreOps = append(scoreOps, prog.Score...)
	}
	boolOps = append(boolOps, BoolOp{Code: BMinMatch, N: len(progs), Min: required})
	scoreOps = append(scoreOps, ScoreOp{Code: SMinMatchSum, N: len(progs)})
	return Program{Bool: boolOps, Score: scoreOps, Shape: ShapeSparse}, nil
}

// compileGate implements Filter(scored, filter): boolean result is
// scored AND filter, score is scored's alone -- the filter's score
// sub-program is dropped entirely rather than emitted and discarded, since
// the two programs execute independently.
func (p *Planner) compileGate(scored, filter query.Query, boost float32) (Program, error) {
	s, err := p.compile(scored, boost)
	if err != nil {
		return Program{}, err
	}
	f, err := p.compile(filter, 1)
	if err != nil {
		return Program{}, err
	}
	switch {
	case s.Shape == ShapeEmpty || f.Shape == ShapeEmpty:
		return emptyProgram(), nil
	case f.Shape == ShapeFull:
		return s, nil
	case s.Shape == ShapeFull:
		return Program{Bool: f.Bool, Score: s.Score, Shape: f.Shape}, nil
	default:
		return Program{
			Bool:  append(append(s.Bool, f.Bool...), BoolOp{Code: BAnd}),
			Score: s.Score,
			Shape: ShapeSparse,
		}, nil
	}
}

// compileExclude implements Exclude(include, exclude): boolean result is
// include AND NOT exclude, score is include's alone.
func (p *Planner) compileExclude(include, exclude query.Query, boost float32) (Program, error) {
	inc, err := p.compile(include, boost)
	if err != nil {
		return Program{}, err
	}
	exc, err := p.compile(exclude, 1)
	if err != nil {
		return Program{}, err
	}
	switch {
	case inc.Shape == ShapeEmpty:
		return emptyProgram(), nil
	case exc.Shape == ShapeEmpty:
		return inc, nil
	case exc.Shape == ShapeFull:
		return emptyProgram(), nil
	case inc.Shape == ShapeFull:
		return Program{
			Bool:  append(append([]BoolOp{{Code: BPushFull}}, exc.Bool...), BoolOp{Code: BAndNot}),
			Score: inc.Score,
			Shape: ShapeNegatedSparse,
		}, nil
	default:
		return Program{
			Bool:  append(append(inc.Bool, exc.Bool...), BoolOp{Code: BAndNot}),
			Score: inc.Score,
			Shape: ShapeSparse,
		}, nil
	}
}

package plan

import (
	"path/filepath"
	"testing"

	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/query"
	"github.com/go-mizu/corefts/term"
	"github.com/go-mizu/corefts/termdict"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	be, err := kv.OpenBolt(filepath.Join(t.TempDir(), "plan.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	dict, err := termdict.Open(be)
	if err != nil {
		t.Fatalf("termdict.Open: %v", err)
	}
	return New(dict)
}

func internTerm(t *testing.T, p *Planner, s string) term.Term {
	t.Helper()
	tm := term.FromString([]byte(s))
	if _, err := p.dict.GetOrCreate(tm.Encode()); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return tm
}

func TestCompileAllIsShapeFull(t *testing.T) {
	p := newTestPlanner(t)
	prog, err := p.Compile(query.All())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeFull {
		t.Fatalf("Compile(All) shape = %v, want ShapeFull", prog.Shape)
	}
}

func TestCompileNoneIsShapeEmpty(t *testing.T) {
	p := newTestPlanner(t)
	prog, err := p.Compile(query.None())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeEmpty {
		t.Fatalf("Compile(None) shape = %v, want ShapeEmpty", prog.Shape)
	}
}

func TestCompileUnknownTermIsShapeEmpty(t *testing.T) {
	p := newTestPlanner(t)
	q := query.OneTerm(1, term.FromString([]byte("never-interned")))
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeEmpty {
		t.Fatalf("Compile(unknown term) shape = %v, want ShapeEmpty", prog.Shape)
	}
}

func TestCompileKnownTermIsSparseWithPushTerms(t *testing.T) {
	p := newTestPlanner(t)
	tm := internTerm(t, p, "cat")
	prog, err := p.Compile(query.OneTerm(1, tm))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeSparse {
		t.Fatalf("Compile(known term) shape = %v, want ShapeSparse", prog.Shape)
	}
	if len(prog.Bool) != 1 || prog.Bool[0].Code != BPushTerms {
		t.Fatalf("Compile(known term) bool program = %+v, want single BPushTerms", prog.Bool)
	}
}

func TestCompileConjunctionWithEmptyChildCollapses(t *testing.T) {
	p := newTestPlanner(t)
	tm := internTerm(t, p, "cat")
	q := query.Conjunction(query.OneTerm(1, tm), query.None())
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeEmpty {
		t.Fatalf("Compile(Conjunction with None child) shape = %v, want ShapeEmpty", prog.Shape)
	}
}

func TestCompileDisjunctionWithAllChildCollapses(t *testing.T) {
	p := newTestPlanner(t)
	tm := internTerm(t, p, "cat")
	q := query.Disjunction(query.OneTerm(1, tm), query.All())
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeFull {
		t.Fatalf("Compile(Disjunction with All child) shape = %v, want ShapeFull", prog.Shape)
	}
}

func TestCompileNDisjunctionGenuineMinMatch(t *testing.T) {
	p := newTestPlanner(t)
	a := internTerm(t, p, "a")
	b := internTerm(t, p, "b")
	c := internTerm(t, p, "c")
	q := query.NDisjunction(2, query.OneTerm(1, a), query.OneTerm(1, b), query.OneTerm(1, c))
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeSparse {
		t.Fatalf("Compile(genuine NDisjunction) shape = %v, want ShapeSparse", prog.Shape)
	}
	last := prog.Bool[len(prog.Bool)-1]
	if last.Code != BMinMatch || last.Min != 2 || last.N != 3 {
		t.Fatalf("Compile(genuine NDisjunction) tail op = %+v, want BMinMatch{N:3,Min:2}", last)
	}
}

func TestCompileFilterKeepsScoredScoreOnly(t *testing.T) {
	p := newTestPlanner(t)
	scored := internTerm(t, p, "scored")
	filt := internTerm(t, p, "filter")
	q := query.Filter(query.OneTerm(1, scored), query.OneTerm(2, filt))
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Score) != 1 || prog.Score[0].Field != 1 {
		t.Fatalf("Compile(Filter) score program = %+v, want only the scored clause's ops", prog.Score)
	}
}

func TestCompileFilterWithAllFilterReturnsScoredUnchanged(t *testing.T) {
	p := newTestPlanner(t)
	scored := internTerm(t, p, "scored")
	q := query.Filter(query.OneTerm(1, scored), query.All())
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeSparse {
		t.Fatalf("Compile(Filter with All filter) shape = %v, want ShapeSparse", prog.Shape)
	}
}

func TestCompileExcludeKeepsIncludeScoreOnly(t *testing.T) {
	p := newTestPlanner(t)
	inc := internTerm(t, p, "inc")
	exc := internTerm(t, p, "exc")
	q := query.Exclude(query.OneTerm(1, inc), query.OneTerm(2, exc))
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Score) != 1 || prog.Score[0].Field != 1 {
		t.Fatalf("Compile(Exclude) score program = %+v, want only include's ops", prog.Score)
	}
	last := prog.Bool[len(prog.Bool)-1]
	if last.Code != BAndNot {
		t.Fatalf("Compile(Exclude) tail op = %+v, want BAndNot", last)
	}
}

func TestCompileExcludeOfEverythingCollapsesToEmpty(t *testing.T) {
	p := newTestPlanner(t)
	inc := internTerm(t, p, "inc")
	q := query.Exclude(query.OneTerm(1, inc), query.All())
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Shape != ShapeEmpty {
		t.Fatalf("Compile(Exclude everything) shape = %v, want ShapeEmpty", prog.Shape)
	}
}

func TestCompileAllCarriesLiteralScore(t *testing.T) {
	p := newTestPlanner(t)
	prog, err := p.Compile(query.All())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Score) != 1 || prog.Score[0].Code != SPushAll || prog.Score[0].Boost != 1 {
		t.Fatalf("Compile(All) score program = %+v, want single SPushAll with Boost 1", prog.Score)
	}
}

func TestCompileTermCarriesBM25Params(t *testing.T) {
	p := newTestPlanner(t)
	tm := internTerm(t, p, "scored")
	prog, err := p.Compile(query.OneTerm(1, tm))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Score) != 1 || prog.Score[0].BM25 != DefaultBM25 {
		t.Fatalf("Compile(term) score op = %+v, want the planner's BM25 params stamped on", prog.Score)
	}
}

func TestBoostScalesScoreOps(t *testing.T) {
	p := newTestPlanner(t)
	tm := internTerm(t, p, "boosted")
	q := query.Boosted(query.OneTerm(1, tm), 2)
	prog, err := p.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Score) != 1 || prog.Score[0].Boost != 2 {
		t.Fatalf("Compile(Boosted x2) score op = %+v, want Boost 2", prog.Score)
	}
}

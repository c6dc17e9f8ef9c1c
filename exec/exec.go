// Package exec implements the Executor: running a compiled plan.Program
// against every active segment of a snapshot, subtracting each segment's
// deletion list, and feeding the combined per-segment results into a
// Collector. Segments are independent once a program is compiled, so the
// per-segment work fans out across golang.org/x/sync/errgroup instead of
// running sequentially.
package exec

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/go-mizu/corefts/collector"
	"github.com/go-mizu/corefts/docid"
	"github.com/go-mizu/corefts/ids"
	"github.com/go-mizu/corefts/kcodec"
	"github.com/go-mizu/corefts/kv"
	"github.com/go-mizu/corefts/plan"
)

// SegmentReader is the read surface Executor needs for one segment: a
// point-in-time view plus the segment's declared document count (needed to
// materialize ShapeFull).
type SegmentReader struct {
	ID       ids.SegmentId
	DocCount int
	Snap     kv.Snapshot
}

// DeletionSource yields the tombstone set of one segment. docindex.Index
// satisfies it directly; a snapshot-bound reader satisfies it by decoding
// the "x/<segment>" key from its snapshot instead.
type DeletionSource interface {
	Deletions(seg ids.SegmentId) docid.Set
}

// Explain is returned by every Run: the number of segments visited and
// each segment's result cardinality after deletions were subtracted, useful for
// understanding why a query was slow without re-running it under a
// profiler.
type Explain struct {
	SegmentsVisited int
	PerSegmentHits  map[ids.SegmentId]int
}

// Run executes prog against every segment in segments, subtracting del's
// deletion list for that segment, and feeds every surviving (DocRef,
// score) pair into coll. Segments execute concurrently; Collector
// implementations must be safe for concurrent Add calls (collector.TopK
// and collector.Count both are). A NaN score is collected as 0 so result
// ordering stays total.
func Run(ctx context.Context, prog plan.Program, segments []SegmentReader, del DeletionSource, coll collector.Collector) (Explain, error) {
	explain := Explain{PerSegmentHits: make(map[ids.SegmentId]int, len(segments))}
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, seg := range segments {
		seg := seg
		g.Go(func() error {
			set, scores, err := runOne(prog, seg)
			if err != nil {
				return fmt.Errorf("exec: segment %d: %w", seg.ID, err)
			}
			live := docid.Difference(set, del.Deletions(seg.ID))

			mu.Lock()
			explain.PerSegmentHits[seg.ID] = live.Cardinality()
			mu.Unlock()

			cur := live.Cursor()
			for ord, ok := cur.Next(); ok; ord, ok = cur.Next() {
				ref := ids.DocRef{Segment: seg.ID, Ord: ord}
				score := scores[ord]
				if math.IsNaN(float64(score)) {
					score = 0
				}
				coll.Add(ref, score)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Explain{}, err
	}
	explain.SegmentsVisited = len(segments)
	return explain, nil
}

func runOne(prog plan.Program, seg SegmentReader) (docid.Set, map[uint16]float32, error) {
	fetch := func(field ids.FieldId, terms []ids.TermId) (docid.Set, error) {
		var acc docid.Set
		for i, t := range terms {
			b, ok, err := seg.Snap.Get(kcodec.Postings(field, t, seg.ID))
			if err != nil {
				return docid.Empty, err
			}
			if !ok {
				continue
			}
			s := docid.FromPacked(b)
			if i == 0 {
				acc = s
			} else {
				acc = docid.Union(acc, s)
			}
		}
		return acc, nil
	}

	set, err := runBool(prog.Bool, seg.DocCount, fetch)
	if err != nil {
		return docid.Empty, nil, err
	}
	scores, err := newScorer(seg).run(prog.Score)
	if err != nil {
		return docid.Empty, nil, err
	}
	return set, scores, nil
}

type fetchFn func(field ids.FieldId, terms []ids.TermId) (docid.Set, error)

func runBool(ops []plan.BoolOp, docCount int, fetch fetchFn) (docid.Set, error) {
	var stack []docid.Set
	pop := func() docid.Set {
		n := len(stack) - 1
		v := stack[n]
		stack = stack[:n]
		return v
	}

	for _, op := range ops {
		switch op.Code {
		case plan.BPushEmpty:
			stack = append(stack, docid.Empty)
		case plan.BPushFull:
			stack = append(stack, docid.Full(docCount))
		case plan.BPushTerms:
			s, err := fetch(op.Field, op.Terms)
			if err != nil {
				return docid.Empty, err
			}
			stack = append(stack, s)
		case plan.BAnd:
			b, a := pop(), pop()
			stack = append(stack, docid.Intersection(a, b))
		case plan.BOr:
			b, a := pop(), pop()
			stack = append(stack, docid.Union(a, b))
		case plan.BAndNot:
			b, a := pop(), pop()
			stack = append(stack, docid.Difference(a, b))
		case plan.BMinMatch:
			operands := make([]docid.Set, op.N)
			for i := op.N - 1; i >= 0; i-- {
				operands[i] = pop()
			}
			stack = append(stack, minMatch(operands, op.Min))
		}
	}
	if len(stack) == 0 {
		return docid.Empty, nil
	}
	return stack[len(stack)-1], nil
}

func minMatch(sets []docid.Set, min int) docid.Set {
	counts := map[uint16]int{}
	for _, s := range sets {
		cur := s.Cursor()
		for ord, ok := cur.Next(); ok; ord, ok = cur.Next() {
			counts[ord]++
		}
	}
	var b docid.Builder
	for ord, c := range counts {
		if c >= min {
			b.Add(ord)
		}
	}
	return b.Build()
}

// scorer interprets one segment's score program. It lazily reads the
// segment's per-field statistics and per-document field lengths, caching
// both so a query touching the same field through several opcodes pays for
// each read once.
type scorer struct {
	seg      SegmentReader
	avgLens  map[ids.FieldId]float64
	fieldLen map[ids.FieldId]map[uint16]float64
}

func newScorer(seg SegmentReader) *scorer {
	return &scorer{
		seg:      seg,
		avgLens:  map[ids.FieldId]float64{},
		fieldLen: map[ids.FieldId]map[uint16]float64{},
	}
}

func (sc *scorer) run(ops []plan.ScoreOp) (map[uint16]float32, error) {
	var stack []map[uint16]float32
	pop := func() map[uint16]float32 {
		n := len(stack) - 1
		v := stack[n]
		stack = stack[:n]
		return v
	}

	for _, op := range ops {
		switch op.Code {
		case plan.SPushTerms:
			m, err := sc.termScores(op)
			if err != nil {
				return nil, err
			}
			stack = append(stack, m)
		case plan.SPushAll:
			m := make(map[uint16]float32, sc.seg.DocCount)
			for ord := 0; ord < sc.seg.DocCount; ord++ {
				m[uint16(ord)] = op.Boost
			}
			stack = append(stack, m)
		case plan.SSum:
			b, a := pop(), pop()
			stack = append(stack, sumScores(a, b))
		case plan.SMax:
			b, a := pop(), pop()
			stack = append(stack, maxScores(a, b))
		case plan.SMinMatchSum:
			operands := make([]map[uint16]float32, op.N)
			for i := op.N - 1; i >= 0; i-- {
				operands[i] = pop()
			}
			acc := map[uint16]float32{}
			for _, m := range operands {
				acc = sumScores(acc, m)
			}
			stack = append(stack, acc)
		}
	}
	if len(stack) == 0 {
		return map[uint16]float32{}, nil
	}
	return stack[len(stack)-1], nil
}

// termScores evaluates one SPushTerms opcode: each term contributes its
// BM25 weight to every document carrying it, and a document matching
// several of the opcode's terms sums their contributions. Postings are
// doc-id sets, so the in-document term frequency is 1 by construction.
func (sc *scorer) termScores(op plan.ScoreOp) (map[uint16]float32, error) {
	totalDocs := int64(sc.seg.DocCount)
	avgLen, err := sc.avgFieldLen(op.Field)
	if err != nil {
		return nil, err
	}

	out := map[uint16]float32{}
	for _, t := range op.Terms {
		b, ok, err := sc.seg.Snap.Get(kcodec.Postings(op.Field, t, sc.seg.ID))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		set := docid.FromPacked(b)
		docFreq := int64(set.Cardinality())
		cur := set.Cursor()
		for ord, ok := cur.Next(); ok; ord, ok = cur.Next() {
			docLen, err := sc.docFieldLen(op.Field, ord, avgLen)
			if err != nil {
				return nil, err
			}
			w := op.BM25.Score(docFreq, totalDocs, 1, docLen, avgLen)
			out[ord] += op.Boost * float32(w)
		}
	}
	return out, nil
}

// avgFieldLen derives a field's average analyzed token count from the
// segment's tokens_<field> and doc_count statistics, falling back to 0
// (which disables length normalization) when the segment predates either.
func (sc *scorer) avgFieldLen(field ids.FieldId) (float64, error) {
	if v, ok := sc.avgLens[field]; ok {
		return v, nil
	}
	var avg float64
	b, ok, err := sc.seg.Snap.Get(kcodec.Stat(sc.seg.ID, kcodec.StatTokens(field)))
	if err != nil {
		return 0, err
	}
	if ok && sc.seg.DocCount > 0 {
		total, err := kv.DecodeI64(b)
		if err != nil {
			return 0, err
		}
		avg = float64(total) / float64(sc.seg.DocCount)
	}
	sc.avgLens[field] = avg
	return avg, nil
}

func (sc *scorer) docFieldLen(field ids.FieldId, ord uint16, fallback float64) (float64, error) {
	byOrd, ok := sc.fieldLen[field]
	if !ok {
		byOrd = map[uint16]float64{}
		sc.fieldLen[field] = byOrd
	}
	if v, ok := byOrd[ord]; ok {
		return v, nil
	}
	length := fallback
	b, ok, err := sc.seg.Snap.Get(kcodec.Stored(sc.seg.ID, ord, field, kcodec.StoredFieldLen))
	if err != nil {
		return 0, err
	}
	if ok {
		n, err := kv.DecodeI64(b)
		if err != nil {
			return 0, err
		}
		length = float64(n)
	}
	byOrd[ord] = length
	return length, nil
}

func sumScores(a, b map[uint16]float32) map[uint16]float32 {
	out := make(map[uint16]float32, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

func maxScores(a, b map[uint16]float32) map[uint16]float32 {
	out := make(map[uint16]float32, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

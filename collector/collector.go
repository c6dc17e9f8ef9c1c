// Package collector implements a segment-oblivious sink that the executor
// feeds (DocRef, score) pairs into, concurrently from multiple segment
// goroutines. TopK keeps a bounded min-heap of the best k results; Count
// only tallies how many matched.
package collector

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/go-mizu/corefts/ids"
)

// Collector receives match results. Implementations must be safe for
// concurrent Add calls, since Executor fans out across segments.
type Collector interface {
	Add(ref ids.DocRef, score float32)
}

// Hit is one ranked result.
type Hit struct {
	Ref   ids.DocRef
	Score float32
}

// TopK keeps the k highest-scoring hits seen, breaking score ties by
// ascending DocRef (segment then ord) so results are deterministic
// regardless of the order segments finish in.
type TopK struct {
	mu sync.Mutex
	k  int
	h  minHeap
}

// NewTopK returns a collector retaining the top k hits; a k of 0 or less
// keeps nothing.
func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

func (c *TopK) Add(ref ids.DocRef, score float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hit := Hit{Ref: ref, Score: score}
	if len(c.h) < c.k {
		heap.Push(&c.h, hit)
		return
	}
	if len(c.h) == 0 {
		return
	}
	if less(c.h[0], hit) {
		c.h[0] = hit
		heap.Fix(&c.h, 0)
	}
}

// Results drains the collector into a descending-score slice
// (highest-scoring hit first), ties broken by ascending DocRef.
func (c *TopK) Results() []Hit {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Hit, len(c.h))
	copy(out, c.h)
	sort.Slice(out, func(i, j int) bool { return less(out[j], out[i]) })
	return out
}

// less reports whether a ranks below b (a is a worse hit than b): lower
// score loses; between equal scores the numerically larger DocRef loses, so
// the heap's root (the first to be evicted) is always the worst kept hit.
func less(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return b.Ref.Less(a.Ref)
}

type minHeap []Hit

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Count only tallies the number of matches, discarding scores and
// identities -- the cheap path for a pure count(*) style query.
type Count struct {
	mu sync.Mutex
	n  int64
}

func NewCount() *Count { return &Count{} }

func (c *Count) Add(ids.DocRef, float32) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// Total returns the number of Add calls observed.
func (c *Count) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

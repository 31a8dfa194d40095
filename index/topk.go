package index

import (
	"container/heap"
	"sort"

	"docqa/types"
)

type candidate struct {
	entry *entry
	score float64
}

// worse orders candidates for eviction: lower score first, then later insertion.
func worse(a, b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.entry.seq > b.entry.seq
}

// topK is a bounded min-heap keeping the k best candidates seen.
type topK struct {
	k     int
	items []candidate
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]candidate, 0, k)}
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return worse(t.items[i], t.items[j]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(candidate)) }

func (t *topK) Pop() any {
	n := len(t.items)
	c := t.items[n-1]
	t.items = t.items[:n-1]
	return c
}

func (t *topK) offer(c candidate) {
	if len(t.items) < t.k {
		heap.Push(t, c)
		return
	}
	if worse(t.items[0], c) {
		t.items[0] = c
		heap.Fix(t, 0)
	}
}

// result returns the kept candidates best first.
func (t *topK) result() types.QueryResult {
	items := make([]candidate, len(t.items))
	copy(items, t.items)
	sort.Slice(items, func(i, j int) bool {
		return worse(items[j], items[i])
	})

	out := make(types.QueryResult, len(items))
	for i, c := range items {
		out[i] = types.Hit{Chunk: c.entry.chunk, Score: c.score}
	}
	return out
}

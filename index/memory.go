package index

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"docqa/model"
	"docqa/types"
)

// DefaultParallelThreshold is the corpus size from which Search scores shards concurrently.
const DefaultParallelThreshold = 8192

type State int32

const (
	StateBuilding State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type entry struct {
	chunk  types.Chunk
	vector []float32
	seq    uint64
}

// snapshot is never mutated after it is published.
type snapshot struct {
	entries []entry
	keys    map[types.ChunkKey]struct{}
	dim     int
}

var emptySnapshot = &snapshot{keys: map[types.ChunkKey]struct{}{}}

// MemoryIndex is an exact cosine index held in memory. Readers load the
// current snapshot without locking; writers copy it under mu and publish a
// replacement.
type MemoryIndex struct {
	mu      sync.Mutex
	snap    atomic.Pointer[snapshot]
	state   atomic.Int32
	nextSeq uint64

	model     string
	threshold int
	logger    zerolog.Logger
}

type MemoryOption func(*MemoryIndex)

func WithParallelThreshold(n int) MemoryOption {
	return func(m *MemoryIndex) {
		m.threshold = n
	}
}

func WithLogger(l zerolog.Logger) MemoryOption {
	return func(m *MemoryIndex) {
		m.logger = l
	}
}

// NewMemoryIndex returns an empty index in the Building state for vectors of embeddingModel.
func NewMemoryIndex(embeddingModel string, opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{
		model:     embeddingModel,
		threshold: DefaultParallelThreshold,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snap.Store(emptySnapshot)
	return m
}

func (m *MemoryIndex) EmbeddingModel() string {
	return m.model
}

func (m *MemoryIndex) State() State {
	return State(m.state.Load())
}

func (m *MemoryIndex) MarkReady() {
	if m.state.Swap(int32(StateReady)) != int32(StateReady) {
		m.logger.Info().Str("stage", "index").Int("chunks", len(m.snap.Load().entries)).Msg("index ready")
	}
}

func (m *MemoryIndex) Ready() bool {
	return m.State() == StateReady
}

// Dimensions is 0 until the first insertion.
func (m *MemoryIndex) Dimensions() int {
	return m.snap.Load().dim
}

func (m *MemoryIndex) Len(context.Context) (int, error) {
	return len(m.snap.Load().entries), nil
}

func (m *MemoryIndex) Insert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("insert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, _, err := m.derive(m.snap.Load(), "", chunks, vectors)
	if err != nil {
		return err
	}
	m.snap.Store(next)
	return nil
}

func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	return m.Replace(ctx, documentID, nil, nil)
}

// Replace publishes the removal of documentID's chunks and the insertion of
// chunks as a single snapshot. Every chunk must belong to documentID.
func (m *MemoryIndex) Replace(ctx context.Context, documentID string, chunks []types.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("replace: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return 0, fmt.Errorf("replace %s: chunk %s belongs to another document", documentID, c.Key())
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	next, removed, err := m.derive(cur, documentID, chunks, vectors)
	if err != nil {
		return 0, err
	}
	// Читатели видят либо старую версию документа, либо новую целиком
	if removed > 0 || len(chunks) > 0 {
		m.snap.Store(next)
	}
	return removed, nil
}

// derive builds the snapshot that follows cur once the chunks of drop are
// removed and chunks are appended. An empty drop removes nothing. cur is left
// untouched, so a failed derive publishes nothing. Callers hold mu.
func (m *MemoryIndex) derive(cur *snapshot, drop string, chunks []types.Chunk, vectors [][]float32) (*snapshot, int, error) {
	dim := cur.dim
	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return nil, 0, fmt.Errorf("%w: empty vector for %s", types.ErrDimensionMismatch, chunks[0].Key())
		}
	}

	next := &snapshot{
		entries: make([]entry, 0, len(cur.entries)+len(chunks)),
		keys:    make(map[types.ChunkKey]struct{}, len(cur.keys)+len(chunks)),
		dim:     dim,
	}
	for _, e := range cur.entries {
		if drop != "" && e.chunk.DocumentID == drop {
			continue
		}
		next.entries = append(next.entries, e)
		next.keys[e.chunk.Key()] = struct{}{}
	}
	removed := len(cur.entries) - len(next.entries)

	seq := m.nextSeq
	for i, c := range chunks {
		if len(vectors[i]) != dim {
			return nil, 0, fmt.Errorf("%w: %s has %d dimensions, index has %d",
				types.ErrDimensionMismatch, c.Key(), len(vectors[i]), dim)
		}
		key := c.Key()
		if _, ok := next.keys[key]; ok {
			return nil, 0, fmt.Errorf("%w: %s", types.ErrDuplicateChunk, key)
		}
		next.keys[key] = struct{}{}
		next.entries = append(next.entries, entry{
			chunk:  c,
			vector: model.Normalize(slices.Clone(vectors[i])),
			seq:    seq,
		})
		seq++
	}

	m.nextSeq = seq
	return next, removed, nil
}

func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) (types.QueryResult, error) {
	if !m.Ready() {
		return nil, types.ErrIndexNotReady
	}

	snap := m.snap.Load()
	if len(snap.entries) == 0 || k <= 0 {
		return types.QueryResult{}, nil
	}
	if len(query) != snap.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(query), snap.dim)
	}
	q := model.Normalize(slices.Clone(query))
	k = min(k, len(snap.entries))

	var best *topK
	if len(snap.entries) < m.threshold {
		best = newTopK(k)
		if err := scoreRange(ctx, snap.entries, q, best); err != nil {
			return nil, err
		}
	} else {
		var err error
		if best, err = m.scoreParallel(ctx, snap.entries, q, k); err != nil {
			return nil, err
		}
	}

	return best.result(), nil
}

func (m *MemoryIndex) scoreParallel(ctx context.Context, entries []entry, q []float32, k int) (*topK, error) {
	shards := runtime.GOMAXPROCS(0)
	size := (len(entries) + shards - 1) / shards
	partial := make([]*topK, shards)

	g, gctx := errgroup.WithContext(ctx)
	for s := range shards {
		lo := s * size
		hi := min(lo+size, len(entries))
		if lo >= hi {
			break
		}
		partial[s] = newTopK(k)
		g.Go(func() error {
			return scoreRange(gctx, entries[lo:hi], q, partial[s])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newTopK(k)
	for _, p := range partial {
		if p == nil {
			continue
		}
		for _, c := range p.items {
			merged.offer(c)
		}
	}
	return merged, nil
}

func scoreRange(ctx context.Context, entries []entry, q []float32, best *topK) error {
	for i := range entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		best.offer(candidate{
			entry: &entries[i],
			score: dot(q, entries[i].vector),
		})
	}
	return nil
}

// dot equals cosine similarity for unit vectors and is 0 when either side is zero.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Close drops the stored vectors.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Store(&snapshot{keys: map[types.ChunkKey]struct{}{}, dim: m.snap.Load().dim})
	return nil
}

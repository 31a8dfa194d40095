package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/index"
	"docqa/model"
	"docqa/splitter"
	"docqa/types"
)

func newPipeline(t *testing.T, m *index.MemoryIndex, e model.Embedder) *Pipeline {
	t.Helper()
	s, err := splitter.New(40, 0, []string{".", " "})
	require.NoError(t, err)
	return NewPipeline(s, m, e, index.BuildOptions{BatchSize: 2}, zerolog.Nop())
}

func TestPipeline_IngestGroupsByDocument(t *testing.T) {
	e := model.MustHashEmbedder(64)
	m := index.NewMemoryIndex(e.Name())
	p := newPipeline(t, m, e)

	units := []types.SourceUnit{
		{DocumentID: "a.pdf", PageIndex: 0, RawText: "Refunds take five days. Shipping is free over fifty dollars."},
		{DocumentID: "b.pdf", PageIndex: 0, RawText: "Offices open at nine."},
		{DocumentID: "a.pdf", PageIndex: 1, RawText: ""},
	}
	reports, err := p.Ingest(context.Background(), units)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, Report{DocumentID: "a.pdf", Pages: 2, Chunks: 2}, reports[0])
	assert.Equal(t, Report{DocumentID: "b.pdf", Pages: 1, Chunks: 1}, reports[1])
	assert.True(t, m.Ready())

	n, _ := m.Len(context.Background())
	assert.Equal(t, 3, n)
}

func TestPipeline_ReingestReplacesDocument(t *testing.T) {
	e := model.MustHashEmbedder(64)
	m := index.NewMemoryIndex(e.Name())
	p := newPipeline(t, m, e)
	ctx := context.Background()

	_, err := p.IngestDocument(ctx, "a.pdf", []types.SourceUnit{
		{DocumentID: "a.pdf", RawText: "Version one is here. Still version one is here."},
	})
	require.NoError(t, err)

	r, err := p.IngestDocument(ctx, "a.pdf", []types.SourceUnit{
		{DocumentID: "a.pdf", RawText: "Version two."},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Replaced)
	assert.Equal(t, 1, r.Chunks)

	q, _ := e.Embed(ctx, "Version two.")
	res, err := m.Search(ctx, q, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Version two.", res[0].Chunk.Text)
}

type brokenEmbedder struct{ *model.HashEmbedder }

func (brokenEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.Join(types.ErrEmbeddingService, errors.New("connection refused"))
}

func TestPipeline_EmbeddingFailureNamesDocument(t *testing.T) {
	e := brokenEmbedder{model.MustHashEmbedder(8)}
	m := index.NewMemoryIndex(e.Name())
	p := newPipeline(t, m, e)

	_, err := p.Ingest(context.Background(), []types.SourceUnit{{DocumentID: "c.pdf", PageIndex: 3, RawText: "text"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmbeddingService)
	assert.Contains(t, err.Error(), "c.pdf page 3")
}

// switchEmbedder fails every batch once failing is set.
type switchEmbedder struct {
	*model.HashEmbedder
	failing atomic.Bool
	delay   time.Duration
}

func (s *switchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.failing.Load() {
		return nil, errors.Join(types.ErrEmbeddingService, errors.New("connection refused"))
	}
	time.Sleep(s.delay)
	return s.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestPipeline_FailedReingestKeepsPreviousVersion(t *testing.T) {
	e := &switchEmbedder{HashEmbedder: model.MustHashEmbedder(64)}
	m := index.NewMemoryIndex(e.Name())
	p := newPipeline(t, m, e)
	ctx := context.Background()

	_, err := p.IngestDocument(ctx, "a.pdf", []types.SourceUnit{{DocumentID: "a.pdf", RawText: "Version one."}})
	require.NoError(t, err)

	e.failing.Store(true)
	_, err = p.IngestDocument(ctx, "a.pdf", []types.SourceUnit{{DocumentID: "a.pdf", RawText: "Version two."}})
	require.ErrorIs(t, err, types.ErrEmbeddingService)

	n, _ := m.Len(ctx)
	require.Equal(t, 1, n)
	q, _ := e.Embed(ctx, "Version one.")
	res, err := m.Search(ctx, q, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Version one.", res[0].Chunk.Text)
}

func TestPipeline_ConcurrentReingestOfOneDocument(t *testing.T) {
	e := &switchEmbedder{HashEmbedder: model.MustHashEmbedder(64), delay: time.Millisecond}
	m := index.NewMemoryIndex(e.Name())
	p := newPipeline(t, m, e)
	ctx := context.Background()

	versions := []string{
		"Version one is here. Still version one is here.",
		"Version two.",
	}

	var wg sync.WaitGroup
	for range 20 {
		for _, text := range versions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.IngestDocument(ctx, "a.pdf", []types.SourceUnit{{DocumentID: "a.pdf", RawText: text}})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	q, _ := e.Embed(ctx, "version")
	res, err := m.Search(ctx, q, 10)
	require.NoError(t, err)
	require.NotEmpty(t, res)

	var texts []string
	for _, h := range res {
		texts = append(texts, h.Chunk.Text)
	}
	joined := strings.Join(texts, "")
	if strings.Contains(joined, "two") {
		assert.Equal(t, []string{"Version two."}, texts)
	} else {
		assert.Len(t, texts, 2)
	}
}

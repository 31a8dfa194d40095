// Package index holds the similarity index contract and its in-memory backend.
package index

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"docqa/model"
	"docqa/types"
)

type Searcher interface {
	// Search returns at most k chunks ordered by descending cosine similarity.
	// Equal scores keep insertion order.
	Search(ctx context.Context, query []float32, k int) (types.QueryResult, error)
}

type Writer interface {
	Insert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error
	// DeleteDocument removes every chunk of documentID and reports how many were removed.
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	// Replace swaps the chunks of documentID for chunks in one step and reports
	// how many were removed. On error the previous chunks stay in place.
	Replace(ctx context.Context, documentID string, chunks []types.Chunk, vectors [][]float32) (int, error)
}

// Backend is a queryable, writable index bound to one embedding model.
type Backend interface {
	Searcher
	Writer
	Len(ctx context.Context) (int, error)
	EmbeddingModel() string
	Close() error
}

// Readier is implemented by backends with a Building phase.
type Readier interface {
	MarkReady()
	Ready() bool
}

const (
	DefaultBatchSize = 16
	DefaultWorkers   = 4
)

type BuildOptions struct {
	BatchSize int
	Workers   int
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Build embeds chunks in concurrent batches, inserts them in their original
// order and marks w ready when it supports a lifecycle.
func Build(ctx context.Context, w Writer, chunks []types.Chunk, e model.Embedder, opts BuildOptions) error {
	vectors, err := Embed(ctx, chunks, e, opts)
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		if err := w.Insert(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("insert %d chunks: %w", len(chunks), err)
		}
	}
	if r, ok := w.(Readier); ok {
		r.MarkReady()
	}
	return nil
}

// Embed returns one vector per chunk, in chunk order. Batches run
// concurrently; the first failing batch cancels the rest.
func Embed(ctx context.Context, chunks []types.Chunk, e model.Embedder, opts BuildOptions) ([][]float32, error) {
	opts = opts.withDefaults()

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(chunks))
		batch := start / opts.BatchSize
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			vecs, err := e.EmbedBatch(gctx, texts)
			if err != nil {
				first := chunks[start]
				return fmt.Errorf("embed batch %d (%s page %d): %w", batch, first.DocumentID, first.PageIndex, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed batch %d: %w: got %d vectors for %d chunks",
					batch, types.ErrEmbeddingService, len(vecs), len(texts))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

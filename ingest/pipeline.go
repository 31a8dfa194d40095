// Package ingest runs pages through splitting, embedding and indexing.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docqa/chunker"
	"docqa/index"
	"docqa/model"
	"docqa/types"
)

type Pipeline struct {
	segmenter chunker.Segmenter
	writer    index.Writer
	embedder  model.Embedder
	opts      index.BuildOptions
	logger    zerolog.Logger
}

func NewPipeline(
	segmenter chunker.Segmenter,
	writer index.Writer,
	embedder model.Embedder,
	opts index.BuildOptions,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		segmenter: segmenter,
		writer:    writer,
		embedder:  embedder,
		opts:      opts,
		logger:    logger,
	}
}

// Report describes one ingested document.
type Report struct {
	DocumentID string
	Pages      int
	Chunks     int
	// Replaced counts chunks of an earlier version that were removed.
	Replaced int
}

// Ingest indexes units grouped by document, in order of first appearance.
// A document already in the index is replaced.
func (p *Pipeline) Ingest(ctx context.Context, units []types.SourceUnit) ([]Report, error) {
	var (
		order  []string
		byDoc  = make(map[string][]types.SourceUnit)
		report []Report
	)
	for _, u := range units {
		if _, ok := byDoc[u.DocumentID]; !ok {
			order = append(order, u.DocumentID)
		}
		byDoc[u.DocumentID] = append(byDoc[u.DocumentID], u)
	}

	for _, docID := range order {
		r, err := p.IngestDocument(ctx, docID, byDoc[docID])
		if err != nil {
			return report, err
		}
		report = append(report, r)
	}
	return report, nil
}

func (p *Pipeline) IngestDocument(ctx context.Context, documentID string, pages []types.SourceUnit) (Report, error) {
	start := time.Now()
	log := p.logger.With().Str("doc_id", documentID).Logger()
	log.Info().Str("stage", "split").Int("pages", len(pages)).Msg("starting ingestion")

	chunks := chunker.Build(pages, p.segmenter)
	log.Info().Str("stage", "split").Int("chunk_count", len(chunks)).Msg("document chunked")

	// Векторы считаются до изменения индекса: при ошибке остается прежняя версия
	vectors, err := index.Embed(ctx, chunks, p.embedder, p.opts)
	if err != nil {
		return Report{}, fmt.Errorf("index %s: %w", documentID, err)
	}
	log.Debug().Str("stage", "embed").Int("vectors", len(vectors)).Msg("chunks embedded")

	replaced, err := p.writer.Replace(ctx, documentID, chunks, vectors)
	if err != nil {
		return Report{}, fmt.Errorf("index %s: store %d chunks: %w", documentID, len(chunks), err)
	}
	if replaced > 0 {
		log.Info().Str("stage", "index").Int("replaced", replaced).Msg("previous version replaced")
	}
	if r, ok := p.writer.(index.Readier); ok {
		r.MarkReady()
	}

	log.Info().
		Str("stage", "index").
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("ingestion complete")

	return Report{
		DocumentID: documentID,
		Pages:      len(pages),
		Chunks:     len(chunks),
		Replaced:   replaced,
	}, nil
}

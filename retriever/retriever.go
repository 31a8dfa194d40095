// Package retriever turns a query into ranked chunks and ranked chunks into a
// context string for answer generation.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docqa/index"
	"docqa/model"
	"docqa/types"
)

const (
	DefaultK       = 4
	DefaultTimeout = 10 * time.Second
)

// Retriever embeds queries with the same embedder the index was built with
// and returns the top k chunks.
type Retriever struct {
	embedder model.Embedder
	searcher index.Searcher
	k        int
	timeout  time.Duration
	logger   zerolog.Logger
}

type Option func(*Retriever)

func WithK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithTimeout bounds embedding plus search. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		r.timeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Retriever) {
		r.logger = l
	}
}

func New(embedder model.Embedder, searcher index.Searcher, opts ...Option) (*Retriever, error) {
	if m, ok := searcher.(interface{ EmbeddingModel() string }); ok {
		if built := m.EmbeddingModel(); built != "" && built != embedder.Name() {
			return nil, fmt.Errorf("%w: index built with %q, queries embedded with %q",
				types.ErrInconsistentEmbeddingSpace, built, embedder.Name())
		}
	}

	r := &Retriever{
		embedder: embedder,
		searcher: searcher,
		k:        DefaultK,
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Retriever) K() int {
	return r.k
}

func (r *Retriever) Retrieve(ctx context.Context, query string) (types.QueryResult, error) {
	return r.RetrieveK(ctx, query, r.k)
}

// RetrieveK returns at most k chunks, best first. k <= 0 selects the default.
// When the deadline passes no partial result is returned.
func (r *Retriever) RetrieveK(ctx context.Context, query string, k int) (types.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyQuery
	}
	if k <= 0 {
		k = r.k
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, r.fail(ctx, "embed query", err)
	}

	result, err := r.searcher.Search(ctx, vec, k)
	if err != nil {
		return nil, r.fail(ctx, "search index", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(ctx, "search index", err)
	}

	ev := r.logger.Debug().Str("stage", "search").Int("k", k).Int("hits", len(result)).Dur("took", time.Since(start))
	if len(result) > 0 {
		ev = ev.Float64("top_score", result[0].Score)
	}
	ev.Msg("chunks retrieved")
	return result, nil
}

func (r *Retriever) fail(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn().Str("stage", "search").Dur("timeout", r.timeout).Msg("retrieval timed out")
		return fmt.Errorf("%w: %s: %w", types.ErrRetrievalUnavailable, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

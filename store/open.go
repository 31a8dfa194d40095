package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog"

	"docqa/index"
	"docqa/types"
)

var (
	_ index.Backend = (*PostgresStore)(nil)
	_ index.Readier = (*PostgresStore)(nil)
)

type Options struct {
	Postgres types.PostgresConfig
	// IndexPath is the snapshot file of the in-memory backend.
	IndexPath      string
	EmbeddingModel string
	Dimensions     int
}

// Open returns the Postgres backend when it is configured and the in-memory
// backend otherwise. The memory backend is restored from opts.IndexPath when
// the file exists.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (index.Backend, error) {
	if opts.Postgres.Enabled() {
		pg, err := NewPostgresStore(ctx, opts.Postgres.ConnString(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres %s:%d: %w", opts.Postgres.Host, opts.Postgres.Port, err)
		}
		if err := pg.Init(ctx, opts.EmbeddingModel, opts.Dimensions); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info().Str("stage", "index").Str("backend", "postgres").Msg("index opened")
		return pg, nil
	}

	memOpts := []index.MemoryOption{index.WithLogger(logger)}
	if opts.IndexPath != "" {
		m, err := index.LoadFile(opts.IndexPath, opts.EmbeddingModel, memOpts...)
		switch {
		case err == nil:
			n, _ := m.Len(ctx)
			logger.Info().Str("stage", "index").Str("backend", "memory").
				Str("path", opts.IndexPath).Int("chunks", n).Msg("index restored")
			return m, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	m := index.NewMemoryIndex(opts.EmbeddingModel, memOpts...)
	m.MarkReady()
	logger.Info().Str("stage", "index").Str("backend", "memory").Msg("empty index created")
	return m, nil
}

// Persist saves the in-memory backend to path. Other backends are durable already.
func Persist(b index.Backend, path string) error {
	m, ok := b.(*index.MemoryIndex)
	if !ok || path == "" {
		return nil
	}
	return m.SaveFile(path)
}

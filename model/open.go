package model

import (
	"context"

	"github.com/rs/zerolog"

	"docqa/types"
)

// NewEmbedder returns the Ollama embedder, wrapped in the Redis cache when
// redisCfg has an address. The returned func releases the cache connection.
func NewEmbedder(ctx context.Context, cfg types.EmbeddingConfig, redisCfg types.RedisConfig, logger zerolog.Logger) (Embedder, func(), error) {
	var e Embedder = NewOllamaEmbedder(cfg)
	if redisCfg.Addr == "" {
		return e, func() {}, nil
	}

	cache, err := NewRedisCache(ctx, redisCfg, cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("stage", "embed").Str("redis", redisCfg.Addr).Msg("embedding cache enabled")
	return NewCachedEmbedder(e, cache, logger), func() { cache.Close() }, nil
}

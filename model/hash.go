package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"docqa/types"
)

// HashEmbedder is a deterministic bag-of-words embedder. Each lower-cased token
// is hashed into one of Dimensions buckets with a hash-derived sign. It needs
// no model and is used in tests and offline runs.
type HashEmbedder struct {
	Dimensions int
}

func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: hash embedder needs positive dimensions, got %d", types.ErrConfiguration, dimensions)
	}
	return &HashEmbedder{Dimensions: dimensions}, nil
}

// MustHashEmbedder is NewHashEmbedder for fixed sizes; it panics on an invalid one.
func MustHashEmbedder(dimensions int) *HashEmbedder {
	h, err := NewHashEmbedder(dimensions)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *HashEmbedder) Name() string {
	return fmt.Sprintf("hash/%d", h.Dimensions)
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: hash embedder has %d dimensions", types.ErrConfiguration, h.Dimensions)
	}
	vec := make([]float32, h.Dimensions)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		bucket := sum % uint64(h.Dimensions)
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	return Normalize(vec), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

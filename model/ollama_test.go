package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/types"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	var got OllamaEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(types.EmbeddingConfig{URL: srv.URL, Model: "test-model"})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "hello", got.Prompt)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.Equal(t, "ollama/test-model", e.Name())
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		dims    int
		target  error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			target: types.ErrEmbeddingService,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			target: types.ErrEmbeddingService,
		},
		{
			name: "empty embedding",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(OllamaEmbeddingResponse{})
			},
			target: types.ErrEmbeddingService,
		},
		{
			name: "unexpected dimensions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{1, 2, 3}})
			},
			dims:   4,
			target: types.ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e := NewOllamaEmbedder(types.EmbeddingConfig{URL: srv.URL, Dimensions: tt.dims})
			_, err := e.Embed(context.Background(), "text")
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := NewOllamaEmbedder(types.EmbeddingConfig{URL: url})
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, types.ErrEmbeddingService)
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{1, 1, 1, 1})
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

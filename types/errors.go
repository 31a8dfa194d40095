package types

import "errors"

var (
	// ErrConfiguration marks invalid pipeline parameters. Raised at construction, never at query time.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbeddingService marks an unreachable embedding collaborator or malformed output.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrDimensionMismatch marks a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInconsistentEmbeddingSpace marks an index queried with a different embedding model than it was built with.
	ErrInconsistentEmbeddingSpace = errors.New("inconsistent embedding space")

	// ErrRetrievalUnavailable is returned when a query did not complete within its deadline.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	ErrIndexNotReady  = errors.New("index is still building")
	ErrDuplicateChunk = errors.New("duplicate chunk")
	ErrEmptyQuery     = errors.New("empty query")
)

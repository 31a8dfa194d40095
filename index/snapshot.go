package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docqa/types"
)

type fileSnapshot struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Entries    []fileEntry `json:"entries"`
}

type fileEntry struct {
	Chunk  types.Chunk `json:"chunk"`
	Vector []float32   `json:"vector"`
}

// SaveFile writes the current snapshot to path, replacing it atomically.
func (m *MemoryIndex) SaveFile(path string) error {
	snap := m.snap.Load()
	out := fileSnapshot{
		Model:      m.model,
		Dimensions: snap.dim,
		Entries:    make([]fileEntry, len(snap.entries)),
	}
	for i, e := range snap.entries {
		out.Entries[i] = fileEntry{Chunk: e.chunk, Vector: e.vector}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}

	m.logger.Info().Str("stage", "index").Str("path", path).Int("chunks", len(out.Entries)).Msg("index snapshot saved")
	return nil
}

// LoadFile reads a snapshot written by SaveFile into a Ready index. The
// snapshot must have been built with embeddingModel.
func LoadFile(path, embeddingModel string, opts ...MemoryOption) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var in fileSnapshot
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode index snapshot %s: %w", path, err)
	}
	if in.Model != embeddingModel {
		return nil, fmt.Errorf("%w: snapshot %s was built with %q, embedder is %q",
			types.ErrInconsistentEmbeddingSpace, path, in.Model, embeddingModel)
	}

	m := NewMemoryIndex(in.Model, opts...)
	chunks := make([]types.Chunk, len(in.Entries))
	vectors := make([][]float32, len(in.Entries))
	for i, e := range in.Entries {
		if len(e.Vector) != in.Dimensions {
			return nil, fmt.Errorf("%w: snapshot entry %s has %d dimensions, header says %d",
				types.ErrDimensionMismatch, e.Chunk.Key(), len(e.Vector), in.Dimensions)
		}
		chunks[i] = e.Chunk
		vectors[i] = e.Vector
	}
	if err := m.Insert(context.Background(), chunks, vectors); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	m.MarkReady()
	return m, nil
}

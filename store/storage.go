package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"docqa/model"
	"docqa/types"
)

// chunkNamespace seeds the deterministic row IDs of chunks.
var chunkNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// PostgresStore is an index backend on PostgreSQL with the pgvector extension.
type PostgresStore struct {
	pool       *pgxpool.Pool
	model      string
	dimensions int
	logger     zerolog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Init creates the tables for vectors of the given size and binds the store to
// embeddingModel. A database built with another model or size is rejected.
func (p *PostgresStore) Init(ctx context.Context, embeddingModel string, dimensions int) error {
	if err := p.createRagTables(ctx, dimensions); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var (
		storedModel string
		storedDims  int
	)
	err := p.pool.QueryRow(ctx, "SELECT model, dimensions FROM index_meta WHERE id = 1").Scan(&storedModel, &storedDims)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = p.pool.Exec(ctx,
			"INSERT INTO index_meta (id, model, dimensions) VALUES (1, $1, $2)",
			embeddingModel, dimensions)
		if err != nil {
			return fmt.Errorf("record index model: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read index model: %w", err)
	case storedModel != embeddingModel || storedDims != dimensions:
		return fmt.Errorf("%w: database holds %s/%d vectors, embedder is %s/%d",
			types.ErrInconsistentEmbeddingSpace, storedModel, storedDims, embeddingModel, dimensions)
	}

	p.model = embeddingModel
	p.dimensions = dimensions
	return nil
}

func (p *PostgresStore) EmbeddingModel() string {
	return p.model
}

func (p *PostgresStore) Ready() bool {
	return p.model != ""
}

func (p *PostgresStore) MarkReady() {}

func (p *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM chunks").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ChunkID is the row ID of a chunk, derived from its provenance key.
func ChunkID(key types.ChunkKey) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(key.String()))
}

const insertChunkSQL = `
	INSERT INTO chunks (id, document_id, page_index, split_index, content, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (document_id, page_index, split_index) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding
	`

func (p *PostgresStore) Insert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if err := p.checkVectors(chunks, vectors); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertChunks(ctx, tx, chunks, vectors); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}

	p.logger.Debug().Str("stage", "index").Int("chunks", len(chunks)).Msg("chunks stored")
	return nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	return p.Replace(ctx, documentID, nil, nil)
}

// Replace deletes the chunks of documentID and inserts chunks in one
// transaction. Replacements of the same document are serialized by an
// advisory lock, including across processes sharing the database.
func (p *PostgresStore) Replace(ctx context.Context, documentID string, chunks []types.Chunk, vectors [][]float32) (int, error) {
	if err := p.checkVectors(chunks, vectors); err != nil {
		return 0, err
	}
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return 0, fmt.Errorf("replace %s: chunk %s belongs to another document", documentID, c.Key())
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокировка на документ до конца транзакции
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", documentID); err != nil {
		return 0, fmt.Errorf("lock document %s: %w", documentID, err)
	}

	tag, err := tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID)
	if err != nil {
		return 0, fmt.Errorf("error deleting old chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, chunks, vectors); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit document %s: %w", documentID, err)
	}

	removed := int(tag.RowsAffected())
	p.logger.Debug().Str("stage", "index").Str("doc_id", documentID).
		Int("removed", removed).Int("chunks", len(chunks)).Msg("document replaced")
	return removed, nil
}

func (p *PostgresStore) checkVectors(chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("insert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != p.dimensions {
			return fmt.Errorf("%w: %s has %d dimensions, index has %d",
				types.ErrDimensionMismatch, chunks[i].Key(), len(v), p.dimensions)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, c := range chunks {
		vec := model.Normalize(append([]float32(nil), vectors[i]...))
		batch.Queue(insertChunkSQL,
			ChunkID(c.Key()), c.DocumentID, c.PageIndex, c.SplitIndex, c.Text, pgvector.NewVector(vec))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) (types.QueryResult, error) {
	if limit <= 0 {
		return types.QueryResult{}, nil
	}
	if len(queryVec) != p.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(queryVec), p.dimensions)
	}

	vector := pgvector.NewVector(queryVec)

	// Внутренний запрос сортирует только по расстоянию, чтобы работал HNSW индекс;
	// равные расстояния внутри top-k упорядочиваются по seq снаружи
	query := `
		SELECT c.document_id, c.page_index, c.split_index, c.content,
		       1 - c.distance AS score
		FROM (
			SELECT document_id, page_index, split_index, content, seq,
			       embedding <=> $1 AS distance
			FROM chunks
			ORDER BY embedding <=> $1
			LIMIT $2
		) c
		ORDER BY c.distance, c.seq
	`
	rows, err := p.pool.Query(ctx, query, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := types.QueryResult{}
	for rows.Next() {
		var hit types.Hit
		err := rows.Scan(
			&hit.Chunk.DocumentID,
			&hit.Chunk.PageIndex,
			&hit.Chunk.SplitIndex,
			&hit.Chunk.Text,
			&hit.Score)
		if err != nil {
			return nil, err
		}
		p.logger.Debug().Str("stage", "search").
			Str("chunk", hit.Chunk.Key().String()).
			Float64("score", hit.Score).
			Msg("chunk found")
		result = append(result, hit)
	}
	return result, rows.Err()
}

func (p *PostgresStore) createRagTables(ctx context.Context, dimensions int) error {
	query := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS index_meta (
        id INT PRIMARY KEY CHECK (id = 1),
        model TEXT NOT NULL,
        dimensions INT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chunks (
        id UUID PRIMARY KEY,
        seq BIGSERIAL,
        document_id TEXT NOT NULL,
        page_index INT NOT NULL,
        split_index INT NOT NULL,
        content TEXT NOT NULL,
        embedding vector(%d) NOT NULL,
        UNIQUE (document_id, page_index, split_index)
    );

	-- Индекс для быстрого поиска по вектору
	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
    `, dimensions)
	_, err := p.pool.Exec(ctx, query)
	return err
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info().Msg("Postgres connection pool is closed")
	}
	return nil
}

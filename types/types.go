package types

import (
	"fmt"
	"time"
)

// SourceUnit is one page of text from one document.
type SourceUnit struct {
	DocumentID string // Стабильный идентификатор документа (имя файла)
	PageIndex  int    // Номер страницы, начиная с 0
	RawText    string // Текст страницы, переводы строк заменены пробелами
}

// Chunk is the retrieval unit: a bounded segment of page text with its provenance.
type Chunk struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	PageIndex  int    `json:"page_index"`
	SplitIndex int    `json:"split_index"`
}

// ChunkKey identifies a chunk across the corpus.
type ChunkKey struct {
	DocumentID string
	PageIndex  int
	SplitIndex int
}

func (c Chunk) Key() ChunkKey {
	return ChunkKey{
		DocumentID: c.DocumentID,
		PageIndex:  c.PageIndex,
		SplitIndex: c.SplitIndex,
	}
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s#p%d/s%d", k.DocumentID, k.PageIndex, k.SplitIndex)
}

// Hit is a chunk paired with its cosine similarity to a query.
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QueryResult is ordered by descending score.
type QueryResult []Hit

func (r QueryResult) Chunks() []Chunk {
	chunks := make([]Chunk, len(r))
	for i, h := range r {
		chunks[i] = h.Chunk
	}
	return chunks
}

// Source is the citation for one chunk used in an assembled context.
type Source struct {
	DocumentID string  `json:"document_id"`
	PageIndex  int     `json:"page_index"`
	SplitIndex int     `json:"split_index"`
	Score      float64 `json:"score"`
	ChunkText  string  `json:"chunk_text,omitempty"`
}

// AssembledContext is the text handed to answer generation together with its provenance.
type AssembledContext struct {
	Text    string
	Sources []Source
	Tokens  int
}

// PipelineConfig holds the splitter and retrieval parameters.
type PipelineConfig struct {
	ChunkSize          int           `json:"chunk_size" validate:"gt=0"`
	ChunkOverlap       int           `json:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	Separators         []string      `json:"separators" validate:"min=1"`
	TopK               int           `json:"k" validate:"gt=0"`
	RetrievalTimeout   time.Duration `json:"retrieval_timeout"`
	ContextTokenBudget int           `json:"context_token_budget" validate:"gte=0"`
	EmbedBatchSize     int           `json:"embed_batch_size" validate:"gt=0"`
	EmbedWorkers       int           `json:"embed_workers" validate:"gt=0"`
}

// LoaderConfig configures the PDF watcher.
type LoaderConfig struct {
	MonitoringTime time.Duration
	SourceDir      string `validate:"required"`
	ArchiveDir     string `validate:"required"`
	BadDir         string `validate:"required"`
	CropTop        float64
	CropBottom     float64
}

type EmbeddingConfig struct {
	URL        string
	Model      string
	Dimensions int `validate:"gt=0"`
	Timeout    time.Duration
	CacheTTL   time.Duration
}

type LLMConfig struct {
	Url   string
	Model string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

type RedisConfig struct {
	Addr     string
	Password string
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/index"
	"docqa/ingest"
	"docqa/model"
	"docqa/retriever"
	"docqa/splitter"
	"docqa/types"
)

type fakeGenerator struct {
	gotContext string
	answer     string
	err        error
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, contextText, _ string) (string, error) {
	f.gotContext = contextText
	return f.answer, f.err
}

type fakeRetriever struct {
	result types.QueryResult
	err    error
	gotK   int
}

func (f *fakeRetriever) RetrieveK(_ context.Context, _ string, k int) (types.QueryResult, error) {
	f.gotK = k
	return f.result, f.err
}

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zerolog.Nop())})
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandleRequest_EndToEnd(t *testing.T) {
	e := model.MustHashEmbedder(128)
	m := index.NewMemoryIndex(e.Name())
	s := splitter.MustNew(50, 0, splitter.DefaultSeparators)
	p := ingest.NewPipeline(s, m, e, index.BuildOptions{}, zerolog.Nop())
	_, err := p.IngestDocument(context.Background(), "faq.pdf", []types.SourceUnit{
		{DocumentID: "faq.pdf", PageIndex: 0, RawText: "Returns are accepted within fourteen days. Shipping is free."},
		{DocumentID: "faq.pdf", PageIndex: 1, RawText: "Support answers email within one business day."},
	})
	require.NoError(t, err)

	r, err := retriever.New(e, m, retriever.WithK(2))
	require.NoError(t, err)
	gen := &fakeGenerator{answer: "Within fourteen days."}
	h := NewRequestHandler(r, retriever.NewAssembler(), gen, zerolog.Nop())

	app := newApp()
	app.Post("/request", h.HandleRequest)

	resp := postJSON(t, app, "/request", types.QueryParams{Prompt: "Returns are accepted within fourteen days.", Citations: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[types.SearchResponse](t, resp)
	assert.Equal(t, "Within fourteen days.", out.Answer)
	require.NotEmpty(t, out.Sources)
	assert.Equal(t, "faq.pdf", out.Sources[0].DocumentID)
	assert.Equal(t, "Returns are accepted within fourteen days.", out.Sources[0].ChunkText)
	assert.InDelta(t, 1.0, out.Confidence, 1e-5)
	assert.Contains(t, gen.gotContext, "[faq.pdf, page 1] Returns are accepted")
	assert.WithinDuration(t, time.Now(), out.Timestamp, time.Minute)
}

func TestHandleRequest_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		retrieve   error
		generate   error
		wantStatus int
	}{
		{name: "missing prompt", body: types.QueryParams{}, wantStatus: http.StatusBadRequest},
		{name: "k too large", body: types.QueryParams{Prompt: "q", K: 500}, wantStatus: http.StatusBadRequest},
		{name: "not json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "retrieval timeout", body: types.QueryParams{Prompt: "q"}, retrieve: types.ErrRetrievalUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "embedding service down", body: types.QueryParams{Prompt: "q"}, retrieve: types.ErrEmbeddingService, wantStatus: http.StatusServiceUnavailable},
		{name: "foreign index", body: types.QueryParams{Prompt: "q"}, retrieve: types.ErrDimensionMismatch, wantStatus: http.StatusConflict},
		{name: "llm failure", body: types.QueryParams{Prompt: "q"}, generate: errors.New("llm down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRequestHandler(
				&fakeRetriever{err: tt.retrieve},
				retriever.NewAssembler(),
				&fakeGenerator{err: tt.generate},
				zerolog.Nop())
			app := newApp()
			app.Post("/request", h.HandleRequest)

			resp := postJSON(t, app, "/request", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandleRequest_EmptyIndexStillAnswers(t *testing.T) {
	gen := &fakeGenerator{answer: "No information for this request"}
	h := NewRequestHandler(&fakeRetriever{}, retriever.NewAssembler(), gen, zerolog.Nop())
	app := newApp()
	app.Post("/request", h.HandleRequest)

	resp := postJSON(t, app, "/request", types.QueryParams{Prompt: "anything"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[types.SearchResponse](t, resp)
	assert.Empty(t, out.Sources)
	assert.Zero(t, out.Confidence)
	assert.Empty(t, gen.gotContext)
}

func TestHandleSearch(t *testing.T) {
	fr := &fakeRetriever{result: types.QueryResult{
		{Chunk: types.Chunk{Text: "a", DocumentID: "d"}, Score: 0.9},
		{Chunk: types.Chunk{Text: "b", DocumentID: "d", SplitIndex: 1}, Score: 0.5},
	}}
	h := NewRequestHandler(fr, retriever.NewAssembler(), &fakeGenerator{}, zerolog.Nop())
	app := newApp()
	app.Post("/search", h.HandleSearch)

	resp := postJSON(t, app, "/search", types.QueryParams{Prompt: "q", K: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[types.HitsResponse](t, resp)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 2, fr.gotK)
	assert.Equal(t, "b", out.Hits[1].Chunk.Text)
}

func TestCheckHandler(t *testing.T) {
	m := index.NewMemoryIndex("hash/4")
	h := NewCheckHandler(m)
	app := newApp()
	app.Get("/healthy", h.HandleHealthy)
	app.Get("/ready", h.HandleReady)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthy", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	m.MarkReady()
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "hash/4", body["model"])
}

func TestConfigHandler_HidesCredentials(t *testing.T) {
	cfg, err := config.FromEnv(func(key string) string {
		if key == "PG_PASS" {
			return "secret"
		}
		return ""
	})
	require.NoError(t, err)

	app := newApp()
	app.Get("/config", NewConfigHandler(cfg).HandleGetConfig)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/config", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.Contains(t, string(raw), `"chunk_size":500`)
}

type fakeLoader struct{ err error }

func (f fakeLoader) LoadPages(_ context.Context, _, documentID string) ([]types.SourceUnit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.SourceUnit{{DocumentID: documentID, RawText: "Uploaded text."}}, nil
}

type fakeIngester struct{ gotID string }

func (f *fakeIngester) IngestDocument(_ context.Context, documentID string, pages []types.SourceUnit) (ingest.Report, error) {
	f.gotID = documentID
	return ingest.Report{DocumentID: documentID, Pages: len(pages), Chunks: 1}, nil
}

func upload(t *testing.T, app *fiber.App, field, name string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestFileHandler_Upload(t *testing.T) {
	ing := &fakeIngester{}
	app := newApp()
	app.Post("/documents", NewFileHandler(fakeLoader{}, ing, zerolog.Nop()).HandleUpload)

	resp := upload(t, app, "file", "manual.pdf")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[types.IngestResponse](t, resp)
	assert.Equal(t, "manual.pdf", out.DocumentID)
	assert.Equal(t, 1, out.Pages)
	assert.Equal(t, "manual.pdf", ing.gotID)

	resp = upload(t, app, "file", "notes.txt")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = upload(t, app, "other", "manual.pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	app = newApp()
	app.Post("/documents", NewFileHandler(fakeLoader{err: errors.New("broken xref")}, ing, zerolog.Nop()).HandleUpload)
	resp = upload(t, app, "file", "manual.pdf")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"docqa/app/agent"
	"docqa/retriever"
	"docqa/types"
)

// Retriever is the query side of the pipeline.
type Retriever interface {
	RetrieveK(ctx context.Context, query string, k int) (types.QueryResult, error)
}

type RequestHandler struct {
	retriever Retriever
	assembler *retriever.Assembler
	generator agent.Generator
	logger    zerolog.Logger
}

func NewRequestHandler(r Retriever, a *retriever.Assembler, g agent.Generator, logger zerolog.Logger) *RequestHandler {
	return &RequestHandler{
		retriever: r,
		assembler: a,
		generator: g,
		logger:    logger,
	}
}

func parseQuery(c *fiber.Ctx) (types.QueryParams, error) {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return params, ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return params, NewValidationError(errors)
	}
	return params, nil
}

// HandleRequest retrieves context for the prompt and asks the model for an answer.
func (h *RequestHandler) HandleRequest(c *fiber.Ctx) error {
	params, err := parseQuery(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	hits, err := h.retriever.RetrieveK(ctx, params.Prompt, params.K)
	if err != nil {
		return err
	}

	assembled := h.assembler.With(retriever.WithCitations(params.Citations)).Assemble(hits)
	h.logger.Info().
		Str("stage", "context").
		Int("chunks", len(assembled.Sources)).
		Int("chars", len(assembled.Text)).
		Int("tokens", assembled.Tokens).
		Msg("context assembled")

	answer, err := h.generator.GenerateAnswer(ctx, assembled.Text, params.Prompt)
	if err != nil {
		return err
	}

	var confidence float64
	if len(hits) > 0 {
		confidence = hits[0].Score
	}

	return c.JSON(&types.SearchResponse{
		Answer:     answer,
		Sources:    withText(assembled.Sources, hits),
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
}

// HandleSearch returns the ranked chunks without generating an answer.
func (h *RequestHandler) HandleSearch(c *fiber.Ctx) error {
	params, err := parseQuery(c)
	if err != nil {
		return err
	}

	hits, err := h.retriever.RetrieveK(c.UserContext(), params.Prompt, params.K)
	if err != nil {
		return err
	}

	return c.JSON(&types.HitsResponse{
		Query: params.Prompt,
		Hits:  hits,
		Count: len(hits),
	})
}

// withText copies the chunk text into sources; sources are a prefix of hits.
func withText(sources []types.Source, hits types.QueryResult) []types.Source {
	out := make([]types.Source, len(sources))
	for i, s := range sources {
		s.ChunkText = hits[i].Chunk.Text
		out[i] = s
	}
	return out
}

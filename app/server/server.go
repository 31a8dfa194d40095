package server

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"docqa/app/agent"
	"docqa/app/api"
	"docqa/app/middleware"
	"docqa/config"
	"docqa/index"
	"docqa/ingest"
	"docqa/loader/service"
	"docqa/model"
	"docqa/retriever"
	"docqa/store"
	"docqa/types"
)

type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	app     *fiber.App
	backend index.Backend
	closers []func()
}

// NewServer opens the index and wires the HTTP routes.
func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	embedder, closeEmbedder, err := model.NewEmbedder(ctx, cfg.Embedding, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeEmbedder)

	s.backend, err = store.Open(ctx, store.Options{
		Postgres:       cfg.Postgres,
		IndexPath:      cfg.IndexPath,
		EmbeddingModel: embedder.Name(),
		Dimensions:     cfg.Embedding.Dimensions,
	}, logger)
	if err != nil {
		closeEmbedder()
		return nil, err
	}

	r, err := retriever.New(embedder, s.backend,
		retriever.WithK(cfg.Pipeline.TopK),
		retriever.WithTimeout(cfg.Pipeline.RetrievalTimeout),
		retriever.WithLogger(logger))
	if err != nil {
		s.Stop()
		return nil, err
	}

	split, err := cfg.Splitter()
	if err != nil {
		s.Stop()
		return nil, err
	}
	pipeline := ingest.NewPipeline(split, s.backend, embedder, index.BuildOptions{
		BatchSize: cfg.Pipeline.EmbedBatchSize,
		Workers:   cfg.Pipeline.EmbedWorkers,
	}, logger)

	loader, err := service.NewLoader(cfg.Loader, logger)
	if err != nil {
		s.Stop()
		return nil, err
	}

	assembler := retriever.NewAssembler(retriever.WithTokenBudget(cfg.Pipeline.ContextTokenBudget, agent.CountTokens))

	var (
		app            = fiber.New(fiber.Config{ErrorHandler: api.NewErrorHandler(logger), BodyLimit: 64 << 20})
		checkHandler   = api.NewCheckHandler(s.backend)
		requestHandler = api.NewRequestHandler(r, assembler, agent.NewOllamaGenerator(cfg.LLM, logger), logger)
		fileHandler    = api.NewFileHandler(loader, persistingIngester{pipeline, s.persist}, logger)
		configHandler  = api.NewConfigHandler(cfg)
	)
	app.Use(middleware.RequestLogger(logger))

	var (
		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)
	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)
	apiv1.Post("/request", requestHandler.HandleRequest)
	apiv1.Post("/search", requestHandler.HandleSearch)
	apiv1.Post("/documents", fileHandler.HandleUpload)
	apiv1.Get("/config", configHandler.HandleGetConfig)

	s.app = app
	return s, nil
}

// Run blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.cfg.ServerAddr).Msg("server started")
	if err := s.app.Listen(s.cfg.ServerAddr); err != nil {
		return fmt.Errorf("error to start server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests, saves the in-memory index and closes it.
func (s *Server) Stop() {
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error().Err(err).Msg("error shutting down http server")
		}
	}
	if s.backend != nil {
		if err := s.persist(); err != nil {
			s.logger.Error().Err(err).Msg("error saving index")
		}
		if err := s.backend.Close(); err != nil {
			s.logger.Error().Err(err).Msg("error closing index")
		}
	}
	for _, c := range s.closers {
		c()
	}
	s.logger.Info().Msg("server stopped")
}

func (s *Server) persist() error {
	return store.Persist(s.backend, s.cfg.IndexPath)
}

// persistingIngester saves the index after every uploaded document.
type persistingIngester struct {
	*ingest.Pipeline
	persist func() error
}

func (p persistingIngester) IngestDocument(ctx context.Context, documentID string, pages []types.SourceUnit) (ingest.Report, error) {
	report, err := p.Pipeline.IngestDocument(ctx, documentID, pages)
	if err != nil {
		return report, err
	}
	return report, p.persist()
}

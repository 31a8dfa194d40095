package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docqa/config"
	"docqa/index"
	"docqa/ingest"
	"docqa/loader/service"
	"docqa/logger"
	"docqa/model"
	"docqa/retriever"
	"docqa/store"
)

var (
	cfg *config.Config
	log zerolog.Logger

	searchK int
)

var rootCmd = &cobra.Command{
	Use:   "loader",
	Short: "Index PDF documents for question answering",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		log = logger.New(cfg.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source folder and index new files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, s *service.Service, _ *env) error {
			return s.Run(ctx)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Index the given PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, s *service.Service, _ *env) error {
			reports, err := s.IngestFiles(ctx, args)
			for _, r := range reports {
				cmd.Printf("%s: %d pages, %d chunks, %d replaced\n", r.DocumentID, r.Pages, r.Chunks, r.Replaced)
			}
			return err
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Print the chunks closest to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, _ *service.Service, e *env) error {
			r, err := retriever.New(e.embedder, e.backend,
				retriever.WithK(searchK),
				retriever.WithTimeout(cfg.Pipeline.RetrievalTimeout),
				retriever.WithLogger(log))
			if err != nil {
				return err
			}
			hits, err := r.Retrieve(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(hits, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal results: %w", err)
			}
			cmd.Println(string(data))
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "top", "k", retriever.DefaultK, "number of chunks to return")
	rootCmd.AddCommand(watchCmd, ingestCmd, searchCmd)
}

type env struct {
	embedder model.Embedder
	backend  index.Backend
}

// withService opens the index and embedder, runs fn, and persists and closes
// the index afterwards.
func withService(ctx context.Context, fn func(context.Context, *service.Service, *env) error) error {
	embedder, closeEmbedder, err := model.NewEmbedder(ctx, cfg.Embedding, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	backend, err := store.Open(ctx, store.Options{
		Postgres:       cfg.Postgres,
		IndexPath:      cfg.IndexPath,
		EmbeddingModel: embedder.Name(),
		Dimensions:     cfg.Embedding.Dimensions,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("error closing index")
		}
	}()

	split, err := cfg.Splitter()
	if err != nil {
		return err
	}
	pipeline := ingest.NewPipeline(split, backend, embedder, index.BuildOptions{
		BatchSize: cfg.Pipeline.EmbedBatchSize,
		Workers:   cfg.Pipeline.EmbedWorkers,
	}, log)

	loader, err := service.NewLoader(cfg.Loader, log)
	if err != nil {
		return err
	}
	persist := func() error { return store.Persist(backend, cfg.IndexPath) }

	return fn(ctx, service.New(loader, pipeline, persist, log), &env{embedder: embedder, backend: backend})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

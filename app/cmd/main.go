package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"docqa/app/server"
	"docqa/config"
	"docqa/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}
	l := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.NewServer(ctx, cfg, l)
	if err != nil {
		l.Fatal().Err(err).Msg("error starting server")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()

	select {
	case <-ctx.Done():
		l.Info().Msg("received shutdown signal, shutting down server...")
	case err := <-errCh:
		if err != nil {
			l.Error().Err(err).Msg("server failed")
		}
	}
	s.Stop()
}

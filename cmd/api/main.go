package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/persona-gateway/internal/config"
	"github.com/zhouzirui/persona-gateway/internal/handler"
	"github.com/zhouzirui/persona-gateway/internal/logger"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	"github.com/zhouzirui/persona-gateway/internal/service/completion"
	"github.com/zhouzirui/persona-gateway/internal/service/gateway"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	root := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Logger = root
	if envErr != nil {
		root.Warn().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	if !cfg.Completion.Enabled() {
		root.Fatal().Str("provider", cfg.Completion.Provider).Msg("completion credentials are not configured")
	}

	personaStore := persona.NewMemoryStore(persona.Seed())

	backend, err := completion.NewBackend(ctx, cfg.Completion)
	if err != nil {
		root.Fatal().Err(err).Str("provider", cfg.Completion.Provider).Msg("failed to initialize completion backend")
	}
	root.Info().
		Str("provider", cfg.Completion.Provider).
		Str("model", cfg.Completion.Model).
		Msg("completion backend initialized")

	gw := gateway.New(personaStore, backend, cfg.Gateway, root)

	router := handler.NewRouter(cfg.Server, root, personaStore, gw)

	startServer(ctx, cfg.Server, router, root)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("persona gateway listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

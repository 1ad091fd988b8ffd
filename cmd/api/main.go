package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/polymind/backend/internal/auth"
	"github.com/zhouzirui/polymind/backend/internal/config"
	"github.com/zhouzirui/polymind/backend/internal/handler"
	"github.com/zhouzirui/polymind/backend/internal/service/ai"
	catalogService "github.com/zhouzirui/polymind/backend/internal/service/catalog"
	"github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Debug("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	models, err := catalogService.Load(ctx, cfg.Catalog, cfg.Gateway, logger)
	if err != nil {
		return err
	}

	if !cfg.Gateway.Enabled() {
		logger.Warn("gateway credentials are not configured, every model call will fail", "provider", cfg.Gateway.Provider)
	}
	gateway := ai.NewGateway(cfg.Gateway, logger)
	coordinator := dispatch.NewCoordinator(gateway, logger)

	store, err := chat.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	logger.Info("conversation store ready", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	router := handler.NewRouter(handler.Dependencies{
		Models:     models,
		Dispatcher: coordinator,
		ChatSvc:    chat.NewService(store, coordinator, logger),
		Auth:       auth.FromConfig(cfg.Auth),
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("PolyMind backend listening", "addr", cfg.Server.Addr, "models", len(models.List()))
	return runServer(ctx, srv)
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

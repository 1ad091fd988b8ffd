package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/polymind/backend/internal/config"
	catalogModel "github.com/zhouzirui/polymind/backend/internal/model/catalog"
)

// Load builds the catalog: the YAML file when configured, the built-in
// seed otherwise, optionally enriched from the gateway listing. A failed
// refresh is logged and the static catalog is kept.
func Load(ctx context.Context, cfg config.CatalogConfig, gateway config.GatewayConfig, logger *slog.Logger) (*catalogModel.MemoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	models := catalogModel.Seed()
	if cfg.File != "" {
		loaded, err := catalogModel.LoadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("load catalog file: %w", err)
		}
		models = loaded
		logger.Info("catalog loaded from file", "file", cfg.File, "models", len(models))
	}
	store := catalogModel.NewMemoryStore(models)

	if cfg.Refresh && gateway.Provider == config.ProviderOpenRouter && gateway.BaseURL != "" {
		refresher := NewRefresher(gateway.BaseURL, gateway.APIKey, gateway.Timeout, logger)
		if _, err := refresher.Refresh(ctx, store); err != nil {
			logger.Warn("catalog refresh failed, using static catalog", "error", err)
		}
	}
	return store, nil
}

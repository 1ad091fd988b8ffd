// Package catalog keeps the model catalog in sync with the gateway's
// model listing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	catalogModel "github.com/zhouzirui/polymind/backend/internal/model/catalog"
)

const defaultTimeout = 15 * time.Second

// Merger accepts remote model metadata.
type Merger interface {
	Merge(remote []catalogModel.Model) int
}

type listing struct {
	Data []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Refresher reads GET {baseURL}/models from an OpenAI-compatible gateway.
type Refresher struct {
	client *resty.Client
	logger *slog.Logger
}

// NewRefresher creates a refresher for baseURL. apiKey may be empty for
// gateways that list models publicly.
func NewRefresher(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Refresher{client: client, logger: logger.With("component", "catalog")}
}

// Fetch returns every model the gateway lists.
func (r *Refresher) Fetch(ctx context.Context) ([]catalogModel.Model, error) {
	var body listing
	var failure apiError
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&failure).
		Get("/models")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("list models: %s", msg)
	}

	models := make([]catalogModel.Model, 0, len(body.Data))
	for _, item := range body.Data {
		if strings.TrimSpace(item.ID) == "" {
			continue
		}
		models = append(models, catalogModel.Model{
			ID:          item.ID,
			Name:        item.Name,
			Provider:    catalogModel.ProviderOf(item.ID),
			Description: item.Description,
		})
	}
	if len(models) == 0 {
		return nil, errors.New("list models: empty listing")
	}
	return models, nil
}

// Refresh fetches the listing and merges it into store.
func (r *Refresher) Refresh(ctx context.Context, store Merger) (int, error) {
	models, err := r.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	changed := store.Merge(models)
	r.logger.Info("catalog refreshed", "listed", len(models), "updated", changed)
	return changed, nil
}

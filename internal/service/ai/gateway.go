package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

// ModelProvider builds the chat model that serves one model identifier.
type ModelProvider interface {
	NewChatModel(ctx context.Context, modelID string) (model.BaseChatModel, error)
}

// ProviderFunc adapts a function to ModelProvider.
type ProviderFunc func(ctx context.Context, modelID string) (model.BaseChatModel, error)

// NewChatModel implements ModelProvider.
func (f ProviderFunc) NewChatModel(ctx context.Context, modelID string) (model.BaseChatModel, error) {
	return f(ctx, modelID)
}

type runnable = compose.Runnable[map[string]any, *schema.Message]

// Gateway issues one generation per (model, message) pair and folds every
// outcome into a chat.GenerationResult.
type Gateway struct {
	provider ModelProvider
	logger   *slog.Logger

	mu     sync.Mutex
	chains map[string]runnable
}

// NewGateway creates a gateway over provider.
func NewGateway(provider ModelProvider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider: provider,
		logger:   logger.With("component", "gateway"),
		chains:   make(map[string]runnable),
	}
}

// Generate sends message to modelID. It never returns an error: failures
// are reported through GenerationResult.Error.
func (g *Gateway) Generate(ctx context.Context, modelID, message string) (result chat.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("generation panicked", "model", modelID, "panic", r)
			result = chat.Failed(modelID, fmt.Sprint(r))
		}
	}()

	if strings.TrimSpace(message) == "" {
		return chat.Failed(modelID, "message is required")
	}

	chain, err := g.chain(ctx, modelID)
	if err != nil {
		g.logger.Warn("model unavailable", "model", modelID, "error", err)
		return chat.Failed(modelID, err.Error())
	}

	response, err := chain.Invoke(ctx, map[string]any{"query": message})
	if err != nil {
		g.logger.Warn("generation failed", "model", modelID, "error", err)
		return chat.Failed(modelID, describe(err))
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		g.logger.Warn("generation returned no content", "model", modelID)
		return chat.Failed(modelID, "model returned an empty response")
	}

	g.logger.Debug("generated response", "model", modelID, "length", len(response.Content))
	return chat.Succeeded(modelID, response.Content)
}

// chain returns the compiled chain for modelID, building it on first use.
func (g *Gateway) chain(ctx context.Context, modelID string) (runnable, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.chains[modelID]; ok {
		return r, nil
	}

	chatModel, err := g.provider.NewChatModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{query}"),
	)

	c := compose.NewChain[map[string]any, *schema.Message]()
	c.AppendChatTemplate(promptTemplate)
	c.AppendChatModel(chatModel)

	r, err := c.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	g.chains[modelID] = r
	return r, nil
}

// describe reports the innermost error message, which is the one raised by
// the remote call rather than the chain node that wrapped it.
func describe(err error) string {
	msg := ""
	for ; err != nil; err = errors.Unwrap(err) {
		if m := strings.TrimSpace(err.Error()); m != "" {
			msg = m
		}
	}
	return msg
}

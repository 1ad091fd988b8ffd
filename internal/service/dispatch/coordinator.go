// Package dispatch fans one user message out to several models and collects
// every outcome in the order the models were requested.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrNoModels       = errors.New("at least one model must be selected")
	ErrInvalidModel   = errors.New("model identifier must not be blank")
	ErrDuplicateModel = errors.New("model selected more than once")
)

// ValidationError reports input rejected before any model is called.
type ValidationError struct {
	Err     error
	ModelID string
}

func (e *ValidationError) Error() string {
	if e.ModelID != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.ModelID)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err was caused by caller input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Generator produces one result per model call and never fails as a whole.
type Generator interface {
	Generate(ctx context.Context, modelID, message string) chat.GenerationResult
}

// ResultFunc observes each result as soon as its model settles.
type ResultFunc func(index int, result chat.GenerationResult)

// Coordinator dispatches a message to several models concurrently.
type Coordinator struct {
	gen    Generator
	logger *slog.Logger
}

// NewCoordinator creates a coordinator over gen.
func NewCoordinator(gen Generator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{gen: gen, logger: logger.With("component", "dispatch")}
}

// Validate checks a dispatch request without calling any model.
func Validate(message string, modelIDs []string) error {
	if strings.TrimSpace(message) == "" {
		return &ValidationError{Err: ErrEmptyMessage}
	}
	if len(modelIDs) == 0 {
		return &ValidationError{Err: ErrNoModels}
	}
	seen := make(map[string]struct{}, len(modelIDs))
	for _, id := range modelIDs {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Err: ErrInvalidModel}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Err: ErrDuplicateModel, ModelID: id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Dispatch sends message to every model and waits for all of them to settle.
// results[i] always belongs to modelIDs[i].
func (c *Coordinator) Dispatch(ctx context.Context, message string, modelIDs []string) ([]chat.GenerationResult, error) {
	return c.DispatchEach(ctx, message, modelIDs, nil)
}

// DispatchEach behaves like Dispatch and also reports each result through
// onResult as it lands. onResult may be called from several goroutines.
func (c *Coordinator) DispatchEach(ctx context.Context, message string, modelIDs []string, onResult ResultFunc) ([]chat.GenerationResult, error) {
	if err := Validate(message, modelIDs); err != nil {
		return nil, err
	}
	if c.gen == nil {
		return nil, errors.New("dispatch: no generator configured")
	}

	// In-flight generations outlive the caller; late results are dropped by the view.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	results := make([]chat.GenerationResult, len(modelIDs))
	var g errgroup.Group
	for i, modelID := range modelIDs {
		g.Go(func() error {
			results[i] = c.generate(ctx, modelID, message)
			if onResult != nil {
				c.notify(onResult, i, results[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Succeeded {
			failed++
		}
	}
	c.logger.Info("dispatch settled",
		"models", len(modelIDs),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// generate isolates one branch so a panic only fails its own model.
func (c *Coordinator) generate(ctx context.Context, modelID, message string) (result chat.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("generator panicked", "model", modelID, "panic", r)
			result = chat.Failed(modelID, fmt.Sprint(r))
		}
	}()

	result = c.gen.Generate(ctx, modelID, message)
	if result.ModelID != modelID {
		result.ModelID = modelID
	}
	if !result.Valid() {
		if result.Succeeded {
			return chat.Failed(modelID, "model returned an empty response")
		}
		return chat.Failed(modelID, result.Error)
	}
	return result
}

func (c *Coordinator) notify(onResult ResultFunc, index int, result chat.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("result observer panicked", "model", result.ModelID, "panic", r)
		}
	}()
	onResult(index, result)
}

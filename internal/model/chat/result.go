package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownError is reported when a failure carries no message of its own.
const UnknownError = "Unknown error occurred"

// GenerationResult is the outcome of one model call. It is never persisted
// directly: successes become assistant messages, failures stay in the UI.
type GenerationResult struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
}

// Succeeded builds a successful result for modelID.
func Succeeded(modelID, content string) GenerationResult {
	return GenerationResult{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Succeeded: true,
	}
}

// Failed builds a failed result for modelID. A blank description becomes UnknownError.
func Failed(modelID, description string) GenerationResult {
	description = strings.TrimSpace(description)
	if description == "" {
		description = UnknownError
	}
	return GenerationResult{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Timestamp: time.Now().UTC(),
		Error:     description,
	}
}

// Valid reports whether exactly one of the success and failure shapes holds.
func (r GenerationResult) Valid() bool {
	if r.Succeeded {
		return r.Content != "" && r.Error == ""
	}
	return r.Error != "" && r.Content == ""
}

// AsMessage maps a successful result to the assistant turn that persists it.
func (r GenerationResult) AsMessage() (NewMessage, bool) {
	if !r.Succeeded {
		return NewMessage{}, false
	}
	return AssistantTurn(r.ModelID, r.Content), true
}

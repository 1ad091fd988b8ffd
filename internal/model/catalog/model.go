package catalog

import "strings"

// Model is the display metadata for one model identifier.
type Model struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Provider    string `json:"provider" yaml:"provider"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
	// Default marks models preselected for a new conversation.
	Default bool `json:"default,omitempty" yaml:"default,omitempty"`
}

// ProviderOf returns the vendor prefix of a "vendor/model" identifier.
func ProviderOf(id string) string {
	vendor, _, ok := strings.Cut(id, "/")
	if !ok {
		return ""
	}
	return vendor
}

// Seed provides the models offered out of the box.
func Seed() []Model {
	return []Model{
		{
			ID:          "openai/gpt-5-chat",
			Name:        "GPT-5 Chat",
			Provider:    "OpenAI",
			Description: "OpenAI's flagship conversational model",
			Icon:        "🤖",
			Default:     true,
		},
		{
			ID:          "deepseek/deepseek-r1-0528",
			Name:        "DeepSeek R1",
			Provider:    "DeepSeek",
			Description: "Advanced reasoning and coding capabilities",
			Icon:        "🔍",
			Default:     true,
		},
		{
			ID:          "google/gemini-2.5-pro",
			Name:        "Gemini 2.5 Pro",
			Provider:    "Google",
			Description: "Google's latest multimodal model",
			Icon:        "💎",
			Default:     true,
		},
		{
			ID:          "anthropic/claude-sonnet-4",
			Name:        "Claude Sonnet 4",
			Provider:    "Anthropic",
			Description: "Latest Claude model with enhanced capabilities",
			Icon:        "🧠",
			Default:     true,
		},
		{
			ID:          "openai/gpt-4o",
			Name:        "GPT-4o",
			Provider:    "OpenAI",
			Description: "Fast multimodal GPT-4 class model",
			Icon:        "🤖",
		},
		{
			ID:          "meta-llama/llama-3.3-70b-instruct",
			Name:        "Llama 3.3 70B",
			Provider:    "Meta",
			Description: "Open-weight instruction tuned model",
			Icon:        "🦙",
		},
	}
}

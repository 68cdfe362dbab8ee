// Package llm provides the language model providers behind the AI title tier.
package llm

import (
	"context"
	"errors"
	"time"
)

// Provider is the interface for LLM providers (Claude, OpenAI, Gemini).
type Provider interface {
	// Complete sends a prompt and returns the completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name for logging.
	Name() string

	// Model returns the model being used.
	Model() string
}

// CompletionRequest represents a request to the LLM.
type CompletionRequest struct {
	// SystemPrompt is the system/instruction prompt.
	SystemPrompt string

	// UserPrompt is the user's input prompt.
	UserPrompt string

	// MaxTokens is the maximum tokens in the response.
	MaxTokens int

	// Temperature controls randomness (0.0-1.0). Zero is sent as is.
	Temperature float64
}

// CompletionResponse represents a response from the LLM.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Model            string
	FinishReason     string
}

// ProviderType represents supported LLM provider types.
type ProviderType string

const (
	ProviderTypeClaude ProviderType = "claude"
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeGemini ProviderType = "gemini"
)

// IsValid checks if the provider type is valid.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderTypeClaude, ProviderTypeOpenAI, ProviderTypeGemini:
		return true
	}
	return false
}

// Errors
var (
	ErrProviderNotConfigured = errors.New("llm provider not configured")
	ErrInvalidProvider       = errors.New("invalid llm provider")
	ErrRateLimited           = errors.New("llm rate limited")
	ErrInvalidResponse       = errors.New("invalid llm response")
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultMaxTokens  = 64
)

// backoff returns the wait before retry attempt n (n >= 1).
func backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 250 * time.Millisecond
}

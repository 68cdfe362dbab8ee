package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/vulncatalog/internal/config"
)

// NewProvider creates the provider named by the title configuration.
func NewProvider(ctx context.Context, cfg config.TitleConfig) (Provider, error) {
	if !cfg.AIEnabled {
		return nil, fmt.Errorf("%w: AI titles are disabled", ErrProviderNotConfigured)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderTypeClaude, "":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY not configured", ErrProviderNotConfigured)
		}
		return NewClaudeProvider(ClaudeConfig{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.Model,
			Timeout:    timeout,
			MaxRetries: defaultMaxRetries,
		})

	case ProviderTypeOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not configured", ErrProviderNotConfigured)
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.Model,
			Timeout:    timeout,
			MaxRetries: defaultMaxRetries,
		})

	case ProviderTypeGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY not configured", ErrProviderNotConfigured)
		}
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			Timeout: timeout,
		})

	default:
		return nil, fmt.Errorf("%w: unknown provider: %s", ErrInvalidProvider, cfg.Provider)
	}
}

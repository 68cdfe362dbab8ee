package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/internal/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TitleConfig
		wantName string
		wantErr  error
	}{
		{
			name:    "disabled",
			cfg:     config.TitleConfig{AIEnabled: false, AnthropicAPIKey: "k"},
			wantErr: ErrProviderNotConfigured,
		},
		{
			name:     "claude is the default",
			cfg:      config.TitleConfig{AIEnabled: true, AnthropicAPIKey: "k"},
			wantName: "claude",
		},
		{
			name:     "openai",
			cfg:      config.TitleConfig{AIEnabled: true, Provider: "OpenAI", OpenAIAPIKey: "k"},
			wantName: "openai",
		},
		{
			name:    "missing key",
			cfg:     config.TitleConfig{AIEnabled: true, Provider: "openai"},
			wantErr: ErrProviderNotConfigured,
		},
		{
			name:    "gemini without key",
			cfg:     config.TitleConfig{AIEnabled: true, Provider: "gemini"},
			wantErr: ErrProviderNotConfigured,
		},
		{
			name:    "unknown provider",
			cfg:     config.TitleConfig{AIEnabled: true, Provider: "mistral", AnthropicAPIKey: "k"},
			wantErr: ErrInvalidProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestProviderType_IsValid(t *testing.T) {
	assert.True(t, ProviderTypeClaude.IsValid())
	assert.True(t, ProviderTypeGemini.IsValid())
	assert.False(t, ProviderType("azure_openai").IsValid())
}

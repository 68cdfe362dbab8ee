package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiProvider implements the Provider interface for Google's Gemini on
// the generative-ai-go client.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// GeminiConfig holds configuration for Gemini provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGeminiProvider creates a new Gemini provider. Close releases the client.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrProviderNotConfigured)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	p := &GeminiProvider{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if p.model == "" {
		p.model = defaultGeminiModel
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	return p, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return string(ProviderTypeGemini)
}

// Model returns the model being used.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Complete sends a prompt to Gemini and returns the completion.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(float32(req.Temperature))
	model.SetMaxOutputTokens(int32(maxTokens(req.MaxTokens))) //nolint:gosec // small positive value
	if req.SystemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	return geminiCompletion(resp, p.model)
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiCompletion(resp *genai.GenerateContentResponse, model string) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no candidates in response", ErrInvalidResponse)
	}

	cand := resp.Candidates[0]
	var content strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			content.WriteString(string(text))
		}
	}

	out := &CompletionResponse{
		Content:      content.String(),
		Model:        model,
		FinishReason: cand.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

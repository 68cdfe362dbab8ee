package llm

import (
	"cmp"
	"context"
	"fmt"
	"time"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures a chat completions client. BaseURL may point at
// any OpenAI compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIProvider names findings with the chat completions API.
type OpenAIProvider struct {
	headers map[string]string
	model   string
	url     string
	client  jsonClient
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key is required", ErrProviderNotConfigured)
	}
	return &OpenAIProvider{
		headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		model:   cmp.Or(cfg.Model, defaultOpenAIModel),
		url:     cmp.Or(cfg.BaseURL, openAIAPIURL),
		client:  newJSONClient(cfg.Timeout, cfg.MaxRetries),
	}, nil
}

func (p *OpenAIProvider) Name() string  { return string(ProviderTypeOpenAI) }
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends the system prompt, when set, and one user turn. Only the
// first choice is used.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	resp, err := call[openAIResponse](ctx, p.client, p.Name(), p.url, p.headers, openAIRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", ErrInvalidResponse)
	}

	first := resp.Choices[0]
	return &CompletionResponse{
		Content:          first.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            resp.Model,
		FinishReason:     first.FinishReason,
	}, nil
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

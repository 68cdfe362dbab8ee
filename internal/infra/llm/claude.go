package llm

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	claudeAPIURL       = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion   = "2023-06-01"
	defaultClaudeModel = "claude-3-5-haiku-latest"
)

// ClaudeConfig configures the Anthropic Messages API client.
type ClaudeConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// ClaudeProvider names findings with Anthropic's Messages API.
type ClaudeProvider struct {
	headers map[string]string
	model   string
	url     string
	client  jsonClient
}

func NewClaudeProvider(cfg ClaudeConfig) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: claude API key is required", ErrProviderNotConfigured)
	}
	return &ClaudeProvider{
		headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": claudeAPIVersion,
		},
		model:  cmp.Or(cfg.Model, defaultClaudeModel),
		url:    cmp.Or(cfg.BaseURL, claudeAPIURL),
		client: newJSONClient(cfg.Timeout, cfg.MaxRetries),
	}, nil
}

func (p *ClaudeProvider) Name() string  { return string(ProviderTypeClaude) }
func (p *ClaudeProvider) Model() string { return p.model }

// Complete sends one user turn. Text blocks of the answer are concatenated.
func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := call[claudeResponse](ctx, p.client, p.Name(), p.url, p.headers, claudeRequest{
		Model:       p.model,
		MaxTokens:   maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: req.UserPrompt}},
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &CompletionResponse{
		Content:          text.String(),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		Model:            resp.Model,
		FinishReason:     resp.StopReason,
	}, nil
}

// chatMessage is one turn in both the Claude and the OpenAI wire formats.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type claudeResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

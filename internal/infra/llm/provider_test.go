package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Claude Provider Tests
// =============================================================================

func TestNewClaudeProvider(t *testing.T) {
	_, err := NewClaudeProvider(ClaudeConfig{})
	require.ErrorIs(t, err, ErrProviderNotConfigured)

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name())
	assert.Equal(t, defaultClaudeModel, p.Model())
}

func TestClaudeProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))

		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, 32, req.MaxTokens)
		assert.Equal(t, "name it", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "rule: xss", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "Reflected "}, {"type": "text", "text": "XSS"}],
			"model": "claude-test",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`))
	}))
	defer server.Close()

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "name it",
		UserPrompt:   "rule: xss",
		MaxTokens:    32,
	})
	require.NoError(t, err)
	assert.Equal(t, "Reflected XSS", resp.Content)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestClaudeProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "bad model"}}`))
	}))
	defer server.Close()

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), CompletionRequest{UserPrompt: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.EqualError(t, err, "claude API error (400 invalid_request_error): bad model")
}

func TestClaudeProvider_DefaultMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultMaxTokens, req.MaxTokens)
		_, _ = w.Write([]byte(`{"content": [], "model": "m"}`))
	}))
	defer server.Close()

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), CompletionRequest{UserPrompt: "x", MaxTokens: -5})
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
}

// =============================================================================
// OpenAI Provider Tests
// =============================================================================

func TestOpenAIProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {"role": "assistant", "content": "SQL injection in query builder"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 6}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, p.Model())

	resp, err := p.Complete(context.Background(), CompletionRequest{SystemPrompt: "s", UserPrompt: "u"})
	require.NoError(t, err)
	assert.Equal(t, "SQL injection in query builder", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 20, resp.PromptTokens)
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"model": "gpt-test", "choices": []}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), CompletionRequest{UserPrompt: "u"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestOpenAIProvider_UndecodableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html>forbidden</html>`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), CompletionRequest{UserPrompt: "u"})
	assert.EqualError(t, err, "openai API error: status 403")
}

// =============================================================================
// Transport Tests
// =============================================================================

func TestJSONClient_RetriesRateLimitAndServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"ok": true}`))
		}
	}))
	defer server.Close()

	c := newJSONClient(time.Second, 2)
	body, status, err := c.post(context.Background(), server.URL, nil, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok": true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestJSONClient_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newJSONClient(time.Second, 1)
	_, _, err := c.post(context.Background(), server.URL, nil, struct{}{})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), calls.Load())
}

func TestJSONClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newJSONClient(time.Second, 3)
	_, status, err := c.post(context.Background(), server.URL, nil, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJSONClient_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newJSONClient(time.Second, 3)
	_, _, err := c.post(ctx, server.URL, nil, struct{}{})
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Gemini Provider Tests
// =============================================================================

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	require.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestGeminiCompletion(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []genai.Part{genai.Text("Insecure "), genai.Text("deserialization")}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 40, CandidatesTokenCount: 4},
	}

	out, err := geminiCompletion(resp, "gemini-test")
	require.NoError(t, err)
	assert.Equal(t, "Insecure deserialization", out.Content)
	assert.Equal(t, "gemini-test", out.Model)
	assert.Equal(t, 40, out.PromptTokens)
	assert.Equal(t, 4, out.CompletionTokens)

	_, err = geminiCompletion(&genai.GenerateContentResponse{}, "gemini-test")
	require.ErrorIs(t, err, ErrInvalidResponse)
}

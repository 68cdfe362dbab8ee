package llm

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes bounds a provider response body.
const maxResponseBytes = 1 << 20

// jsonClient posts JSON to a provider API with retries on rate limiting,
// server errors and transport failures.
type jsonClient struct {
	httpClient *http.Client
	maxRetries int
}

func newJSONClient(timeout time.Duration, maxRetries int) jsonClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return jsonClient{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// post sends body to url and returns the response body of the last attempt
// together with its status code.
func (c jsonClient) post(ctx context.Context, url string, headers map[string]string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

// APIError is a non-2xx answer from a provider API. Claude and OpenAI share
// the {"error": {"type", "message"}} body shape.
type APIError struct {
	Provider string
	Status   int
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s API error (%d %s): %s", e.Provider, e.Status, e.Type, e.Message)
}

// call posts body and decodes a 200 response into T.
func call[T any](ctx context.Context, c jsonClient, provider, url string, headers map[string]string, body any) (*T, error) {
	raw, status, err := c.post(ctx, url, headers, body)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}

	if status != http.StatusOK {
		apiErr := &APIError{Provider: provider, Status: status}
		var errBody struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil {
			apiErr.Type = errBody.Error.Type
			apiErr.Message = errBody.Error.Message
		}
		return nil, apiErr
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, provider, err)
	}
	return &out, nil
}

func maxTokens(n int) int {
	return cmp.Or(max(n, 0), defaultMaxTokens)
}

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openctemio/vulncatalog/pkg/logger"
)

func TestPathLabel(t *testing.T) {
	assert.Equal(t, "/health", pathLabel("/health"))
	assert.Equal(t, "/ready", pathLabel("/ready"))
	assert.Equal(t, "other", pathLabel("/scan/123"))
}

func TestLogger_SkipsSuccessfulProbes(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Output: &buf})

	h := RequestID(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, buf.String(), `"status":503`)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestRequestID_RejectsOversizedHeader(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", string(bytes.Repeat([]byte("x"), maxRequestIDLen+1)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Len(t, got, 36)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))
}

package metrics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestLogDropped(t *testing.T) {
	warn := LogsDroppedTotal.WithLabelValues("warn")
	before := counterValue(t, warn)

	LogDropped(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "store failed", 0))
	LogDropped(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "store failed", 0))

	assert.Equal(t, before+2, counterValue(t, warn))
}

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	c, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/health", "200")
	require.NoError(t, err)
	before := counterValue(t, c)

	c.Inc()
	assert.Equal(t, before+1, counterValue(t, c))
}

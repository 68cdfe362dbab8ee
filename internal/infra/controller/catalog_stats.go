package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// StatusCounter counts unified vulnerabilities.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[vulnerability.Status]int64, error)
}

// CatalogStatsConfig configures the CatalogStatsController.
type CatalogStatsConfig struct {
	// Interval is how often the counts are refreshed (default: 5m).
	Interval time.Duration
}

// CatalogStatsController publishes the number of open and fixed unified
// vulnerabilities as the vulncatalog_unified_vulnerabilities gauge. It only
// reads the catalog.
type CatalogStatsController struct {
	counter StatusCounter
	config  CatalogStatsConfig
	logger  *logger.Logger
}

// NewCatalogStatsController creates a CatalogStatsController.
func NewCatalogStatsController(counter StatusCounter, cfg CatalogStatsConfig, log *logger.Logger) *CatalogStatsController {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &CatalogStatsController{
		counter: counter,
		config:  cfg,
		logger:  log.With("controller", "catalog-stats"),
	}
}

// Name returns the controller name.
func (c *CatalogStatsController) Name() string {
	return "catalog-stats"
}

// Interval returns the reconciliation interval.
func (c *CatalogStatsController) Interval() time.Duration {
	return c.config.Interval
}

// Reconcile refreshes the gauge. Statuses absent from the store are reported
// as zero. It never changes catalog rows, so it always returns zero items.
func (c *CatalogStatsController) Reconcile(ctx context.Context) (int, error) {
	counts, err := c.counter.CountByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unified vulnerabilities: %w", err)
	}

	for _, status := range []vulnerability.Status{vulnerability.StatusOpen, vulnerability.StatusFixed} {
		metrics.UnifiedByStatus.WithLabelValues(status.String()).Set(float64(counts[status]))
	}

	c.logger.Debug("catalog stats refreshed",
		"open", counts[vulnerability.StatusOpen],
		"fixed", counts[vulnerability.StatusFixed],
	)
	return 0, nil
}

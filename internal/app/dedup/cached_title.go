package dedup

import (
	"context"
	"errors"
	"strings"

	"github.com/openctemio/vulncatalog/internal/infra/redis"
	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// TitleCache stores generated titles across batches. *redis.Cache[string]
// satisfies it; Get reports an absent key with redis.ErrCacheMiss.
type TitleCache interface {
	Get(ctx context.Context, key string) (*string, error)
	Set(ctx context.Context, key string, value string) error
}

// CachedTitleGenerator remembers AI titles per rule so repeated scans do not
// pay for the same call. Cache failures never fail a title.
type CachedTitleGenerator struct {
	next   TitleGenerator
	cache  TitleCache
	logger *logger.Logger
}

// NewCachedTitleGenerator wraps next with cache.
func NewCachedTitleGenerator(next TitleGenerator, cache TitleCache, log *logger.Logger) *CachedTitleGenerator {
	return &CachedTitleGenerator{
		next:   next,
		cache:  cache,
		logger: log.With("component", "title_cache"),
	}
}

// TitleCacheKey identifies a rule independently of the scan that reported it.
func TitleCacheKey(tc TitleContext) string {
	return strings.Join([]string{
		string(tc.ScannerType),
		tc.NormalizedRuleID,
		strings.ToLower(tc.PackageName),
	}, "|")
}

// GenerateTitle implements TitleGenerator.
func (g *CachedTitleGenerator) GenerateTitle(ctx context.Context, tc TitleContext) (string, error) {
	key := TitleCacheKey(tc)

	cached, err := g.cache.Get(ctx, key)
	switch {
	case err == nil && cached != nil && *cached != "":
		metrics.TitleCacheTotal.WithLabelValues("hit").Inc()
		return *cached, nil
	case err == nil, errors.Is(err, redis.ErrCacheMiss):
		metrics.TitleCacheTotal.WithLabelValues("miss").Inc()
	default:
		metrics.TitleCacheTotal.WithLabelValues("error").Inc()
		g.logger.Warn("title cache get failed", "key", key, "error", err)
	}

	title, err := g.next.GenerateTitle(ctx, tc)
	if err != nil {
		return "", err
	}

	// Only titles that survive sanitization are worth remembering.
	if clean := CollapseSelfDuplication(SanitizeGeneratedTitle(title)); clean != "" {
		if err := g.cache.Set(ctx, key, clean); err != nil {
			g.logger.Warn("title cache set failed", "key", key, "error", err)
		}
	}

	return title, nil
}

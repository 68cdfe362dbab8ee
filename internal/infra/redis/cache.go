package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a cached item is not found.
var ErrCacheMiss = errors.New("cache: key not found")

// maxRawKeyLength is the longest caller key stored verbatim. Longer keys,
// such as rule ids with embedded paths, are replaced by their SHA-256.
const maxRawKeyLength = 200

// Cache stores JSON encoded values of type T under a key prefix with a fixed
// TTL.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache. The prefix also labels its metrics.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case prefix == "":
		return nil, errors.New("key prefix is required")
	case ttl <= 0:
		return nil, errors.New("TTL must be positive")
	}
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}, nil
}

// BuildKey returns the Redis key a caller key is stored under.
func BuildKey(prefix, key string) string {
	if len(key) > maxRawKeyLength {
		sum := sha256.Sum256([]byte(key))
		key = "sha256:" + hex.EncodeToString(sum[:])
	}
	return prefix + ":" + key
}

// Get returns the cached value or ErrCacheMiss. An entry that no longer
// decodes into T counts as a miss.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	start := time.Now()
	data, err := c.client.rdb.Get(ctx, BuildKey(c.prefix, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		observe("get", start, nil)
		cacheRequests.WithLabelValues(c.prefix, "miss").Inc()
		return nil, ErrCacheMiss
	case err != nil:
		observe("get", start, err)
		cacheRequests.WithLabelValues(c.prefix, "error").Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}
	observe("get", start, nil)

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.client.logger.Warn("dropping undecodable cache entry", "prefix", c.prefix, "error", err)
		cacheRequests.WithLabelValues(c.prefix, "miss").Inc()
		return nil, ErrCacheMiss
	}
	cacheRequests.WithLabelValues(c.prefix, "hit").Inc()
	return &value, nil
}

// Set stores value for the cache TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	if key == "" {
		return errors.New("key is required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}

	start := time.Now()
	err = c.client.rdb.Set(ctx, BuildKey(c.prefix, key), data, c.ttl).Err()
	observe("set", start, err)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Prefix returns the key prefix for this cache.
func (c *Cache[T]) Prefix() string {
	return c.prefix
}

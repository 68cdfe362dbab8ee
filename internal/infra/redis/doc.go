// Package redis connects vulncatalog to Redis, which holds the cache of
// AI generated titles.
//
// A Cache[T] stores JSON values under a prefix with a fixed TTL:
//
//	client, err := redis.New(ctx, &cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	titles, err := redis.NewCache[string](client, "vulncatalog:titles", cfg.Title.CacheTTL)
//
// Get returns ErrCacheMiss when a key is absent, so callers can tell a miss
// from an unavailable server. Register a PoolCollector to export connection
// pool statistics.
package redis

package redis

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/vulncatalog/internal/config"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

const defaultDialTimeout = 5 * time.Second

// Client is a connected Redis client. It backs the AI title cache; the job
// queue opens its own connections with the same settings.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// Options translates the configuration into go-redis options.
func Options(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed test servers
			MinVersion:         tls.VersionTLS12,
		}
	}
	return opts
}

// New connects to Redis and waits until it answers PING, retrying with
// exponential backoff up to cfg.MaxRetries times.
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	log = log.With("component", "redis")

	rdb := redis.NewClient(Options(cfg))
	if err := ping(ctx, rdb, cfg, log); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info("redis connected", "addr", cfg.Addr(), "pool_size", cfg.PoolSize, "tls", cfg.TLSEnabled)
	return &Client{rdb: rdb, logger: log}, nil
}

func ping(ctx context.Context, rdb *redis.Client, cfg *config.RedisConfig, log *logger.Logger) error {
	timeout := cmp.Or(cfg.DialTimeout, defaultDialTimeout)
	var err error
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil || attempt >= cfg.MaxRetries {
			break
		}

		backoff := min(cfg.MinRetryDelay*time.Duration(1<<attempt), cfg.MaxRetryDelay)
		log.Warn("redis connection failed, retrying",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connection aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.rdb.Close()
}

// Ping checks if Redis is available. It makes Client a readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

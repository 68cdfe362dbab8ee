package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/internal/config"
	"github.com/openctemio/vulncatalog/internal/infra/fetchers"
	"github.com/openctemio/vulncatalog/internal/infra/llm"
	"github.com/openctemio/vulncatalog/internal/infra/postgres"
	"github.com/openctemio/vulncatalog/internal/infra/redis"
	"github.com/openctemio/vulncatalog/internal/infra/telemetry"
	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// titleCachePrefix namespaces AI titles in Redis.
const titleCachePrefix = "vulncatalog:title"

// appEnv holds the configuration, logger and opened resources of one command
// run. Resources are released in reverse order by Close.
type appEnv struct {
	cfg     *config.Config
	log     *logger.Logger
	redis   *redis.Client
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// newAppEnv loads configuration and builds the logger.
func newAppEnv() (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if err := validateOutput(flagOutput); err != nil {
		return nil, err
	}

	return &appEnv{cfg: cfg, log: initLogger(cfg)}, nil
}

func initLogger(cfg *config.Config) *logger.Logger {
	//nolint:gosec // G115: value validated non-negative in config.Validate()
	threshold := uint64(cfg.Log.SamplingThreshold)
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Sampling: logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
			ErrorRate: cfg.Log.ErrorSamplingRate,
			OnDropped: metrics.LogDropped,
		},
	})
	log.SetDefault()
	return log
}

func (e *appEnv) onClose(name string, fn func() error) {
	e.closers = append(e.closers, namedCloser{name: name, close: fn})
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if err := c.close(); err != nil {
			e.log.Error("failed to close "+c.name, "error", err)
		}
	}
	e.closers = nil
}

// startTelemetry installs tracing and registers its flush on Close.
func (e *appEnv) startTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, e.cfg.Telemetry, version, e.log)
	if err != nil {
		return err
	}
	e.onClose("telemetry", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

func (e *appEnv) openDB(ctx context.Context) (*postgres.DB, error) {
	db, err := postgres.New(ctx, &e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e.onClose("database", db.Close)
	e.log.Info("database connected")
	return db, nil
}

// openRedis connects once and reuses the client for later callers.
func (e *appEnv) openRedis(ctx context.Context) (*redis.Client, error) {
	if e.redis != nil {
		return e.redis, nil
	}
	client, err := redis.New(ctx, &e.cfg.Redis, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	e.onClose("redis", client.Close)
	e.redis = client
	return client, nil
}

// newService wires the repositories and, when enabled, the AI title tier.
func (e *appEnv) newService(ctx context.Context, db *postgres.DB) (*dedup.Service, error) {
	svc := dedup.NewService(
		postgres.NewUnifiedRepository(db),
		postgres.NewInstanceRepository(db),
		postgres.NewScanSessionRepository(db),
		dedup.Config{
			Concurrency:     e.cfg.Dedup.Concurrency,
			InsertChunkSize: e.cfg.Dedup.InsertChunkSize,
			ReopenFixed:     e.cfg.Dedup.ReopenFixed,
			TitleTimeout:    e.cfg.Dedup.TitleTimeout,
		},
		e.log,
	)

	gen, err := e.newTitleGenerator(ctx)
	if err != nil {
		return nil, err
	}
	if gen != nil {
		svc.SetTitleGenerator(gen)
	}
	return svc, nil
}

// newTitleGenerator returns nil when AI titles are disabled. Generated
// titles are cached in Redis; without Redis the generator runs uncached.
func (e *appEnv) newTitleGenerator(ctx context.Context) (dedup.TitleGenerator, error) {
	if !e.cfg.Title.AIEnabled {
		return nil, nil
	}

	provider, err := llm.NewProvider(ctx, e.cfg.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create title provider: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		e.onClose("title provider", c.Close)
	}

	var gen dedup.TitleGenerator = llm.NewTitleGenerator(provider, llm.TitleGeneratorConfig{
		RateLimitRPM: e.cfg.Title.RateLimitRPM,
		MaxTokens:    e.cfg.Title.MaxTokens,
		Temperature:  e.cfg.Title.Temperature,
	}, e.log)

	if e.cfg.Title.CacheTTL > 0 {
		client, err := e.openRedis(ctx)
		if err != nil {
			e.log.Warn("title cache unavailable, AI titles are not cached", "error", err)
		} else {
			cache, err := redis.NewCache[string](client, titleCachePrefix, e.cfg.Title.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("failed to create title cache: %w", err)
			}
			gen = dedup.NewCachedTitleGenerator(gen, cache, e.log)
		}
	}

	e.log.Info("AI titles enabled",
		"provider", provider.Name(),
		"model", provider.Model(),
		"cache_ttl", e.cfg.Title.CacheTTL,
	)
	return gen, nil
}

// newLoader builds the batch loader with the remote sources that are enabled.
func (e *appEnv) newLoader(ctx context.Context) (*fetchers.Loader, error) {
	st := e.cfg.Storage
	var opts []fetchers.LoaderOption

	if st.S3Enabled {
		s3, err := fetchers.NewS3Fetcher(ctx, fetchers.S3Config{
			Bucket:     st.S3Bucket,
			Region:     st.S3Region,
			Endpoint:   st.S3Endpoint,
			AuthType:   st.S3AuthType,
			AccessKey:  st.S3AccessKey,
			SecretKey:  st.S3SecretKey,
			RoleARN:    st.S3RoleARN,
			ExternalID: st.S3ExternalID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 fetcher: %w", err)
		}
		opts = append(opts, fetchers.WithS3Fetcher(s3))
	}
	if st.HTTPEnabled {
		opts = append(opts, fetchers.WithHTTPFetcher(fetchers.NewHTTPFetcher(fetchers.HTTPConfig{
			Timeout: st.HTTPTimeout,
		})))
	}

	return fetchers.NewLoader(fetchers.LoaderConfig{MaxBytes: st.MaxBatchBytes}, e.log, opts...), nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/vulncatalog/pkg/crypto"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Dedup     DedupConfig
	Title     TitleConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration. Redis backs both the job queue and
// the AI title cache.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SamplingEnabled   bool
	SamplingThreshold int
	SamplingRate      float64
	ErrorSamplingRate float64
}

// DedupConfig tunes batch processing.
type DedupConfig struct {
	// Concurrency bounds parallel title and fingerprint computation.
	Concurrency int
	// InsertChunkSize is the number of rows per batched insert.
	InsertChunkSize int
	// ReopenFixed moves fixed vulnerabilities back to open when they are
	// seen again. Off by default.
	ReopenFixed bool
	// TitleTimeout bounds a single AI title call.
	TitleTimeout time.Duration
}

// TitleConfig configures the AI title tier.
type TitleConfig struct {
	AIEnabled       bool
	Provider        string // "claude", "openai" or "gemini"
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	TimeoutSeconds  int
	MaxTokens       int
	Temperature     float64
	RateLimitRPM    int
	CacheTTL        time.Duration
}

// APIKey returns the key of the configured provider.
func (c *TitleConfig) APIKey() string {
	switch strings.ToLower(c.Provider) {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

// WorkerConfig configures the background worker.
type WorkerConfig struct {
	Concurrency   int
	Queue         string
	HTTPAddr      string
	SweepEnabled  bool
	SweepSchedule string
	SweepLookback time.Duration

	// StatsInterval is how often the catalog gauges are refreshed. Zero
	// disables the catalog-stats controller.
	StatsInterval time.Duration
}

// StorageConfig configures remote batch document storage.
type StorageConfig struct {
	S3Enabled bool
	// S3Bucket, when set, is the only bucket batch documents are read from.
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3AuthType   string // "default", "static" or "role"
	S3AccessKey  string
	S3SecretKey  string
	S3RoleARN    string
	S3ExternalID string

	// HTTPEnabled allows batch documents at http(s) URLs, such as pre-signed
	// object links. Private network addresses are always refused.
	HTTPEnabled bool
	HTTPTimeout time.Duration

	// MaxBatchBytes bounds a decompressed batch document.
	MaxBatchBytes int64
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
	SampleRatio  float64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "vulncatalog"),
			Env:   getEnv("APP_ENV", EnvDevelopment),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "vulncatalog"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "vulncatalog"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingRate:      getEnvFloat("LOG_SAMPLING_RATE", 0.1),
			ErrorSamplingRate: getEnvFloat("LOG_ERROR_SAMPLING_RATE", 1.0),
		},
		Dedup: DedupConfig{
			Concurrency:     getEnvInt("DEDUP_CONCURRENCY", 8),
			InsertChunkSize: getEnvInt("DEDUP_INSERT_CHUNK_SIZE", 100),
			ReopenFixed:     getEnvBool("DEDUP_REOPEN_FIXED", false),
			TitleTimeout:    getEnvDuration("DEDUP_TITLE_TIMEOUT", 10*time.Second),
		},
		Title: TitleConfig{
			AIEnabled:       getEnvBool("TITLE_AI_ENABLED", false),
			Provider:        getEnv("TITLE_AI_PROVIDER", "claude"),
			Model:           getEnv("TITLE_AI_MODEL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			TimeoutSeconds:  getEnvInt("TITLE_AI_TIMEOUT_SECONDS", 30),
			MaxTokens:       getEnvInt("TITLE_AI_MAX_TOKENS", 64),
			Temperature:     getEnvFloat("TITLE_AI_TEMPERATURE", 0.0),
			RateLimitRPM:    getEnvInt("TITLE_AI_RATE_LIMIT_RPM", 120),
			CacheTTL:        getEnvDuration("TITLE_AI_CACHE_TTL", 7*24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
			Queue:         getEnv("WORKER_QUEUE", "dedup"),
			HTTPAddr:      getEnv("WORKER_HTTP_ADDR", ":9102"),
			SweepEnabled:  getEnvBool("WORKER_SWEEP_ENABLED", true),
			SweepSchedule: getEnv("WORKER_SWEEP_SCHEDULE", "@every 15m"),
			SweepLookback: getEnvDuration("WORKER_SWEEP_LOOKBACK", 24*time.Hour),
			StatsInterval: getEnvDuration("WORKER_STATS_INTERVAL", 5*time.Minute),
		},
		Storage: StorageConfig{
			S3Enabled:     getEnvBool("STORAGE_S3_ENABLED", false),
			S3Bucket:      getEnv("STORAGE_S3_BUCKET", ""),
			S3Region:      getEnv("STORAGE_S3_REGION", "us-east-1"),
			S3Endpoint:    getEnv("STORAGE_S3_ENDPOINT", ""),
			S3AuthType:    getEnv("STORAGE_S3_AUTH_TYPE", "default"),
			S3AccessKey:   getEnv("STORAGE_S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("STORAGE_S3_SECRET_KEY", ""),
			S3RoleARN:     getEnv("STORAGE_S3_ROLE_ARN", ""),
			S3ExternalID:  getEnv("STORAGE_S3_EXTERNAL_ID", ""),
			HTTPEnabled:   getEnvBool("STORAGE_HTTP_ENABLED", false),
			HTTPTimeout:   getEnvDuration("STORAGE_HTTP_TIMEOUT", 60*time.Second),
			MaxBatchBytes: getEnvInt64("STORAGE_MAX_BATCH_BYTES", 256<<20),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "vulncatalog"),
			SampleRatio:  getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.openSecrets(os.Getenv("APP_ENCRYPTION_KEY")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openSecrets decrypts secret settings sealed with "vulncatalog encrypt-secret".
// Plain values are left untouched; a sealed value without a key is an error.
func (c *Config) openSecrets(key string) error {
	secrets := map[string]*string{
		"DB_PASSWORD":           &c.Database.Password,
		"REDIS_PASSWORD":        &c.Redis.Password,
		"ANTHROPIC_API_KEY":     &c.Title.AnthropicAPIKey,
		"OPENAI_API_KEY":        &c.Title.OpenAIAPIKey,
		"GEMINI_API_KEY":        &c.Title.GeminiAPIKey,
		"STORAGE_S3_SECRET_KEY": &c.Storage.S3SecretKey,
	}

	var cipher *crypto.Cipher
	for name, value := range secrets {
		if !crypto.IsSealed(*value) {
			continue
		}
		if cipher == nil {
			if key == "" {
				return fmt.Errorf("%s is encrypted but APP_ENCRYPTION_KEY is not set", name)
			}
			var err error
			if cipher, err = crypto.NewCipherFromString(key); err != nil {
				return fmt.Errorf("APP_ENCRYPTION_KEY: %w", err)
			}
		}
		plain, err := cipher.Open(*value)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", name, err)
		}
		*value = plain
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateDedup(); err != nil {
		return err
	}
	if err := c.validateTitle(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Telemetry.SampleRatio < 0.0 || c.Telemetry.SampleRatio > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0.0 and 1.0, got %f", c.Telemetry.SampleRatio)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.StatsInterval < 0 {
		return fmt.Errorf("WORKER_STATS_INTERVAL must not be negative, got %s", c.Worker.StatsInterval)
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0.0 || c.Log.ErrorSamplingRate > 1.0 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	return nil
}

func (c *Config) validateDedup() error {
	if c.Dedup.InsertChunkSize < 1 || c.Dedup.InsertChunkSize > 1000 {
		return fmt.Errorf("DEDUP_INSERT_CHUNK_SIZE must be between 1 and 1000, got %d", c.Dedup.InsertChunkSize)
	}
	if c.Dedup.Concurrency < 1 || c.Dedup.Concurrency > 256 {
		return fmt.Errorf("DEDUP_CONCURRENCY must be between 1 and 256, got %d", c.Dedup.Concurrency)
	}
	if c.Dedup.TitleTimeout <= 0 {
		return fmt.Errorf("DEDUP_TITLE_TIMEOUT must be positive, got %v", c.Dedup.TitleTimeout)
	}
	return nil
}

func (c *Config) validateTitle() error {
	if !c.Title.AIEnabled {
		return nil
	}
	switch strings.ToLower(c.Title.Provider) {
	case "claude", "openai", "gemini":
	default:
		return fmt.Errorf("invalid TITLE_AI_PROVIDER: %s (must be claude, openai, or gemini)", c.Title.Provider)
	}
	if c.Title.APIKey() == "" {
		return fmt.Errorf("API key for title provider %s is required when TITLE_AI_ENABLED is set", c.Title.Provider)
	}
	if c.Title.Temperature < 0.0 || c.Title.Temperature > 1.0 {
		return fmt.Errorf("TITLE_AI_TEMPERATURE must be between 0.0 and 1.0, got %f", c.Title.Temperature)
	}
	if c.Title.RateLimitRPM < 0 {
		return fmt.Errorf("TITLE_AI_RATE_LIMIT_RPM must be non-negative, got %d", c.Title.RateLimitRPM)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.S3AuthType {
	case "", "default":
	case "static":
		if c.Storage.S3AccessKey == "" || c.Storage.S3SecretKey == "" {
			return fmt.Errorf("STORAGE_S3_ACCESS_KEY and STORAGE_S3_SECRET_KEY are required for static auth")
		}
	case "role":
		if c.Storage.S3RoleARN == "" {
			return fmt.Errorf("STORAGE_S3_ROLE_ARN is required for role auth")
		}
	default:
		return fmt.Errorf("invalid STORAGE_S3_AUTH_TYPE: %s (must be default, static, or role)", c.Storage.S3AuthType)
	}
	if c.Storage.MaxBatchBytes <= 0 {
		return fmt.Errorf("STORAGE_MAX_BATCH_BYTES must be positive, got %d", c.Storage.MaxBatchBytes)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if strings.EqualFold(c.Log.Level, "debug") {
		return fmt.Errorf("LOG_LEVEL=debug is not allowed in production")
	}
	if c.App.Debug {
		return fmt.Errorf("APP_DEBUG must be false in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("DB_SSLMODE=disable is not allowed in production")
	}
	if c.Redis.DialTimeout < time.Second {
		return fmt.Errorf("redis dial timeout too short: %v (min 1s)", c.Redis.DialTimeout)
	}
	if c.Redis.MaxRetries < 1 || c.Redis.MaxRetries > 10 {
		return fmt.Errorf("redis max retries must be between 1 and 10, got %d", c.Redis.MaxRetries)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

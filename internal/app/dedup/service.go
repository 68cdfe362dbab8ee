package dedup

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/vulncatalog/pkg/domain/scansession"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/logger"
	"github.com/openctemio/vulncatalog/pkg/validator"
)

const tracerName = "github.com/openctemio/vulncatalog/internal/app/dedup"

// Config tunes batch processing.
type Config struct {
	// Concurrency bounds parallel per-finding computation.
	Concurrency int
	// InsertChunkSize is the number of rows per batched insert.
	InsertChunkSize int
	// ReopenFixed moves fixed vulnerabilities back to open when a batch sees
	// them again.
	ReopenFixed bool
	// TitleTimeout bounds one AI title call.
	TitleTimeout time.Duration
}

// DefaultConfig returns the default processing configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency,
		InsertChunkSize: DefaultInsertChunkSize,
		TitleTimeout:    DefaultTitleTimeout,
	}
}

// Service is the deduplication engine. It is safe for concurrent use; all
// per-batch state lives in the ProcessBatch call.
type Service struct {
	unifiedRepo  vulnerability.UnifiedRepository
	instanceRepo vulnerability.InstanceRepository
	scanRepo     scansession.Repository
	titleGen     TitleGenerator
	validator    *validator.Validator
	cfg          Config
	now          func() time.Time
	tracer       trace.Tracer
	logger       *logger.Logger
}

// NewService creates a new deduplication service.
func NewService(
	unifiedRepo vulnerability.UnifiedRepository,
	instanceRepo vulnerability.InstanceRepository,
	scanRepo scansession.Repository,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.InsertChunkSize <= 0 {
		cfg.InsertChunkSize = DefaultInsertChunkSize
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = DefaultTitleTimeout
	}
	return &Service{
		unifiedRepo:  unifiedRepo,
		instanceRepo: instanceRepo,
		scanRepo:     scanRepo,
		validator:    validator.New(),
		cfg:          cfg,
		now:          time.Now,
		tracer:       otel.Tracer(tracerName),
		logger:       log.With("service", "dedup"),
	}
}

// SetTitleGenerator enables the AI title tier.
func (s *Service) SetTitleGenerator(gen TitleGenerator) {
	s.titleGen = gen
}

// SetClock overrides the clock used when a batch carries no timestamp.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// NewTitleNormalizer returns a normalizer configured like the one used for batches.
func (s *Service) NewTitleNormalizer() *TitleNormalizer {
	return NewTitleNormalizer(s.titleGen, s.cfg.TitleTimeout, s.logger)
}

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// SweeperConfig holds configuration for the resolution sweeper.
type SweeperConfig struct {
	// Enabled controls whether the sweeper runs (default: true)
	Enabled bool

	// Schedule is a cron expression or descriptor (default: "@every 15m")
	Schedule string

	// Lookback limits the sweep to scans completed this recently (default: 24h)
	Lookback time.Duration

	// RunTimeout bounds one sweep (default: 5m)
	RunTimeout time.Duration
}

// DefaultSweeperConfig returns default configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:    true,
		Schedule:   "@every 15m",
		Lookback:   24 * time.Hour,
		RunTimeout: 5 * time.Minute,
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Repositories int
	Fixed        int
	Errors       int
}

// ResolutionSweeper periodically re-runs ResolveVanished for the latest
// completed scan of every recently scanned repository. It catches scans whose
// lifecycle never asked for auto-resolution.
type ResolutionSweeper struct {
	service *Service
	config  SweeperConfig
	cron    *cron.Cron
	logger  *logger.Logger
}

// NewResolutionSweeper creates a sweeper. The schedule is validated here.
func NewResolutionSweeper(service *Service, cfg SweeperConfig, log *logger.Logger) (*ResolutionSweeper, error) {
	def := DefaultSweeperConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}

	sw := &ResolutionSweeper{
		service: service,
		config:  cfg,
		logger:  log.With("component", "resolution_sweeper"),
	}

	cl := cronLogger{log: sw.logger}
	sw.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := sw.cron.AddFunc(cfg.Schedule, sw.tick); err != nil {
		return nil, shared.NewDomainError("VALIDATION", fmt.Sprintf("invalid sweep schedule %q: %v", cfg.Schedule, err), shared.ErrValidation)
	}

	return sw, nil
}

// Start starts the sweeper.
func (sw *ResolutionSweeper) Start() {
	if !sw.config.Enabled {
		sw.logger.Info("resolution sweeper disabled")
		return
	}
	sw.cron.Start()
	sw.logger.Info("resolution sweeper started",
		"schedule", sw.config.Schedule,
		"lookback", sw.config.Lookback,
	)
}

// Stop stops the sweeper and waits for a running sweep to finish.
// Safe to call even if Start was never called.
func (sw *ResolutionSweeper) Stop() {
	if !sw.config.Enabled {
		return
	}
	<-sw.cron.Stop().Done()
	sw.logger.Info("resolution sweeper stopped")
}

func (sw *ResolutionSweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sw.config.RunTimeout)
	defer cancel()

	if _, err := sw.RunOnce(ctx); err != nil {
		sw.logger.Error("resolution sweep failed", "error", err)
	}
}

// RunOnce performs one sweep. A failure for one repository does not stop the
// sweep; only failing to list scans is returned as an error.
func (sw *ResolutionSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	since := sw.service.now().Add(-sw.config.Lookback)
	sessions, err := sw.service.scanRepo.ListLatestCompleted(ctx, since)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("failed to list completed scans: %w", err)
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		result.Repositories++

		res, err := sw.service.ResolveVanished(ctx, sess.RepositoryID, sess.ID)
		if err != nil {
			result.Errors++
			sw.logger.Warn("auto-resolution failed",
				"repository_id", sess.RepositoryID,
				"scan_id", sess.ID,
				"error", err,
			)
			continue
		}
		result.Fixed += res.FixedCount
	}

	metrics.SweepRunsTotal.WithLabelValues("success").Inc()
	if result.Fixed > 0 || result.Errors > 0 {
		sw.logger.Info("resolution sweep complete",
			"repositories", result.Repositories,
			"fixed", result.Fixed,
			"errors", result.Errors,
		)
	}

	return result, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// preparedFinding is a raw finding with its identity and title resolved.
type preparedFinding struct {
	index       int
	finding     *vulnerability.RawFinding
	fingerprint string
	title       TitleResult
}

// ProcessBatch folds the findings of one completed scan into the catalog.
//
// Only the fingerprint existence lookup is fatal. Write failures are retried
// row by row, unique conflicts are reconciled by re-reading, and everything
// else is counted in the returned stats. Running the same batch again
// converges to the same end state.
func (s *Service) ProcessBatch(ctx context.Context, batch ScanBatch) (stats *ProcessingStats, err error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "dedup.ProcessBatch", trace.WithAttributes(
		attribute.String("scan_id", batch.ScanID),
		attribute.String("repository_id", batch.RepositoryID),
		attribute.Int("findings", len(batch.Findings)),
	))
	defer func() {
		recordBatch(stats, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if verr := s.validator.Validate(batch); verr != nil {
		return nil, fmt.Errorf("%w: invalid scan batch: %w", shared.ErrValidation, verr)
	}

	now := batch.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	log := s.logger.With("scan_id", batch.ScanID, "repository_id", batch.RepositoryID)
	stats = &ProcessingStats{FindingsTotal: len(batch.Findings)}
	if len(batch.Findings) == 0 {
		return stats, nil
	}

	// Step 1: fingerprint and title every finding
	items := s.prepare(ctx, batch)
	countTitles(items, stats)

	// Step 2: batch check existing fingerprints
	fingerprints := distinctFingerprints(items)
	existing, err := s.unifiedRepo.GetIDsByFingerprints(ctx, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("failed to check fingerprints: %w", err)
	}

	log.Debug("fingerprint check complete",
		"total", len(fingerprints),
		"existing", len(existing),
	)

	// Step 3: separate new vs existing fingerprints
	ids := make(map[string]shared.ID, len(fingerprints))
	bump := make([]string, 0, len(existing))
	queued := make(map[string]bool)
	newRows := make([]*vulnerability.UnifiedVulnerability, 0)

	for _, it := range items {
		if id, ok := existing[it.fingerprint]; ok {
			if _, seen := ids[it.fingerprint]; !seen {
				ids[it.fingerprint] = id
				bump = append(bump, it.fingerprint)
			}
			continue
		}
		if queued[it.fingerprint] {
			continue
		}
		queued[it.fingerprint] = true
		newRows = append(newRows, vulnerability.NewUnifiedVulnerability(
			it.fingerprint, it.title.Title, batch.RepositoryID, batch.WorkspaceID, it.finding, now,
		))
	}

	// Step 4: create new unified vulnerabilities
	adopted, failed := s.createUnified(ctx, log, newRows, ids, stats)
	bump = append(bump, adopted...)

	// Step 5: bump existing and adopted unified vulnerabilities
	s.touchUnified(ctx, log, bump, now, stats)
	if s.cfg.ReopenFixed {
		s.reopenUnified(ctx, log, bump, now, stats)
	}

	// Step 6: record one instance per occurrence
	instances := s.buildInstances(batch, items, ids, failed, now, stats)
	s.createInstances(ctx, log, instances, stats)

	stats.DurationMs = time.Since(start).Milliseconds()

	log.Info("scan batch processed",
		"findings", stats.FindingsTotal,
		"findings_skipped", stats.FindingsSkipped,
		"unified_created", stats.UnifiedCreated,
		"unified_updated", stats.UnifiedUpdated,
		"instances_created", stats.InstancesCreated,
		"instances_already_existed", stats.InstancesAlreadyExisted,
		"titles_from_ai", stats.TitlesFromAI,
		"title_errors", stats.TitleErrors,
		"duration_ms", stats.DurationMs,
	)

	return stats, nil
}

// prepare computes fingerprint and title of every finding in parallel. Each
// goroutine writes only its own slot.
func (s *Service) prepare(ctx context.Context, batch ScanBatch) []preparedFinding {
	normalizer := s.NewTitleNormalizer()
	items := make([]preparedFinding, len(batch.Findings))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range batch.Findings {
		f := &batch.Findings[i]
		g.Go(func() error {
			items[i] = preparedFinding{
				index:       i,
				finding:     f,
				fingerprint: fingerprint.Resolve(f, batch.RepositoryID),
				title:       normalizer.Normalize(ctx, f),
			}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

func countTitles(items []preparedFinding, stats *ProcessingStats) {
	for _, it := range items {
		switch it.title.Tier {
		case TierAI:
			stats.TitlesFromAI++
		case TierLiteral:
			stats.TitlesFromLiteral++
			stats.TitlesFromFallback++
		default:
			stats.TitlesFromFallback++
		}
		metrics.TitlesTotal.WithLabelValues(it.title.Tier.String()).Inc()

		if it.title.Cached {
			continue
		}
		for _, terr := range it.title.Errors {
			stats.TitleErrors++
			metrics.TitleErrorsTotal.WithLabelValues(terr.Tier.String()).Inc()
		}
	}
}

func distinctFingerprints(items []preparedFinding) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.fingerprint] {
			seen[it.fingerprint] = true
			out = append(out, it.fingerprint)
		}
	}
	return out
}

// createUnified inserts new rows chunk by chunk, replaying a failed chunk row
// by row. Fingerprints that lost a race to another batch are adopted and
// returned for bumping; fingerprints that could not be stored are returned
// as failed.
func (s *Service) createUnified(
	ctx context.Context,
	log *logger.Logger,
	rows []*vulnerability.UnifiedVulnerability,
	ids map[string]shared.ID,
	stats *ProcessingStats,
) (adopted []string, failed map[string]bool) {
	failed = make(map[string]bool)

	for _, chunk := range chunks(rows, s.cfg.InsertChunkSize) {
		err := s.unifiedRepo.CreateBatch(ctx, chunk)
		if err == nil {
			for _, v := range chunk {
				ids[v.Fingerprint] = v.ID
			}
			stats.UnifiedCreated += len(chunk)
			metrics.UnifiedTotal.WithLabelValues("created").Add(float64(len(chunk)))
			continue
		}

		log.Warn("batch insert of unified vulnerabilities failed, retrying individually",
			"rows", len(chunk),
			"error", err,
		)

		for _, v := range chunk {
			err := s.unifiedRepo.Create(ctx, v)
			switch {
			case err == nil:
				ids[v.Fingerprint] = v.ID
				stats.UnifiedCreated++
				metrics.UnifiedTotal.WithLabelValues("created").Inc()

			case errors.Is(err, shared.ErrAlreadyExists):
				id, lookupErr := s.lookupFingerprint(ctx, v.Fingerprint)
				if lookupErr != nil {
					failed[v.Fingerprint] = true
					stats.UnifiedErrors++
					metrics.UnifiedTotal.WithLabelValues("error").Inc()
					log.Error("failed to adopt concurrently created unified vulnerability",
						"fingerprint", v.Fingerprint,
						"error", lookupErr,
					)
					continue
				}
				ids[v.Fingerprint] = id
				adopted = append(adopted, v.Fingerprint)
				metrics.UnifiedTotal.WithLabelValues("adopted").Inc()

			default:
				failed[v.Fingerprint] = true
				stats.UnifiedErrors++
				metrics.UnifiedTotal.WithLabelValues("error").Inc()
				log.Error("unified vulnerability insert failed",
					"fingerprint", v.Fingerprint,
					"rule_id", v.RuleID,
					"error", err,
				)
			}
		}
	}

	return adopted, failed
}

func (s *Service) lookupFingerprint(ctx context.Context, fp string) (shared.ID, error) {
	found, err := s.unifiedRepo.GetIDsByFingerprints(ctx, []string{fp})
	if err != nil {
		return shared.ID{}, err
	}
	id, ok := found[fp]
	if !ok || id.IsZero() {
		return shared.ID{}, fmt.Errorf("fingerprint %s reported as existing but not found: %w", fp, shared.ErrNotFound)
	}
	return id, nil
}

// touchUnified bumps last_seen_at in one statement, falling back to one
// statement per fingerprint.
func (s *Service) touchUnified(ctx context.Context, log *logger.Logger, fps []string, now time.Time, stats *ProcessingStats) {
	if len(fps) == 0 {
		return
	}

	updated, err := s.unifiedRepo.TouchByFingerprints(ctx, fps, now)
	if err == nil {
		stats.UnifiedUpdated += int(updated)
		metrics.UnifiedTotal.WithLabelValues("updated").Add(float64(updated))
		return
	}

	log.Warn("batch update of existing unified vulnerabilities failed, retrying individually",
		"rows", len(fps),
		"error", err,
	)

	for _, fp := range fps {
		updated, err := s.unifiedRepo.TouchByFingerprints(ctx, []string{fp}, now)
		if err != nil {
			stats.BumpErrors++
			metrics.UnifiedTotal.WithLabelValues("error").Inc()
			log.Error("failed to update unified vulnerability", "fingerprint", fp, "error", err)
			continue
		}
		stats.UnifiedUpdated += int(updated)
		metrics.UnifiedTotal.WithLabelValues("updated").Add(float64(updated))
	}
}

func (s *Service) reopenUnified(ctx context.Context, log *logger.Logger, fps []string, now time.Time, stats *ProcessingStats) {
	if len(fps) == 0 {
		return
	}
	reopened, err := s.unifiedRepo.ReopenByFingerprints(ctx, fps, now)
	if err != nil {
		log.Warn("failed to reopen fixed unified vulnerabilities", "error", err)
		return
	}
	if reopened > 0 {
		stats.UnifiedReopened = int(reopened)
		metrics.UnifiedTotal.WithLabelValues("reopened").Add(float64(reopened))
		log.Info("reopened fixed unified vulnerabilities", "count", reopened)
	}
}

// buildInstances resolves each finding to its unified id and drops in-batch
// duplicates by instance key.
func (s *Service) buildInstances(
	batch ScanBatch,
	items []preparedFinding,
	ids map[string]shared.ID,
	failed map[string]bool,
	now time.Time,
	stats *ProcessingStats,
) []*vulnerability.Instance {
	seen := make(map[string]bool, len(items))
	instances := make([]*vulnerability.Instance, 0, len(items))

	for _, it := range items {
		id, ok := ids[it.fingerprint]
		if failed[it.fingerprint] || !ok {
			stats.FindingsSkipped++
			continue
		}

		key := fingerprint.InstanceKey(batch.ScanID, it.finding, id)
		if seen[key] {
			stats.InstancesSkippedDuplicate++
			metrics.InstancesTotal.WithLabelValues("skipped_duplicate").Inc()
			continue
		}
		seen[key] = true

		instances = append(instances, vulnerability.NewInstance(
			key, batch.ScanID, id, batch.RepositoryID, batch.WorkspaceID,
			fingerprint.Location(it.finding), it.finding, now,
		))
	}

	return instances
}

// createInstances inserts instances chunk by chunk, replaying a failed chunk
// row by row. A unique conflict means the occurrence is already recorded.
func (s *Service) createInstances(ctx context.Context, log *logger.Logger, instances []*vulnerability.Instance, stats *ProcessingStats) {
	for _, chunk := range chunks(instances, s.cfg.InsertChunkSize) {
		err := s.instanceRepo.CreateBatch(ctx, chunk)
		if err == nil {
			stats.InstancesCreated += len(chunk)
			metrics.InstancesTotal.WithLabelValues("created").Add(float64(len(chunk)))
			continue
		}

		log.Debug("batch insert of instances failed, retrying individually",
			"rows", len(chunk),
			"error", err,
		)

		for _, inst := range chunk {
			err := s.instanceRepo.Create(ctx, inst)
			switch {
			case err == nil:
				stats.InstancesCreated++
				metrics.InstancesTotal.WithLabelValues("created").Inc()
			case errors.Is(err, shared.ErrAlreadyExists):
				stats.InstancesAlreadyExisted++
				metrics.InstancesTotal.WithLabelValues("already_existed").Inc()
			default:
				stats.InstanceErrors++
				metrics.InstancesTotal.WithLabelValues("error").Inc()
				log.Error("instance insert failed",
					"instance_key", inst.InstanceKey,
					"error", err,
				)
			}
		}
	}
}

func recordBatch(stats *ProcessingStats, err error, elapsed time.Duration) {
	metrics.BatchDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.BatchesTotal.WithLabelValues("success").Inc()
	if stats != nil {
		metrics.BatchFindings.Observe(float64(stats.FindingsTotal))
	}
}

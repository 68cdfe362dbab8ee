package dedup

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/domain/scansession"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// ResolveVanished marks as fixed every open unified vulnerability that the
// previous completed scan of the repository saw and the current scan did not.
// A repository's first scan, or a previous scan with no instances, resolves
// nothing. Already fixed vulnerabilities are left untouched, so re-running is
// a no-op.
func (s *Service) ResolveVanished(ctx context.Context, repositoryID, currentScanID string) (result *ResolveResult, err error) {
	ctx, span := s.tracer.Start(ctx, "dedup.ResolveVanished", trace.WithAttributes(
		attribute.String("scan_id", currentScanID),
		attribute.String("repository_id", repositoryID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("fixed", result.FixedCount))
		}
		span.End()
	}()

	if repositoryID == "" || currentScanID == "" {
		return nil, fmt.Errorf("%w: repository_id and scan_id are required", shared.ErrValidation)
	}

	log := s.logger.With("scan_id", currentScanID, "repository_id", repositoryID)

	current, err := s.scanRepo.GetByID(ctx, currentScanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get current scan %s: %w", currentScanID, err)
	}
	if current == nil {
		return nil, fmt.Errorf("current scan %s: %w", currentScanID, shared.ErrNotFound)
	}
	if current.RepositoryID != repositoryID {
		return nil, fmt.Errorf("%w: scan %s belongs to repository %s", shared.ErrValidation, currentScanID, current.RepositoryID)
	}

	// A scan that did not finish cleanly says nothing about what vanished.
	if current.Status.IsTerminal() && current.Status != scansession.StatusCompleted {
		log.Warn("skipping auto-resolution for unsuccessful scan", "status", current.Status)
		return &ResolveResult{}, nil
	}

	previous, err := s.scanRepo.FindLatestCompletedBefore(ctx, repositoryID, current.CreatedAt, current.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find previous completed scan: %w", err)
	}
	if previous == nil {
		log.Debug("no previous completed scan, nothing to resolve")
		return &ResolveResult{}, nil
	}

	result = &ResolveResult{PreviousScanID: previous.ID}

	previousIDs, err := s.instanceRepo.ListUnifiedIDsByScan(ctx, previous.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of scan %s: %w", previous.ID, err)
	}
	if len(previousIDs) == 0 {
		return result, nil
	}

	currentIDs, err := s.instanceRepo.ListUnifiedIDsByScan(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of scan %s: %w", current.ID, err)
	}

	vanished := difference(previousIDs, currentIDs)
	if len(vanished) == 0 {
		return result, nil
	}

	fixed, err := s.unifiedRepo.MarkFixed(ctx, vanished, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to mark vanished vulnerabilities fixed: %w", err)
	}

	result.FixedCount = len(fixed)
	result.FixedIDs = fixed
	metrics.ResolvedTotal.Add(float64(len(fixed)))

	log.Info("auto-resolved vanished vulnerabilities",
		"previous_scan_id", previous.ID,
		"vanished", len(vanished),
		"fixed", len(fixed),
	)

	return result, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/internal/metrics"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeProcessBatch folds one scan's findings into the catalog.
	TypeProcessBatch = "vulncatalog:process_batch"

	// TypeResolveVanished marks vulnerabilities that vanished since the
	// previous scan as fixed.
	TypeResolveVanished = "vulncatalog:resolve_vanished"
)

const (
	processBatchTimeout    = 30 * time.Minute
	resolveVanishedTimeout = 5 * time.Minute
	maxTaskRetry           = 5
)

// =============================================================================
// Task Payloads
// =============================================================================

// ProcessBatchPayload references a batch document or carries it inline.
// Exactly one of BatchURI and Batch is set.
type ProcessBatchPayload struct {
	BatchURI string           `json:"batch_uri,omitempty"`
	Batch    *dedup.ScanBatch `json:"batch,omitempty"`
	// Resolve runs ResolveVanished after a successful batch.
	Resolve bool `json:"resolve,omitempty"`
}

// ResolveVanishedPayload identifies the scan to diff against its predecessor.
type ResolveVanishedPayload struct {
	RepositoryID string `json:"repository_id"`
	ScanID       string `json:"scan_id"`
}

// =============================================================================
// Task Creators
// =============================================================================

// NewProcessBatchTask creates a batch processing task on queue.
func NewProcessBatchTask(payload ProcessBatchPayload, queue string) (*asynq.Task, error) {
	if (payload.BatchURI == "") == (payload.Batch == nil) {
		return nil, errors.New("exactly one of batch_uri and batch is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process batch payload: %w", err)
	}

	return asynq.NewTask(TypeProcessBatch, data,
		asynq.MaxRetry(maxTaskRetry),
		asynq.Timeout(processBatchTimeout),
		asynq.Queue(queue),
	), nil
}

// NewResolveVanishedTask creates an auto-resolution task on queue.
func NewResolveVanishedTask(payload ResolveVanishedPayload, queue string) (*asynq.Task, error) {
	if payload.RepositoryID == "" || payload.ScanID == "" {
		return nil, errors.New("repository_id and scan_id are required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal resolve vanished payload: %w", err)
	}

	return asynq.NewTask(TypeResolveVanished, data,
		asynq.MaxRetry(maxTaskRetry),
		asynq.Timeout(resolveVanishedTimeout),
		asynq.Queue(queue),
	), nil
}

// =============================================================================
// Task Handler Interfaces
// =============================================================================

// BatchProcessor is implemented by dedup.Service.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch dedup.ScanBatch) (*dedup.ProcessingStats, error)
	ResolveVanished(ctx context.Context, repositoryID, currentScanID string) (*dedup.ResolveResult, error)
}

// BatchLoader reads a batch document by URI.
type BatchLoader interface {
	Load(ctx context.Context, uri string) (*dedup.ScanBatch, error)
}

// =============================================================================
// Task Handler
// =============================================================================

// DedupTaskHandler handles deduplication tasks. Processing is idempotent, so
// asynq retries are safe; invalid input is not retried.
type DedupTaskHandler struct {
	processor BatchProcessor
	loader    BatchLoader
	logger    *logger.Logger
}

// NewDedupTaskHandler creates a new deduplication task handler. loader may
// be nil when only inline batches are enqueued.
func NewDedupTaskHandler(processor BatchProcessor, loader BatchLoader, log *logger.Logger) *DedupTaskHandler {
	return &DedupTaskHandler{
		processor: processor,
		loader:    loader,
		logger:    log.With("component", "dedup_tasks"),
	}
}

// HandleProcessBatch handles the batch processing task.
func (h *DedupTaskHandler) HandleProcessBatch(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { recordTask(TypeProcessBatch, err) }()

	var payload ProcessBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal process batch payload", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	batch := payload.Batch
	if batch == nil {
		if payload.BatchURI == "" {
			return fmt.Errorf("batch_uri or batch is required: %w", asynq.SkipRetry)
		}
		if h.loader == nil {
			return fmt.Errorf("no batch loader configured for %s: %w", payload.BatchURI, asynq.SkipRetry)
		}
		batch, err = h.loader.Load(ctx, payload.BatchURI)
		if err != nil {
			h.logger.Error("failed to load batch", "uri", payload.BatchURI, "error", err)
			return classify(fmt.Errorf("load batch: %w", err))
		}
	}

	ctx = context.WithValue(ctx, logger.ContextKeyScanID, batch.ScanID)
	log := h.logger.WithContext(taskContext(ctx)).With("repository_id", batch.RepositoryID)
	log.Info("processing batch task", "findings", len(batch.Findings))

	stats, err := h.processor.ProcessBatch(ctx, *batch)
	if err != nil {
		log.Error("failed to process batch", "error", err)
		return classify(err)
	}

	if payload.Resolve {
		result, err := h.processor.ResolveVanished(ctx, batch.RepositoryID, batch.ScanID)
		if err != nil {
			log.Error("failed to resolve vanished vulnerabilities", "error", err)
			return classify(err)
		}
		log.Info("vanished vulnerabilities resolved",
			"previous_scan_id", result.PreviousScanID,
			"fixed", result.FixedCount,
		)
	}

	log.Info("batch task completed",
		"unified_created", stats.UnifiedCreated,
		"instances_created", stats.InstancesCreated,
	)
	return nil
}

// HandleResolveVanished handles the auto-resolution task.
func (h *DedupTaskHandler) HandleResolveVanished(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { recordTask(TypeResolveVanished, err) }()

	var payload ResolveVanishedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal resolve vanished payload", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	ctx = context.WithValue(ctx, logger.ContextKeyScanID, payload.ScanID)
	log := h.logger.WithContext(taskContext(ctx))

	result, err := h.processor.ResolveVanished(ctx, payload.RepositoryID, payload.ScanID)
	if err != nil {
		log.Error("failed to resolve vanished vulnerabilities",
			"repository_id", payload.RepositoryID,
			"error", err,
		)
		return classify(err)
	}

	log.Info("resolve task completed",
		"repository_id", payload.RepositoryID,
		"previous_scan_id", result.PreviousScanID,
		"fixed", result.FixedCount,
	)
	return nil
}

// RegisterHandlers registers deduplication task handlers with the asynq server mux.
func (h *DedupTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProcessBatch, h.HandleProcessBatch)
	mux.HandleFunc(TypeResolveVanished, h.HandleResolveVanished)
}

// taskContext attaches the asynq task id for log correlation.
func taskContext(ctx context.Context) context.Context {
	if id, ok := asynq.GetTaskID(ctx); ok {
		return context.WithValue(ctx, logger.ContextKeyTaskID, id)
	}
	return ctx
}

// classify stops retries of errors a retry cannot fix.
func classify(err error) error {
	if shared.IsPermanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func recordTask(taskType string, err error) {
	status := "success"
	switch {
	case errors.Is(err, asynq.SkipRetry):
		status = "rejected"
	case err != nil:
		status = "failed"
	}
	metrics.TasksTotal.WithLabelValues(taskType, status).Inc()
}

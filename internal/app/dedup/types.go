// Package dedup turns raw scanner findings into the deduplicated vulnerability
// catalog: one unified vulnerability per fingerprint, one instance per
// occurrence, and scan-over-scan auto-resolution.
package dedup

import (
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

// =============================================================================
// Constants & Limits
// =============================================================================

const (
	// DefaultInsertChunkSize is the number of rows per batched insert.
	DefaultInsertChunkSize = 100

	// DefaultConcurrency bounds parallel per-finding computation.
	DefaultConcurrency = 8

	// DefaultTitleTimeout bounds a single AI title call.
	DefaultTitleTimeout = 10 * time.Second
)

// =============================================================================
// Input/Output Types
// =============================================================================

// ScanBatch is the set of raw findings produced by one completed scan of one
// repository.
type ScanBatch struct {
	ScanID       string                     `json:"scan_id" validate:"required,max=255,opaque_id"`
	WorkspaceID  string                     `json:"workspace_id" validate:"required,max=255,opaque_id"`
	RepositoryID string                     `json:"repository_id" validate:"required,max=255,opaque_id"`
	Now          time.Time                  `json:"now,omitzero"`
	Findings     []vulnerability.RawFinding `json:"findings"`
}

// ProcessingStats summarizes one ProcessBatch run.
type ProcessingStats struct {
	FindingsTotal   int `json:"findings_total" yaml:"findings_total"`
	FindingsSkipped int `json:"findings_skipped" yaml:"findings_skipped"`

	UnifiedCreated  int `json:"unified_created" yaml:"unified_created"`
	UnifiedUpdated  int `json:"unified_updated" yaml:"unified_updated"`
	UnifiedReopened int `json:"unified_reopened" yaml:"unified_reopened"`
	UnifiedErrors   int `json:"unified_errors" yaml:"unified_errors"`
	BumpErrors      int `json:"bump_errors" yaml:"bump_errors"`

	InstancesCreated          int `json:"instances_created" yaml:"instances_created"`
	InstancesAlreadyExisted   int `json:"instances_already_existed" yaml:"instances_already_existed"`
	InstancesSkippedDuplicate int `json:"instances_skipped_duplicate" yaml:"instances_skipped_duplicate"`
	InstanceErrors            int `json:"instance_errors" yaml:"instance_errors"`

	TitlesFromAI       int `json:"titles_from_ai" yaml:"titles_from_ai"`
	TitlesFromFallback int `json:"titles_from_fallback" yaml:"titles_from_fallback"`
	// TitlesFromLiteral is the subset of TitlesFromFallback produced by the literal tier.
	TitlesFromLiteral int `json:"titles_from_literal" yaml:"titles_from_literal"`
	TitleErrors       int `json:"title_errors" yaml:"title_errors"`

	DurationMs int64 `json:"duration_ms" yaml:"duration_ms"`
}

// ResolveResult summarizes one ResolveVanished run.
type ResolveResult struct {
	PreviousScanID string      `json:"previous_scan_id,omitempty" yaml:"previous_scan_id,omitempty"`
	FixedCount     int         `json:"fixed_count" yaml:"fixed_count"`
	FixedIDs       []shared.ID `json:"fixed_ids,omitempty" yaml:"fixed_ids,omitempty"`
}

package vulnerability

import (
	"context"
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// UnifiedRepository defines the persistence contract for unified
// vulnerabilities. Implementations enforce a unique constraint on fingerprint.
type UnifiedRepository interface {
	// GetIDsByFingerprints returns the ids of the rows whose fingerprint is in
	// the given set. Missing fingerprints are absent from the map.
	GetIDsByFingerprints(ctx context.Context, fingerprints []string) (map[string]shared.ID, error)

	// CreateBatch inserts all rows or none.
	CreateBatch(ctx context.Context, vulns []*UnifiedVulnerability) error

	// Create inserts one row. Returns ErrAlreadyExists on a fingerprint conflict.
	Create(ctx context.Context, vuln *UnifiedVulnerability) error

	// TouchByFingerprints moves last_seen_at and updated_at forward to at.
	// Timestamps never move backward.
	TouchByFingerprints(ctx context.Context, fingerprints []string, at time.Time) (int64, error)

	// ReopenByFingerprints moves fixed rows back to open and clears resolved_at.
	ReopenByFingerprints(ctx context.Context, fingerprints []string, at time.Time) (int64, error)

	// MarkFixed transitions the open rows among ids to fixed and returns the
	// ids that actually changed.
	MarkFixed(ctx context.Context, ids []shared.ID, at time.Time) ([]shared.ID, error)

	// GetByID retrieves a unified vulnerability by ID.
	GetByID(ctx context.Context, id shared.ID) (*UnifiedVulnerability, error)
}

// InstanceRepository defines the persistence contract for instances.
// Implementations enforce a unique constraint on instance_key.
type InstanceRepository interface {
	// CreateBatch inserts all rows or none.
	CreateBatch(ctx context.Context, instances []*Instance) error

	// Create inserts one row. Returns ErrAlreadyExists on an instance key conflict.
	Create(ctx context.Context, instance *Instance) error

	// ListUnifiedIDsByScan returns the distinct unified vulnerability ids that
	// have at least one instance in the scan.
	ListUnifiedIDsByScan(ctx context.Context, scanID string) ([]shared.ID, error)

	// CountByScan returns the number of instances recorded for the scan.
	CountByScan(ctx context.Context, scanID string) (int64, error)
}

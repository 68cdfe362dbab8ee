package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

// InstanceRepository implements vulnerability.InstanceRepository using PostgreSQL.
type InstanceRepository struct {
	db *DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const insertInstanceQuery = `
	INSERT INTO vulnerability_instances (
		id, instance_key, scan_id, unified_vulnerability_id,
		repository_id, workspace_id, location, file_path, line_start, line_end,
		package_name, package_version, severity, detected_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// CreateBatch inserts all rows in one transaction.
func (r *InstanceRepository) CreateBatch(ctx context.Context, instances []*vulnerability.Instance) error {
	if len(instances) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertInstanceQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, inst := range instances {
			if _, err := stmt.ExecContext(ctx, instanceArgs(inst)...); err != nil {
				if isUniqueViolation(err) {
					return vulnerability.InstanceAlreadyExistsError(inst.InstanceKey)
				}
				return fmt.Errorf("failed to insert instance: %w", err)
			}
		}
		return nil
	})
}

// Create inserts one row.
func (r *InstanceRepository) Create(ctx context.Context, inst *vulnerability.Instance) error {
	if _, err := r.db.ExecContext(ctx, insertInstanceQuery, instanceArgs(inst)...); err != nil {
		if isUniqueViolation(err) {
			return vulnerability.InstanceAlreadyExistsError(inst.InstanceKey)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// ListUnifiedIDsByScan returns the distinct unified ids seen in the scan.
func (r *InstanceRepository) ListUnifiedIDsByScan(ctx context.Context, scanID string) ([]shared.ID, error) {
	query := `
		SELECT DISTINCT unified_vulnerability_id
		FROM vulnerability_instances
		WHERE scan_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unified ids of scan: %w", err)
	}
	return scanIDs(rows)
}

// CountByScan returns the number of instances recorded for the scan.
func (r *InstanceRepository) CountByScan(ctx context.Context, scanID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vulnerability_instances WHERE scan_id = $1`, scanID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

func instanceArgs(inst *vulnerability.Instance) []any {
	return []any{
		inst.ID.String(),
		inst.InstanceKey,
		inst.ScanID,
		inst.UnifiedVulnerabilityID.String(),
		inst.RepositoryID,
		nullString(inst.WorkspaceID),
		inst.Location,
		nullString(inst.FilePath),
		inst.LineStart,
		inst.LineEnd,
		nullString(inst.PackageName),
		nullString(inst.PackageVersion),
		inst.Severity.String(),
		inst.DetectedAt,
	}
}

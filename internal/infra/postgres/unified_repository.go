package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

// UnifiedRepository implements vulnerability.UnifiedRepository using PostgreSQL.
type UnifiedRepository struct {
	db *DB
}

// NewUnifiedRepository creates a new UnifiedRepository.
func NewUnifiedRepository(db *DB) *UnifiedRepository {
	return &UnifiedRepository{db: db}
}

const insertUnifiedQuery = `
	INSERT INTO unified_vulnerabilities (
		id, fingerprint, title, description, severity, scanner_type,
		repository_id, workspace_id, rule_id, cwe, status,
		first_detected_at, last_seen_at, resolved_at, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const selectUnifiedColumns = `
	id, fingerprint, title, description, severity, scanner_type,
	repository_id, workspace_id, rule_id, cwe, status,
	first_detected_at, last_seen_at, resolved_at, created_at, updated_at
`

const lookupFingerprintsQuery = `
	SELECT fingerprint, id
	FROM unified_vulnerabilities
	WHERE fingerprint = ANY($1)
`

// touchByFingerprintsQuery never moves a timestamp backward.
const touchByFingerprintsQuery = `
	UPDATE unified_vulnerabilities
	SET last_seen_at = GREATEST(last_seen_at, $2),
		updated_at = GREATEST(updated_at, $2)
	WHERE fingerprint = ANY($1)
`

const reopenByFingerprintsQuery = `
	UPDATE unified_vulnerabilities
	SET status = $3,
		resolved_at = NULL,
		last_seen_at = GREATEST(last_seen_at, $2),
		updated_at = GREATEST(updated_at, $2)
	WHERE fingerprint = ANY($1) AND status = $4
`

// markFixedQuery only touches rows still in the open status passed as $4.
const markFixedQuery = `
	UPDATE unified_vulnerabilities
	SET status = $3,
		resolved_at = $2,
		updated_at = GREATEST(updated_at, $2)
	WHERE id = ANY($1::uuid[]) AND status = $4
	RETURNING id
`

const countByStatusQuery = `
	SELECT status, COUNT(*)
	FROM unified_vulnerabilities
	GROUP BY status
`

// GetIDsByFingerprints returns the ids of the existing rows among fingerprints.
func (r *UnifiedRepository) GetIDsByFingerprints(ctx context.Context, fingerprints []string) (map[string]shared.ID, error) {
	result := make(map[string]shared.ID, len(fingerprints))
	if len(fingerprints) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, lookupFingerprintsQuery, pq.Array(fingerprints))
	if err != nil {
		return nil, fmt.Errorf("failed to lookup fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		var id shared.ID
		if err := rows.Scan(&fp, &id); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		result[fp] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}

	return result, nil
}

// CreateBatch inserts all rows in one transaction. Any conflict rolls the
// whole batch back.
func (r *UnifiedRepository) CreateBatch(ctx context.Context, vulns []*vulnerability.UnifiedVulnerability) error {
	if len(vulns) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertUnifiedQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, v := range vulns {
			if _, err := stmt.ExecContext(ctx, unifiedArgs(v)...); err != nil {
				if isUniqueViolation(err) {
					return vulnerability.UnifiedAlreadyExistsError(v.Fingerprint)
				}
				return fmt.Errorf("failed to insert unified vulnerability: %w", err)
			}
		}
		return nil
	})
}

// Create inserts one row.
func (r *UnifiedRepository) Create(ctx context.Context, v *vulnerability.UnifiedVulnerability) error {
	_, err := r.db.ExecContext(ctx, insertUnifiedQuery, unifiedArgs(v)...)
	if err != nil {
		if isUniqueViolation(err) {
			return vulnerability.UnifiedAlreadyExistsError(v.Fingerprint)
		}
		return fmt.Errorf("failed to create unified vulnerability: %w", err)
	}
	return nil
}

// TouchByFingerprints moves last_seen_at and updated_at forward.
func (r *UnifiedRepository) TouchByFingerprints(ctx context.Context, fingerprints []string, at time.Time) (int64, error) {
	if len(fingerprints) == 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, touchByFingerprintsQuery, pq.Array(fingerprints), at)
	if err != nil {
		return 0, fmt.Errorf("failed to touch unified vulnerabilities: %w", err)
	}
	return res.RowsAffected()
}

// ReopenByFingerprints moves fixed rows among fingerprints back to open.
func (r *UnifiedRepository) ReopenByFingerprints(ctx context.Context, fingerprints []string, at time.Time) (int64, error) {
	if len(fingerprints) == 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, reopenByFingerprintsQuery,
		pq.Array(fingerprints), at,
		vulnerability.StatusOpen.String(), vulnerability.StatusFixed.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reopen unified vulnerabilities: %w", err)
	}
	return res.RowsAffected()
}

// MarkFixed transitions the open rows among ids to fixed. The status guard in
// the WHERE clause makes concurrent calls disjoint.
func (r *UnifiedRepository) MarkFixed(ctx context.Context, ids []shared.ID, at time.Time) ([]shared.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, markFixedQuery,
		pq.Array(shared.IDStrings(ids)), at,
		vulnerability.StatusFixed.String(), vulnerability.StatusOpen.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark unified vulnerabilities fixed: %w", err)
	}
	return scanIDs(rows)
}

// CountByStatus returns the number of rows per status.
func (r *UnifiedRepository) CountByStatus(ctx context.Context) (map[vulnerability.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, countByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to count unified vulnerabilities: %w", err)
	}
	defer rows.Close()

	counts := make(map[vulnerability.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[vulnerability.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// GetByID retrieves a unified vulnerability by ID.
func (r *UnifiedRepository) GetByID(ctx context.Context, id shared.ID) (*vulnerability.UnifiedVulnerability, error) {
	query := `SELECT ` + selectUnifiedColumns + ` FROM unified_vulnerabilities WHERE id = $1`

	v, err := scanUnified(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vulnerability.UnifiedNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get unified vulnerability: %w", err)
	}
	return v, nil
}

func unifiedArgs(v *vulnerability.UnifiedVulnerability) []any {
	cwe := v.CWE
	if cwe == nil {
		cwe = []string{}
	}
	return []any{
		v.ID.String(),
		v.Fingerprint,
		v.Title,
		nullString(v.Description),
		v.Severity.String(),
		string(v.ScannerType),
		v.RepositoryID,
		nullString(v.WorkspaceID),
		v.RuleID,
		pq.Array(cwe),
		v.Status.String(),
		v.FirstDetectedAt,
		v.LastSeenAt,
		nullTime(v.ResolvedAt),
		v.CreatedAt,
		v.UpdatedAt,
	}
}

func scanUnified(row *sql.Row) (*vulnerability.UnifiedVulnerability, error) {
	var (
		v           vulnerability.UnifiedVulnerability
		description sql.NullString
		workspaceID sql.NullString
		severity    string
		scannerType string
		status      string
		cwe         []string
		resolvedAt  sql.NullTime
	)

	err := row.Scan(
		&v.ID,
		&v.Fingerprint,
		&v.Title,
		&description,
		&severity,
		&scannerType,
		&v.RepositoryID,
		&workspaceID,
		&v.RuleID,
		pq.Array(&cwe),
		&status,
		&v.FirstDetectedAt,
		&v.LastSeenAt,
		&resolvedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Description = nullStringValue(description)
	v.WorkspaceID = nullStringValue(workspaceID)
	v.Severity = vulnerability.Severity(severity)
	v.ScannerType = vulnerability.ScannerType(scannerType)
	v.Status = vulnerability.Status(status)
	v.CWE = cwe
	v.ResolvedAt = nullTimeValue(resolvedAt)
	v.FirstDetectedAt = v.FirstDetectedAt.UTC()
	v.LastSeenAt = v.LastSeenAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()

	return &v, nil
}

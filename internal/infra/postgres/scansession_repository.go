package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/scansession"
)

// ScanSessionRepository implements scansession.Repository using PostgreSQL.
type ScanSessionRepository struct {
	db *DB
}

// NewScanSessionRepository creates a new ScanSessionRepository.
func NewScanSessionRepository(db *DB) *ScanSessionRepository {
	return &ScanSessionRepository{db: db}
}

const selectScanSessionColumns = `id, repository_id, workspace_id, status, created_at, completed_at`

const findLatestCompletedBeforeQuery = `
	SELECT ` + selectScanSessionColumns + `
	FROM scan_sessions
	WHERE repository_id = $1
		AND status = $2
		AND created_at < $3
		AND id <> $4
	ORDER BY created_at DESC
	LIMIT 1
`

// GetByID retrieves a scan session by ID.
func (r *ScanSessionRepository) GetByID(ctx context.Context, id string) (*scansession.ScanSession, error) {
	query := `SELECT ` + selectScanSessionColumns + ` FROM scan_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scansession.NotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get scan session: %w", err)
	}
	return s, nil
}

// FindLatestCompletedBefore returns the newest completed session of the
// repository created before the given time, or nil.
func (r *ScanSessionRepository) FindLatestCompletedBefore(
	ctx context.Context,
	repositoryID string,
	before time.Time,
	excludeID string,
) (*scansession.ScanSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, findLatestCompletedBeforeQuery,
		repositoryID, scansession.StatusCompleted.String(), before, excludeID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find previous scan session: %w", err)
	}
	return s, nil
}

// ListLatestCompleted returns the newest completed session per repository
// among those completed at or after since.
func (r *ScanSessionRepository) ListLatestCompleted(ctx context.Context, since time.Time) ([]*scansession.ScanSession, error) {
	query := `
		SELECT DISTINCT ON (repository_id) ` + selectScanSessionColumns + `
		FROM scan_sessions
		WHERE status = $1 AND completed_at >= $2
		ORDER BY repository_id, created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, scansession.StatusCompleted.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed scan sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*scansession.ScanSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan sessions: %w", err)
	}
	return sessions, nil
}

// Upsert inserts or replaces a session.
func (r *ScanSessionRepository) Upsert(ctx context.Context, s *scansession.ScanSession) error {
	query := `
		INSERT INTO scan_sessions (id, repository_id, workspace_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			repository_id = EXCLUDED.repository_id,
			workspace_id = EXCLUDED.workspace_id,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.RepositoryID,
		nullString(s.WorkspaceID),
		s.Status.String(),
		s.CreatedAt,
		nullTime(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scan session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*scansession.ScanSession, error) {
	var (
		s           scansession.ScanSession
		workspaceID sql.NullString
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.RepositoryID, &workspaceID, &status, &s.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	st, err := scansession.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan session %s: %w", s.ID, err)
	}
	s.WorkspaceID = nullStringValue(workspaceID)
	s.Status = st
	s.CreatedAt = s.CreatedAt.UTC()
	s.CompletedAt = nullTimeValue(completedAt)
	return &s, nil
}

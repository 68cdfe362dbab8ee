package scansession

import (
	"context"
	"time"
)

// Repository defines the read access the catalog needs to scan sessions.
type Repository interface {
	// GetByID retrieves a scan session by ID.
	GetByID(ctx context.Context, id string) (*ScanSession, error)

	// FindLatestCompletedBefore returns the most recently created completed
	// session of the repository created strictly before the given session.
	// Returns (nil, nil) when there is none.
	FindLatestCompletedBefore(ctx context.Context, repositoryID string, before time.Time, excludeID string) (*ScanSession, error)

	// ListLatestCompleted returns, per repository, the most recently created
	// completed session whose completion time is at or after since.
	ListLatestCompleted(ctx context.Context, since time.Time) ([]*ScanSession, error)

	// Upsert inserts or replaces a session.
	Upsert(ctx context.Context, session *ScanSession) error
}

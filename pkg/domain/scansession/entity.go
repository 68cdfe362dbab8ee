// Package scansession holds the read model of the external scan lifecycle.
// Sessions are owned by the lifecycle service; the catalog only reads them to
// find the previous completed scan of a repository.
package scansession

import (
	"strings"
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// ScanSession is one scan of one repository as recorded by the lifecycle.
type ScanSession struct {
	ID           string
	RepositoryID string
	WorkspaceID  string

	Status Status

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusTimeout   Status = "timeout"
)

// ParseStatus accepts any casing and surrounding whitespace, as written by
// older lifecycle versions.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", shared.NewDomainError("VALIDATION", "invalid scan status: "+s, shared.ErrValidation)
	}
	return st, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled, StatusTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether the scan has stopped, successfully or not.
// Only completed scans serve as an auto-resolution baseline.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusTimeout:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// NewScanSession creates a pending session. Used by the lifecycle side and by
// tests; the catalog itself only reads sessions.
func NewScanSession(id, repositoryID, workspaceID string, createdAt time.Time) (*ScanSession, error) {
	if id == "" {
		return nil, shared.NewDomainError("VALIDATION", "scan id is required", shared.ErrValidation)
	}
	if repositoryID == "" {
		return nil, shared.NewDomainError("VALIDATION", "repository_id is required", shared.ErrValidation)
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &ScanSession{
		ID:           id,
		RepositoryID: repositoryID,
		WorkspaceID:  workspaceID,
		Status:       StatusPending,
		CreatedAt:    createdAt,
	}, nil
}

// Complete marks the scan completed at at. A scan that already stopped
// cannot complete.
func (s *ScanSession) Complete(at time.Time) error {
	if s.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "cannot complete a finished scan", shared.ErrValidation)
	}
	s.Status = StatusCompleted
	s.CompletedAt = &at
	return nil
}

// IsCompleted reports a successful scan.
func (s *ScanSession) IsCompleted() bool {
	return s.Status == StatusCompleted
}

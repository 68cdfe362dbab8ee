package vulnerability

import (
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// Status is the lifecycle status of a unified vulnerability.
type Status string

const (
	StatusOpen  Status = "open"
	StatusFixed Status = "fixed"
)

// IsValid checks if the status is a valid value.
func (s Status) IsValid() bool {
	return s == StatusOpen || s == StatusFixed
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// UnifiedVulnerability is the canonical record of one logical vulnerability
// within a repository. There is exactly one row per fingerprint.
type UnifiedVulnerability struct {
	ID          shared.ID
	Fingerprint string

	Title       string
	Description string
	Severity    Severity
	ScannerType ScannerType

	RepositoryID string
	WorkspaceID  string

	RuleID string
	CWE    []string

	Status Status

	// FirstDetectedAt never changes after insert.
	FirstDetectedAt time.Time
	// LastSeenAt only moves forward.
	LastSeenAt time.Time
	ResolvedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUnifiedVulnerability creates an open unified vulnerability from the
// representative finding of a fingerprint.
func NewUnifiedVulnerability(
	fingerprint, title, repositoryID, workspaceID string,
	f *RawFinding,
	now time.Time,
) *UnifiedVulnerability {
	severity := f.Severity
	if !severity.IsValid() {
		severity = SeverityUnknown
	}
	return &UnifiedVulnerability{
		ID:              shared.NewID(),
		Fingerprint:     fingerprint,
		Title:           title,
		Description:     f.Description,
		Severity:        severity,
		ScannerType:     ParseScannerType(string(f.Type)),
		RepositoryID:    repositoryID,
		WorkspaceID:     workspaceID,
		RuleID:          f.RuleID,
		CWE:             append([]string(nil), f.CWE...),
		Status:          StatusOpen,
		FirstDetectedAt: now,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Touch records another sighting.
func (v *UnifiedVulnerability) Touch(at time.Time) {
	if at.After(v.LastSeenAt) {
		v.LastSeenAt = at
	}
	if at.After(v.UpdatedAt) {
		v.UpdatedAt = at
	}
}

// MarkFixed transitions an open vulnerability to fixed. It reports whether
// anything changed.
func (v *UnifiedVulnerability) MarkFixed(at time.Time) bool {
	if v.Status != StatusOpen {
		return false
	}
	v.Status = StatusFixed
	v.ResolvedAt = &at
	v.UpdatedAt = at
	return true
}

// Reopen transitions a fixed vulnerability back to open.
func (v *UnifiedVulnerability) Reopen(at time.Time) bool {
	if v.Status != StatusFixed {
		return false
	}
	v.Status = StatusOpen
	v.ResolvedAt = nil
	v.Touch(at)
	return true
}

// IsOpen returns true if the vulnerability is open.
func (v *UnifiedVulnerability) IsOpen() bool {
	return v.Status == StatusOpen
}

package vulnerability

import (
	"math"
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// Instance is one physical occurrence of a unified vulnerability in one scan.
// Instances are append-only.
type Instance struct {
	ID          shared.ID
	InstanceKey string

	ScanID                 string
	UnifiedVulnerabilityID shared.ID
	RepositoryID           string
	WorkspaceID            string

	Location       string
	FilePath       string
	LineStart      int
	LineEnd        int
	PackageName    string
	PackageVersion string

	Severity   Severity
	DetectedAt time.Time
}

// NewInstance creates an instance of a finding.
func NewInstance(
	key, scanID string,
	unifiedID shared.ID,
	repositoryID, workspaceID, location string,
	f *RawFinding,
	now time.Time,
) *Instance {
	severity := f.Severity
	if !severity.IsValid() {
		severity = SeverityUnknown
	}
	inst := &Instance{
		ID:                     shared.NewID(),
		InstanceKey:            key,
		ScanID:                 scanID,
		UnifiedVulnerabilityID: unifiedID,
		RepositoryID:           repositoryID,
		WorkspaceID:            workspaceID,
		Location:               location,
		Severity:               severity,
		DetectedAt:             now,
	}
	if f.Type.IsPackageBased() {
		inst.PackageName = f.Metadata.PackageName
		inst.PackageVersion = f.Metadata.PackageVersion
	} else {
		inst.FilePath = f.FilePath
		inst.LineStart = clampLine(f.LineStart)
		inst.LineEnd = clampLine(f.LineEnd)
	}
	return inst
}

// clampLine keeps a line number within the stored 32-bit column.
func clampLine(n int) int {
	return min(max(n, 0), math.MaxInt32)
}

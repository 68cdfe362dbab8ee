package fingerprint

import (
	"path"
	"strconv"
	"strings"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

const unknownLocation = "unknown"

// InstanceKey returns the key of one occurrence of a finding in a scan: the
// Hash of scan_id|unified_id|location, so it has the same fixed width as a
// fingerprint. Two findings with the same key within a scan are the same
// occurrence.
func InstanceKey(scanID string, f *vulnerability.RawFinding, unifiedID shared.ID) string {
	return Hash(InstanceIdentity(scanID, f, unifiedID))
}

// InstanceIdentity returns the pre-hash key of an occurrence.
func InstanceIdentity(scanID string, f *vulnerability.RawFinding, unifiedID shared.ID) string {
	return scanID + "|" + unifiedID.String() + "|" + Location(f)
}

// Location returns "path:line" for file-based findings and
// "package:version" for package-based findings.
func Location(f *vulnerability.RawFinding) string {
	if f.Type.IsPackageBased() {
		name := strings.TrimSpace(f.Metadata.PackageName)
		if name == "" {
			name = unknownLocation
		}
		version := strings.TrimSpace(f.Metadata.PackageVersion)
		if version == "" {
			version = unknownLocation
		}
		return name + ":" + version
	}
	return CleanPath(f.FilePath) + ":" + strconv.Itoa(max(f.LineStart, 0))
}

// CleanPath normalizes a file path to forward slashes without redundant
// elements. Empty paths become "unknown".
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return unknownLocation
	}
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if p == "." {
		return unknownLocation
	}
	return p
}

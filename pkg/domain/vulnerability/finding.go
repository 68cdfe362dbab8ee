// Package vulnerability defines the catalog domain: raw scanner findings,
// unified vulnerabilities and their per-scan instances.
package vulnerability

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScannerType is the class of scanner that produced a finding.
type ScannerType string

const (
	ScannerTypeSAST      ScannerType = "sast"
	ScannerTypeSCA       ScannerType = "sca"
	ScannerTypeSecrets   ScannerType = "secrets"
	ScannerTypeIaC       ScannerType = "iac"
	ScannerTypeContainer ScannerType = "container"

	// ScannerTypeUnknown stands in for a missing or unstorable type.
	ScannerTypeUnknown ScannerType = "unknown"
)

// MaxScannerTypeLength is the longest scanner type the catalog stores.
const MaxScannerTypeLength = 20

// AllScannerTypes returns all known scanner types.
func AllScannerTypes() []ScannerType {
	return []ScannerType{
		ScannerTypeSAST,
		ScannerTypeSCA,
		ScannerTypeSecrets,
		ScannerTypeIaC,
		ScannerTypeContainer,
	}
}

// ParseScannerType normalizes a scanner type. Unknown values are kept
// (lowercased) rather than rejected; they are treated as file-based. Empty
// values and values longer than MaxScannerTypeLength become
// ScannerTypeUnknown.
func ParseScannerType(s string) ScannerType {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" || len(t) > MaxScannerTypeLength {
		return ScannerTypeUnknown
	}
	return ScannerType(t)
}

// IsValid checks if the scanner type is one of the known classes.
func (t ScannerType) IsValid() bool {
	switch t {
	case ScannerTypeSAST, ScannerTypeSCA, ScannerTypeSecrets, ScannerTypeIaC, ScannerTypeContainer:
		return true
	}
	return false
}

// IsPackageBased reports whether identity and location are keyed on a package
// rather than a file.
func (t ScannerType) IsPackageBased() bool {
	return t == ScannerTypeSCA || t == ScannerTypeContainer
}

// String returns the string representation of the scanner type.
func (t ScannerType) String() string {
	if t == "" {
		return string(ScannerTypeUnknown)
	}
	return string(t)
}

// UnmarshalJSON accepts any casing and unknown values.
func (t *ScannerType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("scanner type must be a string: %w", err)
	}
	*t = ParseScannerType(raw)
	return nil
}

// Severity is the already-computed severity attached to a raw finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
)

// ParseSeverity parses a severity string case-insensitively.
// Unrecognized values map to SeverityUnknown; it never fails.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high", "error":
		return SeverityHigh
	case "medium", "moderate", "warning":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational", "note", "none":
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo, SeverityUnknown:
		return true
	}
	return false
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// UnmarshalJSON accepts any casing and unknown values.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("severity must be a string: %w", err)
	}
	*s = ParseSeverity(raw)
	return nil
}

// RawFinding is one finding as emitted by a scanner adapter. It is treated as
// immutable for the duration of a batch.
type RawFinding struct {
	Type        ScannerType     `json:"type" validate:"omitempty,scanner_type"`
	RuleID      string          `json:"rule_id" validate:"max=512"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    Severity        `json:"severity" validate:"omitempty,severity"`
	FilePath    string          `json:"file_path,omitempty" validate:"max=4096"`
	LineStart   int             `json:"line_start,omitempty" validate:"gte=0"`
	LineEnd     int             `json:"line_end,omitempty" validate:"gte=0"`
	CWE         []string        `json:"cwe,omitempty"`
	Confidence  string          `json:"confidence,omitempty"`
	Metadata    FindingMetadata `json:"metadata"`
}

// PrimaryCWE returns the first non-empty CWE entry in canonical "CWE-<n>" form.
func (f *RawFinding) PrimaryCWE() string {
	for _, c := range f.CWE {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if isDigits(c) {
			return "CWE-" + c
		}
		return c
	}
	return ""
}

// FindingMetadata carries type-specific attributes. Keys other than the
// well-known ones are preserved in Extra.
type FindingMetadata struct {
	PackageName    string
	PackageVersion string
	SecretType     string
	Extra          map[string]any
}

const (
	metaPackageName    = "package_name"
	metaPackageVersion = "package_version"
	metaSecretType     = "secret_type"
)

// UnmarshalJSON implements json.Unmarshaler.
func (m *FindingMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata must be an object: %w", err)
	}
	*m = FindingMetadata{}
	for k, v := range raw {
		switch k {
		case metaPackageName:
			m.PackageName = stringValue(v)
		case metaPackageVersion:
			m.PackageVersion = stringValue(v)
		case metaSecretType:
			m.SecretType = stringValue(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m FindingMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.PackageName != "" {
		out[metaPackageName] = m.PackageName
	}
	if m.PackageVersion != "" {
		out[metaPackageVersion] = m.PackageVersion
	}
	if m.SecretType != "" {
		out[metaSecretType] = m.SecretType
	}
	return json.Marshal(out)
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Package fingerprint computes the stable identity of a scanner finding and
// the per-scan key of each physical occurrence.
//
// The identity of a logical vulnerability deliberately excludes its location:
// the same rule firing in many files of a repository, or the same advisory on
// a package at different versions, resolves to one fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

// Length is the number of hex characters in a fingerprint.
const Length = 32

// UnknownPackage stands in for a missing package name.
const UnknownPackage = "unknown"

// ScannerNamespaces lists scanner names that adapters prepend to rule ids.
// Longer names sharing a prefix with a shorter one must come first.
var ScannerNamespaces = []string{
	"semgrep-rules",
	"semgrep",
	"bandit",
	"gosec",
	"brakeman",
	"eslint",
	"codeql",
	"sonarqube",
	"gitleaks",
	"trufflehog",
	"detect-secrets",
	"checkov",
	"tfsec",
	"kics",
	"terrascan",
	"trivy",
	"grype",
	"snyk",
	"osv",
	"npm-audit",
	"dependabot",
	"hadolint",
	"dockle",
}

const namespaceSeparators = ".:/"

// Resolve returns the fingerprint of a finding within a repository.
// It is a pure function of its inputs.
func Resolve(f *vulnerability.RawFinding, repositoryID string) string {
	return Hash(IdentityKey(f, repositoryID))
}

// IdentityKey returns the pre-hash identity key of a finding.
//
//	file-based:    repository_id|rule_id|primary_cwe
//	package-based: repository_id|package_name|rule_id
func IdentityKey(f *vulnerability.RawFinding, repositoryID string) string {
	rule := NormalizeRuleID(f.RuleID)
	if f.Type.IsPackageBased() {
		return strings.Join([]string{repositoryID, NormalizePackageName(f.Metadata.PackageName), rule}, "|")
	}
	return strings.Join([]string{repositoryID, rule, f.PrimaryCWE()}, "|")
}

// Hash returns the truncated hex SHA-256 of key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:Length]
}

// NormalizeRuleID trims and lowercases a rule id and strips scanner namespace
// prefixes such as "semgrep." or "gosec:". A rule id consisting only of a
// namespace is left as is.
func NormalizeRuleID(ruleID string) string {
	s := strings.ToLower(strings.TrimSpace(ruleID))
	for {
		stripped, ok := stripNamespace(s)
		if !ok {
			return s
		}
		s = stripped
	}
}

func stripNamespace(s string) (string, bool) {
	for _, ns := range ScannerNamespaces {
		if len(s) <= len(ns)+1 || !strings.HasPrefix(s, ns) {
			continue
		}
		if !strings.ContainsRune(namespaceSeparators, rune(s[len(ns)])) {
			continue
		}
		rest := strings.TrimSpace(s[len(ns)+1:])
		if rest == "" {
			continue
		}
		return rest, true
	}
	return s, false
}

// IsScannerNamespace reports whether segment is a known scanner name.
func IsScannerNamespace(segment string) bool {
	for _, ns := range ScannerNamespaces {
		if segment == ns {
			return true
		}
	}
	return false
}

// NormalizePackageName trims and lowercases a package name. Empty names
// become UnknownPackage.
func NormalizePackageName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return UnknownPackage
	}
	return name
}

// IsValid reports whether s looks like a fingerprint produced by Resolve.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

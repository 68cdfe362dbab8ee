package sarif

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

// Metadata keys set on converted findings.
const (
	MetaTool     = "tool"
	MetaRuleName = "rule_name"
)

var cwePattern = regexp.MustCompile(`(?i)\bcwe[-/_: ]?(\d+)\b`)

// ToRawFindings converts every result of log into a raw finding of the given
// scanner type.
//
// Rule id comes from the result, falling back to the rule reference. Title is
// the rule short description or name. Severity prefers the numeric
// "security-severity" property (CVSS scale) over the SARIF level. CWEs are
// collected from the rule "tags" and "cwe" properties and from the result
// "cwe" property.
func ToRawFindings(log *Log, scannerType vulnerability.ScannerType) []vulnerability.RawFinding {
	var findings []vulnerability.RawFinding
	for i := range log.Runs {
		run := &log.Runs[i]
		for j := range run.Results {
			findings = append(findings, toRawFinding(run, &run.Results[j], scannerType))
		}
	}
	return findings
}

func toRawFinding(run *Run, r *Result, scannerType vulnerability.ScannerType) vulnerability.RawFinding {
	rule := run.rule(r)

	f := vulnerability.RawFinding{
		Type:        scannerType,
		RuleID:      r.ruleID(),
		Description: r.Message.Text,
		Severity:    severity(run, r, rule),
		Metadata: vulnerability.FindingMetadata{
			Extra: map[string]any{MetaTool: run.Tool.Driver.Name},
		},
	}
	if f.RuleID == "" && rule != nil {
		f.RuleID = rule.ID
	}

	if rule != nil {
		switch {
		case rule.ShortDescription != nil && rule.ShortDescription.Text != "":
			f.Title = rule.ShortDescription.Text
		case rule.Name != "":
			f.Title = rule.Name
		}
		if rule.Name != "" {
			f.Metadata.Extra[MetaRuleName] = rule.Name
		}
		if f.Description == "" && rule.FullDescription != nil {
			f.Description = rule.FullDescription.Text
		}
		f.Confidence = stringProperty(rule.Properties, "precision")
		f.CWE = appendCWEs(f.CWE, rule.Properties["tags"])
		f.CWE = appendCWEs(f.CWE, rule.Properties["cwe"])
	}
	f.CWE = appendCWEs(f.CWE, r.Properties["cwe"])

	if loc := primaryLocation(r); loc != nil {
		if loc.ArtifactLocation != nil {
			f.FilePath = strings.TrimPrefix(loc.ArtifactLocation.URI, "file://")
		}
		if loc.Region != nil {
			f.LineStart = max(loc.Region.StartLine, 0)
			f.LineEnd = max(loc.Region.EndLine, f.LineStart)
		}
	}
	return f
}

func primaryLocation(r *Result) *PhysicalLocation {
	for _, loc := range r.Locations {
		if loc.PhysicalLocation != nil {
			return loc.PhysicalLocation
		}
	}
	return nil
}

func severity(run *Run, r *Result, rule *ReportingDescriptor) vulnerability.Severity {
	for _, props := range []Properties{r.Properties, ruleProperties(rule)} {
		if score, ok := floatProperty(props, "security-severity"); ok {
			return severityFromScore(score)
		}
	}

	switch effectiveLevel(run, r) {
	case LevelError:
		return vulnerability.SeverityHigh
	case LevelWarning:
		return vulnerability.SeverityMedium
	case LevelNote:
		return vulnerability.SeverityLow
	default:
		return vulnerability.SeverityInfo
	}
}

// severityFromScore maps a CVSS v3 base score onto its qualitative rating.
func severityFromScore(score float64) vulnerability.Severity {
	switch {
	case score >= 9.0:
		return vulnerability.SeverityCritical
	case score >= 7.0:
		return vulnerability.SeverityHigh
	case score >= 4.0:
		return vulnerability.SeverityMedium
	case score > 0:
		return vulnerability.SeverityLow
	default:
		return vulnerability.SeverityInfo
	}
}

func ruleProperties(rule *ReportingDescriptor) Properties {
	if rule == nil {
		return nil
	}
	return rule.Properties
}

func floatProperty(props Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringProperty(props Properties, key string) string {
	s, _ := props[key].(string)
	return s
}

// appendCWEs adds "CWE-<n>" entries found in v (a string or a list of
// strings) that are not in dst yet.
func appendCWEs(dst []string, v any) []string {
	var values []string
	switch t := v.(type) {
	case string:
		values = []string{t}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}

	for _, s := range values {
		for _, m := range cwePattern.FindAllStringSubmatch(s, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			cwe := "CWE-" + strconv.Itoa(n)
			if !slices.Contains(dst, cwe) {
				dst = append(dst, cwe)
			}
		}
	}
	return dst
}

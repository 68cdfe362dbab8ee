package sarif

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Parser errors.
var (
	ErrInvalidSARIF       = errors.New("invalid SARIF format")
	ErrUnsupportedVersion = errors.New("unsupported SARIF version")
	ErrEmptyRuns          = errors.New("SARIF log contains no runs")
)

// SupportedVersions contains the supported SARIF versions.
var SupportedVersions = []string{"2.1.0"}

// Options configures which results a Parser keeps.
type Options struct {
	// MinLevel drops results below this level. Empty keeps all levels.
	MinLevel Level

	// IncludeSuppressed keeps results with an accepted or pending suppression.
	IncludeSuppressed bool

	// MaxResults caps the results kept across all runs (0 = unlimited).
	MaxResults int
}

// Parser parses SARIF logs.
type Parser struct {
	opts Options
}

// NewParser creates a parser.
func NewParser(opts Options) (*Parser, error) {
	if !opts.MinLevel.IsValid() {
		return nil, fmt.Errorf("invalid minimum level %q", opts.MinLevel)
	}
	if opts.MaxResults < 0 {
		return nil, fmt.Errorf("max results must not be negative, got %d", opts.MaxResults)
	}
	return &Parser{opts: opts}, nil
}

// Parse decodes data and drops results the options exclude. Results whose
// kind is not a problem (pass, informational, notApplicable) are always
// dropped.
func (p *Parser) Parse(data []byte) (*Log, error) {
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSARIF, err)
	}
	if !slices.Contains(SupportedVersions, log.Version) {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedVersion, log.Version, SupportedVersions)
	}
	if len(log.Runs) == 0 {
		return nil, ErrEmptyRuns
	}

	kept := 0
	for i := range log.Runs {
		run := &log.Runs[i]
		results := run.Results[:0]
		for _, r := range run.Results {
			if p.opts.MaxResults > 0 && kept >= p.opts.MaxResults {
				break
			}
			if !p.keep(run, &r) {
				continue
			}
			results = append(results, r)
			kept++
		}
		run.Results = results
	}
	return &log, nil
}

func (p *Parser) keep(run *Run, r *Result) bool {
	if !r.Kind.IsProblem() {
		return false
	}
	if !p.opts.IncludeSuppressed && r.IsSuppressed() {
		return false
	}
	if p.opts.MinLevel != "" && effectiveLevel(run, r).rank() < p.opts.MinLevel.rank() {
		return false
	}
	return true
}

// Detect reports whether data looks like a SARIF log rather than a finding
// document.
func Detect(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	var head struct {
		Version string          `json:"version"`
		Runs    json.RawMessage `json:"runs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return false
	}
	return head.Version != "" && len(head.Runs) > 0
}

// effectiveLevel is the result level, else the rule default, else "warning".
func effectiveLevel(run *Run, r *Result) Level {
	if r.Level != "" {
		return r.Level
	}
	if rule := run.rule(r); rule != nil && rule.DefaultConfiguration != nil && rule.DefaultConfiguration.Level != "" {
		return rule.DefaultConfiguration.Level
	}
	return LevelWarning
}

// rule finds the descriptor of a result by index, then by id.
func (run *Run) rule(r *Result) *ReportingDescriptor {
	rules := run.Tool.Driver.Rules
	idx := r.RuleIndex
	if idx == nil && r.Rule != nil {
		idx = r.Rule.Index
	}
	if idx != nil && *idx >= 0 && *idx < len(rules) {
		return &rules[*idx]
	}

	id := r.ruleID()
	if id == "" {
		return nil
	}
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	for _, ext := range run.Tool.Extensions {
		for i := range ext.Rules {
			if ext.Rules[i].ID == id {
				return &ext.Rules[i]
			}
		}
	}
	return nil
}

func (r *Result) ruleID() string {
	if r.RuleID != "" {
		return r.RuleID
	}
	if r.Rule != nil {
		return r.Rule.ID
	}
	return ""
}

// Package sarif reads SARIF 2.1.0 logs and converts their results into raw
// findings. Only the parts of the format that carry finding identity are
// modeled; everything else in a log is ignored when decoding.
package sarif

// Log is the root SARIF object.
type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema,omitempty"`
	Runs    []Run  `json:"runs"`
}

// Run is one invocation of one tool.
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results,omitempty"`
}

// Tool describes the analyzer. Rules may live on the driver or on an extension.
type Tool struct {
	Driver     ToolComponent   `json:"driver"`
	Extensions []ToolComponent `json:"extensions,omitempty"`
}

// ToolComponent is a driver or extension.
type ToolComponent struct {
	Name    string                `json:"name"`
	Version string                `json:"version,omitempty"`
	Rules   []ReportingDescriptor `json:"rules,omitempty"`
}

// ReportingDescriptor describes a rule.
type ReportingDescriptor struct {
	ID                   string                    `json:"id"`
	Name                 string                    `json:"name,omitempty"`
	ShortDescription     *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription      *MultiformatMessageString `json:"fullDescription,omitempty"`
	DefaultConfiguration *ReportingConfiguration   `json:"defaultConfiguration,omitempty"`
	Properties           Properties                `json:"properties,omitempty"`
}

// ReportingConfiguration holds the default level of a rule.
type ReportingConfiguration struct {
	Level Level `json:"level,omitempty"`
}

// Result is one reported problem.
type Result struct {
	RuleID       string                        `json:"ruleId,omitempty"`
	RuleIndex    *int                          `json:"ruleIndex,omitempty"`
	Rule         *ReportingDescriptorReference `json:"rule,omitempty"`
	Kind         Kind                          `json:"kind,omitempty"`
	Level        Level                         `json:"level,omitempty"`
	Message      Message                       `json:"message"`
	Locations    []Location                    `json:"locations,omitempty"`
	Properties   Properties                    `json:"properties,omitempty"`
	Suppressions []Suppression                 `json:"suppressions,omitempty"`
}

// ReportingDescriptorReference points at a rule by id or index.
type ReportingDescriptorReference struct {
	ID    string `json:"id,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// Location wraps a physical location.
type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
}

// PhysicalLocation is a file plus a region.
type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

// ArtifactLocation is the file of a location.
type ArtifactLocation struct {
	URI       string `json:"uri,omitempty"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

// Region is a line range. Lines are 1-based; zero means absent.
type Region struct {
	StartLine int `json:"startLine,omitempty"`
	EndLine   int `json:"endLine,omitempty"`
}

// Message is user-facing text.
type Message struct {
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// MultiformatMessageString is text with an optional markdown rendering.
type MultiformatMessageString struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
}

// Suppression marks a result as suppressed.
type Suppression struct {
	Kind   string            `json:"kind"`
	Status SuppressionStatus `json:"status,omitempty"`
}

// Properties is a property bag.
type Properties map[string]any

// Level is the SARIF result level.
type Level string

const (
	LevelNone    Level = "none"
	LevelNote    Level = "note"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// IsValid checks if the level is valid. The empty level is allowed.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelNote, LevelWarning, LevelError, "":
		return true
	default:
		return false
	}
}

func (l Level) rank() int {
	switch l {
	case LevelError:
		return 3
	case LevelWarning:
		return 2
	case LevelNote:
		return 1
	default:
		return 0
	}
}

// Kind is the SARIF result kind.
type Kind string

const (
	KindNotApplicable Kind = "notApplicable"
	KindPass          Kind = "pass"
	KindFail          Kind = "fail"
	KindReview        Kind = "review"
	KindOpen          Kind = "open"
	KindInformational Kind = "informational"
)

// IsProblem reports whether a result of this kind describes a problem.
// An empty kind means "fail".
func (k Kind) IsProblem() bool {
	switch k {
	case "", KindFail, KindReview, KindOpen:
		return true
	default:
		return false
	}
}

// SuppressionStatus is the review state of a suppression.
type SuppressionStatus string

const (
	SuppressionStatusAccepted    SuppressionStatus = "accepted"
	SuppressionStatusUnderReview SuppressionStatus = "underReview"
	SuppressionStatusRejected    SuppressionStatus = "rejected"
)

// IsSuppressed reports whether the result carries a suppression that was not
// rejected.
func (r *Result) IsSuppressed() bool {
	for _, s := range r.Suppressions {
		if s.Status != SuppressionStatusRejected {
			return true
		}
	}
	return false
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// TitleTier identifies which tier of the fallback chain produced a title.
type TitleTier int

const (
	TierAI            TitleTier = 1
	TierDeterministic TitleTier = 2
	TierLiteral       TitleTier = 3
)

// String returns the metric label of the tier.
func (t TitleTier) String() string {
	switch t {
	case TierAI:
		return "ai"
	case TierDeterministic:
		return "deterministic"
	case TierLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// UnknownTitle is the title of a finding with neither a title nor a rule id.
const UnknownTitle = "Unknown Vulnerability"

// Title tier failures.
var (
	ErrEmptyTitle          = errors.New("title generator returned an empty title")
	ErrTitleGeneratorPanic = errors.New("title generator panicked")
	ErrEmptyRuleID         = errors.New("rule id is empty")
	ErrNoTitleWords        = errors.New("rule id has no title words")
)

// TitleContext is the rule metadata handed to a TitleGenerator.
type TitleContext struct {
	ScannerType      vulnerability.ScannerType
	RuleID           string
	NormalizedRuleID string
	RawTitle         string
	Description      string
	CWE              []string
	PackageName      string
	Severity         vulnerability.Severity
}

const maxContextDescription = 2000

// NewTitleContext builds the generator context of a finding.
func NewTitleContext(f *vulnerability.RawFinding) TitleContext {
	desc := strings.TrimSpace(f.Description)
	if utf8.RuneCountInString(desc) > maxContextDescription {
		desc = string([]rune(desc)[:maxContextDescription])
	}
	return TitleContext{
		ScannerType:      f.Type,
		RuleID:           f.RuleID,
		NormalizedRuleID: fingerprint.NormalizeRuleID(f.RuleID),
		RawTitle:         strings.TrimSpace(f.Title),
		Description:      desc,
		CWE:              f.CWE,
		PackageName:      strings.TrimSpace(f.Metadata.PackageName),
		Severity:         f.Severity,
	}
}

// TitleGenerator produces a human-readable title for a rule. Implementations
// may fail or time out; the normalizer never retries.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, tc TitleContext) (string, error)
}

// TierError is the failure of one tier of the chain.
type TierError struct {
	Tier TitleTier
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s tier: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// TitleResult is the tagged outcome of the fallback chain.
type TitleResult struct {
	Title string
	Tier  TitleTier
	// Errors holds the failures of the tiers tried before Tier.
	Errors []*TierError
	// Cached is set when the result was reused from an earlier finding of
	// the same batch; its Errors were already reported.
	Cached bool
}

// TitleNormalizer runs the AI, deterministic and literal tiers in order. It
// memoizes by rule so a batch asks the generator once per rule. Create one
// per batch.
type TitleNormalizer struct {
	generator TitleGenerator
	timeout   time.Duration
	logger    *logger.Logger

	mu    sync.Mutex
	memo  map[titleKey]TitleResult
	group singleflight.Group
}

type titleKey struct {
	scannerType vulnerability.ScannerType
	ruleID      string
	rawTitle    string
	packageName string
}

func (k titleKey) String() string {
	return strings.Join([]string{string(k.scannerType), k.ruleID, k.rawTitle, k.packageName}, "\x00")
}

// NewTitleNormalizer creates a normalizer. A nil generator skips the AI tier.
func NewTitleNormalizer(generator TitleGenerator, timeout time.Duration, log *logger.Logger) *TitleNormalizer {
	if timeout <= 0 {
		timeout = DefaultTitleTimeout
	}
	return &TitleNormalizer{
		generator: generator,
		timeout:   timeout,
		logger:    log.With("component", "title_normalizer"),
		memo:      make(map[titleKey]TitleResult),
	}
}

// Normalize returns a non-empty title for the finding. It never fails.
func (n *TitleNormalizer) Normalize(ctx context.Context, f *vulnerability.RawFinding) TitleResult {
	key := titleKey{
		scannerType: f.Type,
		ruleID:      fingerprint.NormalizeRuleID(f.RuleID),
		rawTitle:    strings.TrimSpace(f.Title),
		packageName: strings.TrimSpace(f.Metadata.PackageName),
	}

	n.mu.Lock()
	if r, ok := n.memo[key]; ok {
		n.mu.Unlock()
		r.Cached = true
		return r
	}
	n.mu.Unlock()

	computed := false
	v, _, _ := n.group.Do(key.String(), func() (any, error) {
		n.mu.Lock()
		if r, ok := n.memo[key]; ok {
			n.mu.Unlock()
			return r, nil
		}
		n.mu.Unlock()

		computed = true
		r := n.compute(ctx, f)
		n.mu.Lock()
		n.memo[key] = r
		n.mu.Unlock()
		return r, nil
	})

	r := v.(TitleResult)
	r.Cached = !computed
	return r
}

func (n *TitleNormalizer) compute(ctx context.Context, f *vulnerability.RawFinding) TitleResult {
	var errs []*TierError

	if n.generator != nil {
		title, err := n.generate(ctx, f)
		if err == nil {
			return TitleResult{Title: title, Tier: TierAI}
		}
		n.logger.Debug("ai title tier failed", "rule_id", f.RuleID, "error", err)
		errs = append(errs, &TierError{Tier: TierAI, Err: err})
	}

	title, err := DeterministicTitle(f)
	if err == nil {
		return TitleResult{Title: title, Tier: TierDeterministic, Errors: errs}
	}
	errs = append(errs, &TierError{Tier: TierDeterministic, Err: err})

	return TitleResult{Title: LiteralTitle(f), Tier: TierLiteral, Errors: errs}
}

// generate runs the generator under the tier timeout. The call runs in its
// own goroutine so a generator that ignores ctx cannot stall the batch.
func (n *TitleNormalizer) generate(ctx context.Context, f *vulnerability.RawFinding) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	type answer struct {
		title string
		err   error
	}
	ch := make(chan answer, 1)
	tc := NewTitleContext(f)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- answer{err: fmt.Errorf("%w: %v", ErrTitleGeneratorPanic, rec)}
			}
		}()
		title, err := n.generator.GenerateTitle(ctx, tc)
		ch <- answer{title: title, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return "", a.err
		}
		title := CollapseSelfDuplication(SanitizeGeneratedTitle(a.title))
		if title == "" {
			return "", ErrEmptyTitle
		}
		return title, nil
	}
}

// =============================================================================
// Deterministic tier
// =============================================================================

// genericSegments are rule id segments that carry no meaning in a title.
var genericSegments = map[string]bool{
	"rules":    true,
	"rule":     true,
	"lang":     true,
	"security": true,
	"audit":    true,
	"generic":  true,
	"detected": true,
	"detect":   true,
	"check":    true,
	"checks":   true,
	"ckv":      true,
	"policy":   true,
}

// acronyms keep their upper-case spelling in titles.
var acronyms = map[string]bool{
	"SQL": true, "XSS": true, "CSRF": true, "SSRF": true, "XXE": true,
	"JWT": true, "API": true, "AWS": true, "GCP": true, "SSH": true,
	"TLS": true, "SSL": true, "HTTP": true, "HTTPS": true, "URL": true,
	"RCE": true, "IDOR": true, "IAM": true, "S3": true, "K8S": true,
	"OS": true, "LDAP": true, "XML": true, "JSON": true, "YAML": true,
	"DNS": true,
}

var advisoryIDRegex = regexp.MustCompile(`(?i)^(CVE-\d{4}-\d{4,}|GHSA(-[0-9a-z]{4}){3}|OSV-\d{4}-\d+|RUSTSEC-\d{4}-\d{4,}|PYSEC-\d{4}-\d+|GO-\d{4}-\d{4,})$`)

// DeterministicTitle derives a title from the rule id alone.
func DeterministicTitle(f *vulnerability.RawFinding) (string, error) {
	rule := fingerprint.NormalizeRuleID(f.RuleID)
	if rule == "" {
		return "", ErrEmptyRuleID
	}

	if advisoryIDRegex.MatchString(rule) {
		title := strings.ToUpper(rule)
		if pkg := strings.TrimSpace(f.Metadata.PackageName); pkg != "" && f.Type.IsPackageBased() {
			title += " in " + pkg
		}
		return title, nil
	}

	segments := strings.FieldsFunc(rule, func(r rune) bool {
		return strings.ContainsRune(".-_/:", r)
	})

	caser := cases.Title(language.English)
	words := make([]string, 0, len(segments))
	for _, seg := range segments {
		if genericSegments[seg] || fingerprint.IsScannerNamespace(seg) {
			continue
		}
		if upper := strings.ToUpper(seg); acronyms[upper] {
			words = append(words, upper)
			continue
		}
		words = append(words, caser.String(seg))
	}
	if len(words) == 0 {
		return "", ErrNoTitleWords
	}

	return CollapseSelfDuplication(strings.Join(words, " ")), nil
}

// =============================================================================
// Literal tier
// =============================================================================

// LiteralTitle returns the raw title, else the raw rule id, else UnknownTitle.
func LiteralTitle(f *vulnerability.RawFinding) string {
	for _, candidate := range []string{f.Title, f.RuleID} {
		if s := strings.Join(strings.Fields(candidate), " "); s != "" {
			return CollapseSelfDuplication(s)
		}
	}
	return UnknownTitle
}

// CollapseSelfDuplication turns "X X" into "X", comparing words
// case-insensitively, until the title is no longer two identical halves.
func CollapseSelfDuplication(title string) string {
	words := strings.Fields(title)
	for len(words) >= 2 && len(words)%2 == 0 {
		half := len(words) / 2
		if !strings.EqualFold(strings.Join(words[:half], " "), strings.Join(words[half:], " ")) {
			break
		}
		words = words[:half]
	}
	return strings.Join(words, " ")
}

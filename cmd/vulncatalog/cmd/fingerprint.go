package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
	"github.com/openctemio/vulncatalog/pkg/logger"
	"github.com/openctemio/vulncatalog/pkg/parsers/sarif"
)

var flagFingerprintRepository string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint FILE",
	Short: "Show the identity of raw findings without touching the catalog",
	Long: `Print the fingerprint, identity key, non-AI title and location of each
finding in FILE. FILE holds one finding object, an array of findings or a
SARIF log; "-" reads standard input. No configuration or database is needed.`,
	Example: `  vulncatalog fingerprint finding.json --repository repo-1
  jq '.findings' scan-42.json | vulncatalog fingerprint - --repository repo-1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runFingerprint,
}

func init() {
	fingerprintCmd.Flags().StringVar(&flagFingerprintRepository, "repository", "", "Repository id (required)")
	_ = fingerprintCmd.MarkFlagRequired("repository")
}

// findingIdentity is how the catalog would see one raw finding.
type findingIdentity struct {
	RuleID      string `json:"rule_id" yaml:"rule_id"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	IdentityKey string `json:"identity_key" yaml:"identity_key"`
	Title       string `json:"title" yaml:"title"`
	TitleTier   string `json:"title_tier" yaml:"title_tier"`
	Location    string `json:"location" yaml:"location"`
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	if err := validateOutput(flagOutput); err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	findings, err := decodeFindings(data)
	if err != nil {
		return err
	}

	ids := identify(cmd.Context(), findings, flagFingerprintRepository)

	w := cmd.OutOrStdout()
	if done, err := printStructured(w, flagOutput, ids); done {
		return err
	}
	t := newTable(w, "FINGERPRINT", "TITLE", "TIER", "LOCATION")
	for _, id := range ids {
		t.AddRow(id.Fingerprint, id.Title, id.TitleTier, id.Location)
	}
	t.Flush()
	return nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// decodeFindings accepts a single finding object, an array of findings or a
// SARIF log, whose results are read as SAST findings.
func decodeFindings(data []byte) ([]vulnerability.RawFinding, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no findings in input")
	}
	if sarif.Detect(data) {
		return parseSarif(data, vulnerability.ScannerTypeSAST)
	}

	if data[0] == '[' {
		var findings []vulnerability.RawFinding
		if err := json.Unmarshal(data, &findings); err != nil {
			return nil, fmt.Errorf("parse findings: %w", err)
		}
		return findings, nil
	}

	var f vulnerability.RawFinding
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse finding: %w", err)
	}
	return []vulnerability.RawFinding{f}, nil
}

// identify computes identities with the non-AI title tiers.
func identify(ctx context.Context, findings []vulnerability.RawFinding, repositoryID string) []findingIdentity {
	titles := dedup.NewTitleNormalizer(nil, 0, logger.NewNop())

	ids := make([]findingIdentity, 0, len(findings))
	for i := range findings {
		f := &findings[i]
		title := titles.Normalize(ctx, f)
		ids = append(ids, findingIdentity{
			RuleID:      f.RuleID,
			Fingerprint: fingerprint.Resolve(f, repositoryID),
			IdentityKey: fingerprint.IdentityKey(f, repositoryID),
			Title:       title.Title,
			TitleTier:   title.Tier.String(),
			Location:    fingerprint.Location(f),
		})
	}
	return ids
}

package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/parsers/sarif"
)

var (
	flagSarifScan              string
	flagSarifWorkspace         string
	flagSarifRepository        string
	flagSarifScannerType       string
	flagSarifMinLevel          string
	flagSarifIncludeSuppressed bool
)

var sarifCmd = &cobra.Command{
	Use:   "sarif FILE",
	Short: "Convert a SARIF log into a batch document",
	Long: `Convert the results of a SARIF 2.1.0 log into a batch document that
"process" and "enqueue process" accept. Passing and suppressed results are
dropped. The document is written to standard output; "-" reads the log from
standard input.`,
	Example: `  vulncatalog sarif results.sarif --scan scan-42 --workspace ws-1 --repository repo-1 > scan-42.json
  vulncatalog process scan-42.json --resolve`,
	Args: cobra.ExactArgs(1),
	RunE: runSarif,
}

func init() {
	sarifCmd.Flags().StringVar(&flagSarifScan, "scan", "", "Scan id (required)")
	sarifCmd.Flags().StringVar(&flagSarifWorkspace, "workspace", "", "Workspace id (required)")
	sarifCmd.Flags().StringVar(&flagSarifRepository, "repository", "", "Repository id (required)")
	sarifCmd.Flags().StringVar(&flagSarifScannerType, "scanner-type", string(vulnerability.ScannerTypeSAST), "Scanner type of the results: sast, sca, secrets, iac, container")
	sarifCmd.Flags().StringVar(&flagSarifMinLevel, "min-level", "", "Drop results below this level: note, warning, error")
	sarifCmd.Flags().BoolVar(&flagSarifIncludeSuppressed, "include-suppressed", false, "Keep suppressed results")
	_ = sarifCmd.MarkFlagRequired("scan")
	_ = sarifCmd.MarkFlagRequired("workspace")
	_ = sarifCmd.MarkFlagRequired("repository")
}

func runSarif(cmd *cobra.Command, args []string) error {
	scannerType := vulnerability.ParseScannerType(flagSarifScannerType)
	if !scannerType.IsValid() {
		return fmt.Errorf("unsupported scanner type %q", flagSarifScannerType)
	}

	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	findings, err := parseSarif(data, scannerType)
	if err != nil {
		return err
	}

	batch := dedup.ScanBatch{
		ScanID:       flagSarifScan,
		WorkspaceID:  flagSarifWorkspace,
		RepositoryID: flagSarifRepository,
		Now:          time.Now().UTC(),
		Findings:     findings,
	}
	out, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func parseSarif(data []byte, scannerType vulnerability.ScannerType) ([]vulnerability.RawFinding, error) {
	parser, err := sarif.NewParser(sarif.Options{
		MinLevel:          sarif.Level(flagSarifMinLevel),
		IncludeSuppressed: flagSarifIncludeSuppressed,
	})
	if err != nil {
		return nil, err
	}
	log, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return sarif.ToRawFindings(log, scannerType), nil
}

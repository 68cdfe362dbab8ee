package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
)

var (
	flagResolveRepository string
	flagResolveScan       string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Mark vulnerabilities fixed that vanished since the previous scan",
	Long: `Compare a completed scan with the previous completed scan of the same
repository and mark every open vulnerability seen only in the previous scan
as fixed.`,
	Example: `  vulncatalog resolve --repository repo-1 --scan scan-42`,
	Args:    cobra.NoArgs,
	RunE:    runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&flagResolveRepository, "repository", "", "Repository id (required)")
	resolveCmd.Flags().StringVar(&flagResolveScan, "scan", "", "Current scan id (required)")
	_ = resolveCmd.MarkFlagRequired("repository")
	_ = resolveCmd.MarkFlagRequired("scan")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.startTelemetry(ctx); err != nil {
		return err
	}
	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	svc, err := env.newService(ctx, db)
	if err != nil {
		return err
	}

	res, err := svc.ResolveVanished(ctx, flagResolveRepository, flagResolveScan)
	if err != nil {
		return fmt.Errorf("failed to resolve vanished vulnerabilities: %w", err)
	}

	w := cmd.OutOrStdout()
	if done, err := printStructured(w, flagOutput, res); done {
		return err
	}
	printResolveResult(w, res)
	return nil
}

func printResolveResult(w io.Writer, res *dedup.ResolveResult) {
	if res.PreviousScanID == "" {
		fmt.Fprintln(w, "No previous completed scan; nothing to resolve.")
		return
	}
	fmt.Fprintf(w, "Compared with scan %s: %d vulnerabilities marked fixed.\n", res.PreviousScanID, res.FixedCount)
	for _, id := range res.FixedIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

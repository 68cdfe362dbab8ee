package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
)

var flagProcessResolve bool

var processCmd = &cobra.Command{
	Use:   "process URI",
	Short: "Deduplicate one batch document",
	Long: `Load a batch document and fold its findings into the catalog.

URI is a local path, file://path, s3://bucket/key (STORAGE_S3_ENABLED) or an
http(s) URL (STORAGE_HTTP_ENABLED). zstd and gzip documents are decompressed.`,
	Example: `  vulncatalog process ./scan-42.json
  vulncatalog process s3://scan-batches/2026/10/scan-42.json.zst --resolve -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&flagProcessResolve, "resolve", false, "Auto-resolve vulnerabilities that vanished since the previous scan")
}

// processOutput is the result of the process command.
type processOutput struct {
	ScanID       string                 `json:"scan_id" yaml:"scan_id"`
	RepositoryID string                 `json:"repository_id" yaml:"repository_id"`
	Stats        *dedup.ProcessingStats `json:"stats" yaml:"stats"`
	Resolve      *dedup.ResolveResult   `json:"resolve,omitempty" yaml:"resolve,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
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
	loader, err := env.newLoader(ctx)
	if err != nil {
		return err
	}

	batch, err := loader.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	out, err := processBatch(ctx, svc, batch, flagProcessResolve)
	if err != nil {
		return err
	}
	return printProcessOutput(cmd.OutOrStdout(), flagOutput, out)
}

// batchService is the part of dedup.Service the commands drive.
type batchService interface {
	ProcessBatch(ctx context.Context, batch dedup.ScanBatch) (*dedup.ProcessingStats, error)
	ResolveVanished(ctx context.Context, repositoryID, currentScanID string) (*dedup.ResolveResult, error)
}

func processBatch(ctx context.Context, svc batchService, batch *dedup.ScanBatch, resolve bool) (*processOutput, error) {
	stats, err := svc.ProcessBatch(ctx, *batch)
	if err != nil {
		return nil, fmt.Errorf("failed to process batch: %w", err)
	}

	out := &processOutput{
		ScanID:       batch.ScanID,
		RepositoryID: batch.RepositoryID,
		Stats:        stats,
	}
	if resolve {
		res, err := svc.ResolveVanished(ctx, batch.RepositoryID, batch.ScanID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vanished vulnerabilities: %w", err)
		}
		out.Resolve = res
	}
	return out, nil
}

func printProcessOutput(w io.Writer, format string, out *processOutput) error {
	if done, err := printStructured(w, format, out); done {
		return err
	}

	s := out.Stats
	fmt.Fprintf(w, "Scan %s (repository %s)\n\n", out.ScanID, out.RepositoryID)
	t := newTable(w, "METRIC", "COUNT")
	t.AddRow("findings", itoa(s.FindingsTotal))
	t.AddRow("findings skipped", itoa(s.FindingsSkipped))
	t.AddRow("unified created", itoa(s.UnifiedCreated))
	t.AddRow("unified updated", itoa(s.UnifiedUpdated))
	t.AddRow("unified reopened", itoa(s.UnifiedReopened))
	t.AddRow("unified errors", itoa(s.UnifiedErrors))
	t.AddRow("instances created", itoa(s.InstancesCreated))
	t.AddRow("instances already existed", itoa(s.InstancesAlreadyExisted))
	t.AddRow("instances skipped duplicate", itoa(s.InstancesSkippedDuplicate))
	t.AddRow("instance errors", itoa(s.InstanceErrors))
	t.AddRow("titles from AI", itoa(s.TitlesFromAI))
	t.AddRow("titles from fallback", itoa(s.TitlesFromFallback))
	t.AddRow("title errors", itoa(s.TitleErrors))
	t.Flush()

	fmt.Fprintf(w, "\nDuration: %dms\n", s.DurationMs)
	if out.Resolve != nil {
		printResolveResult(w, out.Resolve)
	}
	return nil
}

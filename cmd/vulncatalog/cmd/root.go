// Package cmd implements the vulncatalog command line.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	flagOutput    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vulncatalog",
	Short: "Vulnerability identity and deduplication engine",
	Long: `vulncatalog folds raw scanner findings into a catalog of unique
vulnerabilities per repository and records every sighting as an instance.

Configuration is read from the environment (DB_*, REDIS_*, TITLE_AI_*,
STORAGE_*, WORKER_*, OTEL_*). Secret settings may be sealed with
"vulncatalog encrypt-secret" and APP_ENCRYPTION_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", outputTable, "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Override LOG_FORMAT")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(sarifCmd)
	rootCmd.AddCommand(encryptSecretCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vulncatalog version %s\n", version)
		fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

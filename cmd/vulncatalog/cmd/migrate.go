package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			return r.Up(cmd.Context())
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			return r.Down(cmd.Context())
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			statuses, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if done, err := printStructured(w, flagOutput, statuses); done {
				return err
			}
			t := newTable(w, "VERSION", "NAME", "APPLIED")
			for _, st := range statuses {
				applied := "pending"
				if st.AppliedAt != nil {
					applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				t.AddRow(st.Version, st.Name, applied)
			}
			t.Flush()
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	env, err := newAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	db, err := env.openDB(cmd.Context())
	if err != nil {
		return err
	}
	return fn(migrations.NewRunner(db.DB, migrations.Files(), cmd.OutOrStdout()))
}

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"time"
)

// Runner executes database migrations.
type Runner struct {
	db   *sql.DB
	fsys fs.FS
	out  io.Writer
}

// NewRunner creates a new migration runner. Progress is written to out.
func NewRunner(db *sql.DB, fsys fs.FS, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		db:   db,
		fsys: fsys,
		out:  out,
	}
}

// MigrationRecord represents a migration in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus is the state of one available migration.
type MigrationStatus struct {
	Version   string     `json:"version" yaml:"version"`
	Name      string     `json:"name" yaml:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

// EnsureMigrationTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureMigrationTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations returns all applied migration versions.
func (r *Runner) GetAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	query := `SELECT version, applied_at FROM schema_migrations ORDER BY version`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPendingMigrations returns migrations that need to be applied.
func (r *Runner) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := LoadMigrations(r.fsys, DirectionUp)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	return pendingMigrations(available, applied), nil
}

func pendingMigrations(available []Migration, applied []MigrationRecord) []Migration {
	appliedSet := make(map[string]bool, len(applied))
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []Migration
	for _, m := range available {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

// Up runs all pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}

	pending, err := r.GetPendingMigrations(ctx)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Fprintln(r.out, "No pending migrations")
		return nil
	}

	fmt.Fprintf(r.out, "Running %d migrations...\n", len(pending))

	for _, m := range pending {
		if err := r.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		fmt.Fprintf(r.out, "  Applied: %s\n", m)
	}

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(r.out, "No migrations to rollback")
		return nil
	}

	last := applied[len(applied)-1]

	downs, err := LoadMigrations(r.fsys, DirectionDown)
	if err != nil {
		return fmt.Errorf("failed to scan migrations: %w", err)
	}

	var target *Migration
	for i := range downs {
		if downs[i].Version == last.Version {
			target = &downs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no down migration for version %s", last.Version)
	}

	if err := r.runMigration(ctx, *target); err != nil {
		return fmt.Errorf("rollback %s failed: %w", last.Version, err)
	}

	fmt.Fprintf(r.out, "Rolled back: %s\n", target)
	return nil
}

// runMigration executes a single migration and records it in one transaction.
func (r *Runner) runMigration(ctx context.Context, m Migration) error {
	content, err := ReadMigrationContent(r.fsys, m)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}

	switch m.Direction {
	case DirectionUp:
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
	case DirectionDown:
		_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Status returns the state of every available migration.
func (r *Runner) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	available, err := LoadMigrations(r.fsys, DirectionUp)
	if err != nil {
		return nil, err
	}

	return migrationStatuses(available, applied), nil
}

func migrationStatuses(available []Migration, applied []MigrationRecord) []MigrationStatus {
	appliedAt := make(map[string]time.Time, len(applied))
	for _, rec := range applied {
		appliedAt[rec.Version] = rec.AppliedAt
	}

	statuses := make([]MigrationStatus, 0, len(available))
	for _, m := range available {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if at, ok := appliedAt[m.Version]; ok {
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses
}

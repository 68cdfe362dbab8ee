package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/openctemio/vulncatalog/internal/config"
)

const connectTimeout = 5 * time.Second

// DB is the catalog database handle shared by the repositories.
type DB struct {
	*sql.DB
	name string
}

// New opens the connection pool and verifies the server answers before
// returning. The ping is bounded by ctx and by connectTimeout.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database %s at %s:%d: %w", cfg.Name, cfg.Host, cfg.Port, err)
	}

	return &DB{DB: sqlDB, name: cfg.Name}, nil
}

// Ping makes DB a readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// StatsCollector exports the sql.DBStats of the pool.
func (db *DB) StatsCollector() prometheus.Collector {
	return collectors.NewDBStatsCollector(db.DB, db.name)
}

// Transaction runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back on an error or a panic, which is re-raised.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

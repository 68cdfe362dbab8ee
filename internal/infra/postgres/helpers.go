package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// pqUniqueViolation is the SQLSTATE of a unique constraint violation. The
// dedup keys of both catalog tables rely on it to detect concurrent inserts.
const pqUniqueViolation pq.ErrorCode = "23505"

// Optional text columns (titles, file paths, cwe lists) store "" as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// Timestamps such as fixed_at and completed_at are nil until set.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue returns the timestamp in UTC, or nil for NULL.
func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	utc := nt.Time.UTC()
	return &utc
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// scanIDs drains rows of a single id column and closes them.
func scanIDs(rows *sql.Rows) ([]shared.ID, error) {
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
)

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullString("x"))
	assert.Equal(t, "", nullStringValue(sql.NullString{}))
	assert.Equal(t, "x", nullStringValue(sql.NullString{String: "x", Valid: true}))
}

func TestNullTime(t *testing.T) {
	assert.False(t, nullTime(nil).Valid)
	assert.Nil(t, nullTimeValue(sql.NullTime{}))

	loc := time.FixedZone("UTC+7", 7*3600)
	at := time.Date(2026, 3, 1, 19, 0, 0, 0, loc)
	nt := nullTime(&at)
	require.True(t, nt.Valid)

	got := nullTimeValue(nt)
	require.NotNil(t, got)
	assert.True(t, got.Equal(at))
	assert.Equal(t, time.UTC, got.Location())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "foreign key violation", err: &pq.Error{Code: "23503"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestUnifiedArgs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &vulnerability.RawFinding{Type: vulnerability.ScannerTypeSAST, RuleID: "xss", Severity: vulnerability.SeverityHigh}
	v := vulnerability.NewUnifiedVulnerability("0123456789abcdef0123456789abcdef", "XSS", "repo-1", "", f, now)

	args := unifiedArgs(v)
	require.Len(t, args, 16)
	assert.Equal(t, v.ID.String(), args[0])
	assert.Equal(t, v.Fingerprint, args[1])
	assert.Equal(t, sql.NullString{}, args[7], "empty workspace is stored as NULL")
	assert.Equal(t, "open", args[10])
	assert.Equal(t, sql.NullTime{}, args[13])
}

func TestInstanceArgs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &vulnerability.RawFinding{
		Type:     vulnerability.ScannerTypeSCA,
		RuleID:   "CVE-2021-23337",
		Metadata: vulnerability.FindingMetadata{PackageName: "lodash", PackageVersion: "4.17.20"},
	}
	inst := vulnerability.NewInstance("key", "scan-1", vulnerability.NewUnifiedVulnerability("fp", "t", "repo-1", "ws-1", f, now).ID,
		"repo-1", "ws-1", "lodash@4.17.20", f, now)

	args := instanceArgs(inst)
	require.Len(t, args, 14)
	assert.Equal(t, "key", args[1])
	assert.Equal(t, sql.NullString{}, args[7], "package findings have no file path")
	assert.Equal(t, sql.NullString{String: "lodash", Valid: true}, args[10])
	assert.Equal(t, "unknown", args[12])
}

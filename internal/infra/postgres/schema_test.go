package postgres

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/pkg/domain/scansession"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
	"github.com/openctemio/vulncatalog/pkg/migrations"
)

var (
	createTableRegex = regexp.MustCompile(`(?is)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)
	columnRegex      = regexp.MustCompile(`(?m)^\s+(\w+)\s+([A-Z]+(?:\(\d+\))?)`)
	varcharRegex     = regexp.MustCompile(`^VARCHAR\((\d+)\)$`)
)

// schemaColumns maps table -> column -> SQL type as declared by the up migrations.
func schemaColumns(t *testing.T) map[string]map[string]string {
	t.Helper()

	ups, err := migrations.LoadMigrations(migrations.Files(), migrations.DirectionUp)
	require.NoError(t, err)

	tables := make(map[string]map[string]string)
	for _, m := range ups {
		content, err := migrations.ReadMigrationContent(migrations.Files(), m)
		require.NoError(t, err)

		for _, table := range createTableRegex.FindAllStringSubmatch(string(content), -1) {
			cols := make(map[string]string)
			for _, col := range columnRegex.FindAllStringSubmatch(table[2], -1) {
				if col[1] == "CONSTRAINT" {
					continue
				}
				cols[col[1]] = col[2]
			}
			tables[table[1]] = cols
		}
	}
	return tables
}

func varcharWidth(t *testing.T, tables map[string]map[string]string, table, column string) int {
	t.Helper()
	typ, ok := tables[table][column]
	require.True(t, ok, "%s.%s is not declared", table, column)
	if typ == "TEXT" {
		return math.MaxInt
	}
	m := varcharRegex.FindStringSubmatch(typ)
	require.NotNil(t, m, "%s.%s has type %s", table, column, typ)
	width, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	return width
}

func TestSchema_Tables(t *testing.T) {
	tables := schemaColumns(t)
	for _, table := range []string{"scan_sessions", "unified_vulnerabilities", "vulnerability_instances"} {
		assert.Contains(t, tables, table)
	}
}

func TestSchema_InstanceKeyFitsColumn(t *testing.T) {
	width := varcharWidth(t, schemaColumns(t), "vulnerability_instances", "instance_key")

	id := shared.NewID()
	findings := []*vulnerability.RawFinding{
		{Type: vulnerability.ScannerTypeSAST, FilePath: "a.py", LineStart: 10},
		{Type: vulnerability.ScannerTypeSAST, FilePath: strings.Repeat("src/module/", 400) + "main.go", LineStart: math.MaxInt32},
		{Type: vulnerability.ScannerTypeSCA, Metadata: vulnerability.FindingMetadata{PackageName: strings.Repeat("pkg", 100), PackageVersion: "1.0.0-rc.1+build.5"}},
		{Type: vulnerability.ScannerTypeContainer},
	}
	for _, scanID := range []string{"scan-1", strings.Repeat("s", 255)} {
		for _, f := range findings {
			key := fingerprint.InstanceKey(scanID, f, id)
			assert.LessOrEqual(t, len(key), width, "instance key %q does not fit instance_key", key)
		}
	}
}

func TestSchema_FingerprintFitsColumn(t *testing.T) {
	width := varcharWidth(t, schemaColumns(t), "unified_vulnerabilities", "fingerprint")

	f := &vulnerability.RawFinding{Type: vulnerability.ScannerTypeSAST, RuleID: strings.Repeat("r", 512), CWE: []string{"CWE-79"}}
	assert.LessOrEqual(t, len(fingerprint.Resolve(f, strings.Repeat("repo", 64))), width)
	assert.Equal(t, fingerprint.Length, width)
}

func TestSchema_ScannerTypeFitsColumn(t *testing.T) {
	width := varcharWidth(t, schemaColumns(t), "unified_vulnerabilities", "scanner_type")
	assert.GreaterOrEqual(t, width, vulnerability.MaxScannerTypeLength)

	types := append(vulnerability.AllScannerTypes(), vulnerability.ScannerTypeUnknown, "Software-Composition-Analysis-Extended", "")
	for _, typ := range types {
		v := vulnerability.NewUnifiedVulnerability("fp", "t", "repo", "", &vulnerability.RawFinding{Type: typ}, fixedTime)
		stored, ok := unifiedArgs(v)[5].(string)
		require.True(t, ok)
		assert.NotEmpty(t, stored)
		assert.LessOrEqual(t, len(stored), width, "scanner type %q does not fit", stored)
	}
}

func TestSchema_SeverityAndStatusFitColumns(t *testing.T) {
	tables := schemaColumns(t)

	severities := []vulnerability.Severity{
		vulnerability.SeverityCritical, vulnerability.SeverityHigh, vulnerability.SeverityMedium,
		vulnerability.SeverityLow, vulnerability.SeverityInfo, vulnerability.SeverityUnknown,
	}
	for _, table := range []string{"unified_vulnerabilities", "vulnerability_instances"} {
		width := varcharWidth(t, tables, table, "severity")
		for _, s := range severities {
			assert.LessOrEqual(t, len(s.String()), width, "%s.severity", table)
		}
	}

	width := varcharWidth(t, tables, "unified_vulnerabilities", "status")
	for _, s := range []vulnerability.Status{vulnerability.StatusOpen, vulnerability.StatusFixed} {
		assert.LessOrEqual(t, len(s.String()), width)
	}

	width = varcharWidth(t, tables, "scan_sessions", "status")
	for _, s := range []scansession.Status{
		scansession.StatusQueued, scansession.StatusPending, scansession.StatusRunning,
		scansession.StatusCompleted, scansession.StatusFailed, scansession.StatusCanceled,
		scansession.StatusTimeout,
	} {
		assert.LessOrEqual(t, len(s.String()), width)
	}
}

func TestSchema_LineNumbersFitInteger(t *testing.T) {
	tables := schemaColumns(t)
	assert.Equal(t, "INTEGER", tables["vulnerability_instances"]["line_start"])
	assert.Equal(t, "INTEGER", tables["vulnerability_instances"]["line_end"])

	f := &vulnerability.RawFinding{Type: vulnerability.ScannerTypeSAST, FilePath: "gen.go", LineStart: math.MaxInt32 + 10, LineEnd: -1}
	inst := vulnerability.NewInstance("k", "scan-1", shared.NewID(), "repo", "", "gen.go:1", f, fixedTime)
	args := instanceArgs(inst)
	assert.Equal(t, math.MaxInt32, args[8])
	assert.Equal(t, 0, args[9])
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store *memStore, cfg Config) *Service {
	svc := NewService(store, instanceRepo{store}, sessionRepo{store}, cfg, logger.NewNop())
	svc.SetClock(func() time.Time { return testNow })
	return svc
}

// generatorFunc adapts a function to TitleGenerator.
type generatorFunc func(ctx context.Context, tc TitleContext) (string, error)

func (f generatorFunc) GenerateTitle(ctx context.Context, tc TitleContext) (string, error) {
	return f(ctx, tc)
}

func sastFinding(rule, path string, line int) vulnerability.RawFinding {
	return vulnerability.RawFinding{
		Type:      vulnerability.ScannerTypeSAST,
		RuleID:    rule,
		Title:     "Possible " + rule,
		Severity:  vulnerability.SeverityHigh,
		FilePath:  path,
		LineStart: line,
		LineEnd:   line,
		CWE:       []string{"CWE-89"},
	}
}

func scaFinding(advisory, pkg, version string) vulnerability.RawFinding {
	return vulnerability.RawFinding{
		Type:     vulnerability.ScannerTypeSCA,
		RuleID:   advisory,
		Severity: vulnerability.SeverityCritical,
		Metadata: vulnerability.FindingMetadata{PackageName: pkg, PackageVersion: version},
	}
}

func batchOf(scanID string, findings ...vulnerability.RawFinding) ScanBatch {
	return ScanBatch{
		ScanID:       scanID,
		WorkspaceID:  "ws-1",
		RepositoryID: "repo-1",
		Findings:     findings,
	}
}

func TestProcessBatch_CrossFileMerge(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	batch := batchOf("scan-1",
		sastFinding("semgrep.sql-injection", "api/users.go", 10),
		sastFinding("sql-injection", "api/orders.go", 42),
		sastFinding("SQL-Injection", "api/items.go", 7),
	)

	stats, err := svc.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.FindingsTotal)
	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Equal(t, 0, stats.UnifiedUpdated)
	assert.Equal(t, 3, stats.InstancesCreated)
	assert.Equal(t, 0, stats.FindingsSkipped)
	assert.Equal(t, 1, store.unifiedCount())
	assert.Equal(t, 3, store.instanceCount())

	fp := fingerprint.Resolve(&batch.Findings[0], "repo-1")
	v := store.byFingerprint(fp)
	require.NotNil(t, v)
	assert.Equal(t, vulnerability.StatusOpen, v.Status)
	assert.Equal(t, testNow, v.FirstDetectedAt)
	assert.Equal(t, "repo-1", v.RepositoryID)
	assert.Equal(t, "ws-1", v.WorkspaceID)
	assert.Equal(t, "SQL Injection", v.Title)
}

func TestProcessBatch_CrossScanPackageMerge(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())
	ctx := context.Background()

	first := batchOf("scan-1", scaFinding("CVE-2021-23337", "lodash", "4.17.15"))
	first.Now = testNow
	stats, err := svc.ProcessBatch(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnifiedCreated)

	later := testNow.Add(24 * time.Hour)
	second := batchOf("scan-2", scaFinding("cve-2021-23337", "Lodash", "4.17.21"))
	second.Now = later
	stats, err = svc.ProcessBatch(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.UnifiedCreated)
	assert.Equal(t, 1, stats.UnifiedUpdated)
	assert.Equal(t, 1, stats.InstancesCreated)
	assert.Equal(t, 1, store.unifiedCount())
	assert.Equal(t, 2, store.instanceCount())

	v := store.byFingerprint(fingerprint.Resolve(&first.Findings[0], "repo-1"))
	require.NotNil(t, v)
	assert.Equal(t, testNow, v.FirstDetectedAt)
	assert.Equal(t, later, v.LastSeenAt)
	assert.Equal(t, "CVE-2021-23337 in lodash", v.Title)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())
	ctx := context.Background()

	batch := batchOf("scan-1",
		sastFinding("xss", "web/a.js", 1),
		sastFinding("xss", "web/b.js", 2),
		scaFinding("GHSA-aaaa-bbbb-cccc", "express", "4.0.0"),
	)

	_, err := svc.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	unifiedAfterFirst, instancesAfterFirst := store.unifiedCount(), store.instanceCount()

	stats, err := svc.ProcessBatch(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, unifiedAfterFirst, store.unifiedCount())
	assert.Equal(t, instancesAfterFirst, store.instanceCount())
	assert.Equal(t, 0, stats.UnifiedCreated)
	assert.Equal(t, 2, stats.UnifiedUpdated)
	assert.Equal(t, 0, stats.InstancesCreated)
	assert.Equal(t, 3, stats.InstancesAlreadyExisted)
	assert.Equal(t, 0, stats.InstanceErrors)
}

func TestProcessBatch_InBatchDuplicateOccurrence(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	f := sastFinding("hardcoded-password", "config/app.go", 3)
	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", f, f))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Equal(t, 1, stats.InstancesCreated)
	assert.Equal(t, 1, stats.InstancesSkippedDuplicate)
}

func TestProcessBatch_LookupFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.lookupErr = errStoreDown
	svc := newTestService(store, DefaultConfig())

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", sastFinding("xss", "a.js", 1)))
	require.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, stats)
	assert.Equal(t, 0, store.unifiedCount())
	assert.Equal(t, 0, store.instanceCount())
}

func TestProcessBatch_InvalidBatch(t *testing.T) {
	tests := []struct {
		name  string
		batch ScanBatch
	}{
		{name: "missing scan id", batch: ScanBatch{WorkspaceID: "ws", RepositoryID: "repo"}},
		{name: "missing workspace id", batch: ScanBatch{ScanID: "scan", RepositoryID: "repo"}},
		{name: "missing repository id", batch: ScanBatch{ScanID: "scan", WorkspaceID: "ws"}},
		{name: "separator in scan id", batch: ScanBatch{ScanID: "scan|1", WorkspaceID: "ws", RepositoryID: "repo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(store, DefaultConfig())

			_, err := svc.ProcessBatch(context.Background(), tt.batch)
			require.ErrorIs(t, err, shared.ErrValidation)
			assert.Zero(t, store.lookupCalls)
		})
	}
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1"))
	require.NoError(t, err)
	assert.Equal(t, ProcessingStats{}, *stats)
	assert.Zero(t, store.lookupCalls)
}

func TestProcessBatch_AdoptsConcurrentlyCreatedRow(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	racing := sastFinding("open-redirect", "web/redirect.go", 5)
	other := sastFinding("path-traversal", "web/files.go", 9)
	fp := fingerprint.Resolve(&racing, "repo-1")
	winnerID := shared.NewID()
	store.raceIDs[fp] = winnerID

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", racing, other))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Equal(t, 1, stats.UnifiedUpdated)
	assert.Equal(t, 0, stats.UnifiedErrors)
	assert.Equal(t, 2, stats.InstancesCreated)

	v := store.byFingerprint(fp)
	require.NotNil(t, v)
	assert.Equal(t, winnerID, v.ID)

	ids, err := instanceRepo{store}.ListUnifiedIDsByScan(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Contains(t, ids, winnerID)
}

func TestProcessBatch_PerRowUnifiedError(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	broken := sastFinding("weak-crypto", "crypto/a.go", 1)
	brokenTwin := sastFinding("weak-crypto", "crypto/b.go", 2)
	healthy := sastFinding("ssrf", "net/fetch.go", 3)
	store.createErr[fingerprint.Resolve(&broken, "repo-1")] = errors.New("check constraint violated")

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", broken, healthy, brokenTwin))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Equal(t, 1, stats.UnifiedErrors)
	assert.Equal(t, 2, stats.FindingsSkipped)
	assert.Equal(t, 1, stats.InstancesCreated)
	assert.Equal(t, 1, store.instanceCount())
}

func TestProcessBatch_BumpFallsBackToIndividualUpdates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())
	ctx := context.Background()

	a := sastFinding("xxe", "xml/parse.go", 1)
	b := sastFinding("csrf", "web/form.go", 2)
	_, err := svc.ProcessBatch(ctx, batchOf("scan-1", a, b))
	require.NoError(t, err)

	store.failTouchBatch = true
	store.touchErr[fingerprint.Resolve(&b, "repo-1")] = errStoreDown

	stats, err := svc.ProcessBatch(ctx, batchOf("scan-2", a, b))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.UnifiedUpdated)
	assert.Equal(t, 1, stats.BumpErrors)
	assert.Equal(t, 2, stats.InstancesCreated, "instances are written even when a bump fails")
}

func TestProcessBatch_InstanceChunkReplay(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())
	ctx := context.Background()

	f := sastFinding("ldap-injection", "auth/ldap.go", 11)
	g := sastFinding("ldap-injection", "auth/ldap.go", 30)
	_, err := svc.ProcessBatch(ctx, batchOf("scan-1", f))
	require.NoError(t, err)

	id := store.byFingerprint(fingerprint.Resolve(&f, "repo-1")).ID
	store.failInstanceBatch = true
	store.instanceErr[fingerprint.InstanceKey("scan-2", &g, id)] = errors.New("disk full")

	stats, err := svc.ProcessBatch(ctx, batchOf("scan-2", f, g))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.InstancesCreated)
	assert.Equal(t, 1, stats.InstanceErrors)
	assert.Equal(t, 0, stats.InstancesAlreadyExisted)
}

func TestProcessBatch_ChunkedInsert(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Config{InsertChunkSize: 2})

	var findings []vulnerability.RawFinding
	for i := range 5 {
		findings = append(findings, sastFinding(fmt.Sprintf("rule-%d", i), "src/main.go", i+1))
	}

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", findings...))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.UnifiedCreated)
	assert.Equal(t, 5, stats.InstancesCreated)
	assert.Equal(t, 5, store.unifiedCount())
}

func TestProcessBatch_ReopenFixed(t *testing.T) {
	tests := []struct {
		name         string
		reopen       bool
		wantStatus   vulnerability.Status
		wantReopened int
	}{
		{name: "fixed stays fixed by default", reopen: false, wantStatus: vulnerability.StatusFixed},
		{name: "fixed reopens when enabled", reopen: true, wantStatus: vulnerability.StatusOpen, wantReopened: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(store, Config{ReopenFixed: tt.reopen})
			ctx := context.Background()

			f := sastFinding("insecure-tls", "net/client.go", 4)
			_, err := svc.ProcessBatch(ctx, batchOf("scan-1", f))
			require.NoError(t, err)

			v := store.byFingerprint(fingerprint.Resolve(&f, "repo-1"))
			_, err = store.MarkFixed(ctx, []shared.ID{v.ID}, testNow)
			require.NoError(t, err)

			stats, err := svc.ProcessBatch(ctx, batchOf("scan-2", f))
			require.NoError(t, err)

			assert.Equal(t, tt.wantReopened, stats.UnifiedReopened)
			assert.Equal(t, tt.wantStatus, store.byFingerprint(v.Fingerprint).Status)
		})
	}
}

func TestProcessBatch_AITitles(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	var calls atomic.Int32
	svc.SetTitleGenerator(generatorFunc(func(_ context.Context, tc TitleContext) (string, error) {
		calls.Add(1)
		return "Title: \"SQL injection in user query.\"", nil
	}))

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1",
		sastFinding("sql-injection", "a.go", 1),
		sastFinding("sql-injection", "b.go", 2),
	))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TitlesFromAI)
	assert.Equal(t, 0, stats.TitlesFromFallback)
	assert.Equal(t, int32(1), calls.Load(), "one generator call per rule and batch")

	f := sastFinding("sql-injection", "a.go", 1)
	assert.Equal(t, "SQL injection in user query", store.byFingerprint(fingerprint.Resolve(&f, "repo-1")).Title)
}

func TestProcessBatch_AIFailureFallsBack(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())
	svc.SetTitleGenerator(generatorFunc(func(context.Context, TitleContext) (string, error) {
		return "", errors.New("rate limited")
	}))

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1",
		sastFinding("command-injection", "a.go", 1),
		sastFinding("command-injection", "b.go", 2),
		vulnerability.RawFinding{Type: vulnerability.ScannerTypeSecrets, Title: "AWS key"},
	))
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TitlesFromAI)
	assert.Equal(t, 3, stats.TitlesFromFallback)
	assert.Equal(t, 1, stats.TitlesFromLiteral)
	// One AI failure per distinct rule, plus the deterministic failure of the empty rule id.
	assert.Equal(t, 3, stats.TitleErrors)
	assert.Equal(t, 2, stats.UnifiedCreated)
}

func TestProcessBatch_MalformedFindingIsDefaulted(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", vulnerability.RawFinding{LineStart: -4}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Equal(t, 1, stats.InstancesCreated)

	f := vulnerability.RawFinding{}
	v := store.byFingerprint(fingerprint.Resolve(&f, "repo-1"))
	require.NotNil(t, v)
	assert.Equal(t, UnknownTitle, v.Title)
	assert.Equal(t, vulnerability.SeverityUnknown, v.Severity)
	assert.Equal(t, vulnerability.ScannerTypeUnknown, v.ScannerType)
}

func TestProcessBatch_OverlongScannerTypeIsDefaulted(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, DefaultConfig())

	f := sastFinding("open-redirect", "web/r.go", 9)
	f.Type = "interactive-application-security-testing"

	stats, err := svc.ProcessBatch(context.Background(), batchOf("scan-1", f))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnifiedCreated)
	assert.Zero(t, stats.FindingsSkipped)

	v := store.byFingerprint(fingerprint.Resolve(&f, "repo-1"))
	require.NotNil(t, v)
	assert.Equal(t, vulnerability.ScannerTypeUnknown, v.ScannerType)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// MockBatchProcessor is a mock implementation of BatchProcessor for testing.
type MockBatchProcessor struct {
	mock.Mock
}

func (m *MockBatchProcessor) ProcessBatch(ctx context.Context, batch dedup.ScanBatch) (*dedup.ProcessingStats, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dedup.ProcessingStats), args.Error(1)
}

func (m *MockBatchProcessor) ResolveVanished(ctx context.Context, repositoryID, currentScanID string) (*dedup.ResolveResult, error) {
	args := m.Called(ctx, repositoryID, currentScanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dedup.ResolveResult), args.Error(1)
}

type stubLoader struct {
	batches map[string]*dedup.ScanBatch
}

func (l *stubLoader) Load(_ context.Context, uri string) (*dedup.ScanBatch, error) {
	if b, ok := l.batches[uri]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, uri)
}

func testBatch() *dedup.ScanBatch {
	return &dedup.ScanBatch{
		ScanID:       "scan-1",
		WorkspaceID:  "ws-1",
		RepositoryID: "repo-1",
		Findings: []vulnerability.RawFinding{
			{Type: vulnerability.ScannerTypeSAST, RuleID: "sql-injection", FilePath: "a.go", LineStart: 1},
		},
	}
}

func TestNewProcessBatchTask(t *testing.T) {
	t.Run("uri payload", func(t *testing.T) {
		task, err := NewProcessBatchTask(ProcessBatchPayload{BatchURI: "s3://b/k.json", Resolve: true}, "dedup")
		require.NoError(t, err)
		assert.Equal(t, TypeProcessBatch, task.Type())

		var got ProcessBatchPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &got))
		assert.Equal(t, "s3://b/k.json", got.BatchURI)
		assert.True(t, got.Resolve)
		assert.Nil(t, got.Batch)
	})

	t.Run("neither uri nor batch", func(t *testing.T) {
		_, err := NewProcessBatchTask(ProcessBatchPayload{}, "dedup")
		require.Error(t, err)
	})

	t.Run("both uri and batch", func(t *testing.T) {
		_, err := NewProcessBatchTask(ProcessBatchPayload{BatchURI: "x", Batch: testBatch()}, "dedup")
		require.Error(t, err)
	})
}

func TestNewResolveVanishedTask(t *testing.T) {
	task, err := NewResolveVanishedTask(ResolveVanishedPayload{RepositoryID: "repo-1", ScanID: "scan-2"}, "dedup")
	require.NoError(t, err)
	assert.Equal(t, TypeResolveVanished, task.Type())

	_, err = NewResolveVanishedTask(ResolveVanishedPayload{RepositoryID: "repo-1"}, "dedup")
	require.Error(t, err)
}

func TestHandleProcessBatch_Inline(t *testing.T) {
	processor := new(MockBatchProcessor)
	handler := NewDedupTaskHandler(processor, nil, logger.NewNop())

	batch := testBatch()
	processor.On("ProcessBatch", mock.Anything, mock.MatchedBy(func(b dedup.ScanBatch) bool {
		return b.ScanID == "scan-1" && len(b.Findings) == 1
	})).Return(&dedup.ProcessingStats{UnifiedCreated: 1, InstancesCreated: 1}, nil).Once()
	processor.On("ResolveVanished", mock.Anything, "repo-1", "scan-1").
		Return(&dedup.ResolveResult{PreviousScanID: "scan-0", FixedCount: 2}, nil).Once()

	task, err := NewProcessBatchTask(ProcessBatchPayload{Batch: batch, Resolve: true}, "dedup")
	require.NoError(t, err)

	require.NoError(t, handler.HandleProcessBatch(context.Background(), task))
	processor.AssertExpectations(t)
}

func TestHandleProcessBatch_FromLoader(t *testing.T) {
	processor := new(MockBatchProcessor)
	loader := &stubLoader{batches: map[string]*dedup.ScanBatch{"file:///tmp/b.json": testBatch()}}
	handler := NewDedupTaskHandler(processor, loader, logger.NewNop())

	processor.On("ProcessBatch", mock.Anything, mock.Anything).Return(&dedup.ProcessingStats{}, nil).Once()

	task, err := NewProcessBatchTask(ProcessBatchPayload{BatchURI: "file:///tmp/b.json"}, "dedup")
	require.NoError(t, err)

	require.NoError(t, handler.HandleProcessBatch(context.Background(), task))
	processor.AssertExpectations(t)
	processor.AssertNotCalled(t, "ResolveVanished", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProcessBatch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{name: "store failure is retried", err: errors.New("connection refused"), skipRetry: false},
		{name: "validation is not retried", err: fmt.Errorf("%w: bad batch", shared.ErrValidation), skipRetry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockBatchProcessor)
			handler := NewDedupTaskHandler(processor, nil, logger.NewNop())
			processor.On("ProcessBatch", mock.Anything, mock.Anything).Return(nil, tt.err)

			task, err := NewProcessBatchTask(ProcessBatchPayload{Batch: testBatch()}, "dedup")
			require.NoError(t, err)

			err = handler.HandleProcessBatch(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleProcessBatch_BadPayload(t *testing.T) {
	handler := NewDedupTaskHandler(new(MockBatchProcessor), nil, logger.NewNop())

	err := handler.HandleProcessBatch(context.Background(), asynq.NewTask(TypeProcessBatch, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler.HandleProcessBatch(context.Background(), asynq.NewTask(TypeProcessBatch, []byte(`{"batch_uri":"s3://b/k"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleProcessBatch_MissingDocument(t *testing.T) {
	handler := NewDedupTaskHandler(new(MockBatchProcessor), &stubLoader{}, logger.NewNop())

	task, err := NewProcessBatchTask(ProcessBatchPayload{BatchURI: "s3://b/missing.json"}, "dedup")
	require.NoError(t, err)

	err = handler.HandleProcessBatch(context.Background(), task)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleResolveVanished(t *testing.T) {
	processor := new(MockBatchProcessor)
	handler := NewDedupTaskHandler(processor, nil, logger.NewNop())

	processor.On("ResolveVanished", mock.Anything, "repo-1", "scan-2").
		Return(&dedup.ResolveResult{PreviousScanID: "scan-1", FixedCount: 1}, nil).Once()

	task, err := NewResolveVanishedTask(ResolveVanishedPayload{RepositoryID: "repo-1", ScanID: "scan-2"}, "dedup")
	require.NoError(t, err)

	require.NoError(t, handler.HandleResolveVanished(context.Background(), task))
	processor.AssertExpectations(t)
}

func TestHandleResolveVanished_NotFound(t *testing.T) {
	processor := new(MockBatchProcessor)
	handler := NewDedupTaskHandler(processor, nil, logger.NewNop())

	processor.On("ResolveVanished", mock.Anything, "repo-1", "scan-x").
		Return(nil, fmt.Errorf("scan session scan-x: %w", shared.ErrNotFound))

	task, err := NewResolveVanishedTask(ResolveVanishedPayload{RepositoryID: "repo-1", ScanID: "scan-x"}, "dedup")
	require.NoError(t, err)

	err = handler.HandleResolveVanished(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

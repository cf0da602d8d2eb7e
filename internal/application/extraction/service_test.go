package extraction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(fn func(chunk Chunk, attempt int) (json.RawMessage, *TokenUsage, error)) (*Service, *fakeCaller) {
	caller := newFakeCaller(fn)
	o := NewOrchestrator(caller, testExtractionConfig(2, 1), nil, "openai", "gpt-test")
	return NewService(NewChunker(100, 0, 10), o), caller
}

func TestServiceExtractDocuments(t *testing.T) {
	svc, _ := newTestService(func(chunk Chunk, attempt int) (json.RawMessage, *TokenUsage, error) {
		return json.RawMessage(`{"ok":true}`), okUsage(10, 2), nil
	})

	docs := []DocumentInput{
		{URL: "https://example.com/a", Content: "first document"},
		{URL: "https://example.com/b", Content: "second document"},
	}
	results, err := svc.ExtractDocuments(context.Background(), "job-1", docs, "extract", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://example.com/a", results[0].URL)
	require.Equal(t, AggregateSuccess, results[0].Status)
	require.NotNil(t, results[0].Result)
	require.Equal(t, AggregateSuccess, OverallStatus(results))
}

func TestServiceEmptyDocumentFailsOnlyThatDocument(t *testing.T) {
	svc, caller := newTestService(func(chunk Chunk, attempt int) (json.RawMessage, *TokenUsage, error) {
		return json.RawMessage(`{"ok":true}`), okUsage(10, 2), nil
	})

	docs := []DocumentInput{
		{URL: "https://example.com/empty", Content: "   "},
		{URL: "https://example.com/full", Content: "real content"},
	}
	results, err := svc.ExtractDocuments(context.Background(), "job-1", docs, "extract", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, AggregateFailed, results[0].Status)
	require.Nil(t, results[0].Result)
	require.NotEmpty(t, results[0].Error)
	require.Equal(t, AggregateSuccess, results[1].Status)
	require.Equal(t, AggregatePartial, OverallStatus(results))

	// 切分失败的文档不应发起任何提供商调用
	require.Equal(t, 1, caller.totalCalls())
}

func TestServiceCancellationStopsRemainingDocuments(t *testing.T) {
	calls := 0
	svc, _ := newTestService(func(chunk Chunk, attempt int) (json.RawMessage, *TokenUsage, error) {
		calls++
		return json.RawMessage(`{}`), okUsage(1, 1), nil
	})

	first := true
	cancelled := func(context.Context) bool {
		if first {
			first = false
			return false
		}
		return true
	}

	docs := []DocumentInput{
		{URL: "a", Content: "doc a"},
		{URL: "b", Content: "doc b"},
	}
	_, err := svc.ExtractDocuments(context.Background(), "job-1", docs, "extract", nil, cancelled)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSumDocumentUsage(t *testing.T) {
	results := []DocumentResult{
		{URL: "a", Status: AggregateSuccess, Result: &AggregateResult{
			Chunks:        []ChunkResult{usageChunk(0, 100, 20), usageChunk(1, 150, 30)},
			Usage:         AccumulateUsage([]ChunkResult{usageChunk(0, 100, 20), usageChunk(1, 150, 30)}),
			OverallStatus: AggregateSuccess,
		}},
		{URL: "b", Status: AggregateSuccess, Result: &AggregateResult{
			Chunks:        []ChunkResult{usageChunk(0, 120, 10)},
			Usage:         AccumulateUsage([]ChunkResult{usageChunk(0, 120, 10)}),
			OverallStatus: AggregateSuccess,
		}},
	}

	total, audit := SumDocumentUsage(results)
	require.Equal(t, 370, total.PromptTokens)
	require.Equal(t, 60, total.CompletionTokens)
	require.Equal(t, 430, total.TotalTokens)
	require.Equal(t, UsageAvailable, total.Availability)
	require.Len(t, audit, 3)
}

func TestSumDocumentUsageAllUnavailable(t *testing.T) {
	results := []DocumentResult{
		{URL: "a", Status: AggregateFailed, Error: "chunking failed"},
	}
	total, audit := SumDocumentUsage(results)
	require.Equal(t, UsageUnavailable, total.Availability)
	require.Empty(t, audit)
	require.Zero(t, total.TotalTokens)
}

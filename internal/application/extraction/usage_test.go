package extraction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func usageChunk(index, prompt, completion int) ChunkResult {
	return ChunkResult{
		ChunkIndex: index,
		Status:     ChunkStatusSuccess,
		Usage: &TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
			Availability:     UsageAvailable,
		},
	}
}

func TestAccumulateUsageSums(t *testing.T) {
	chunks := []ChunkResult{
		usageChunk(0, 100, 20),
		usageChunk(1, 150, 30),
		usageChunk(2, 120, 10),
	}

	total := AccumulateUsage(chunks)
	require.Equal(t, 370, total.PromptTokens)
	require.Equal(t, 60, total.CompletionTokens)
	require.Equal(t, 430, total.TotalTokens)
	require.Equal(t, UsageAvailable, total.Availability)
}

func TestAccumulateUsageOrderIndependent(t *testing.T) {
	a := []ChunkResult{usageChunk(0, 100, 20), usageChunk(1, 150, 30), usageChunk(2, 120, 10)}
	b := []ChunkResult{usageChunk(2, 120, 10), usageChunk(0, 100, 20), usageChunk(1, 150, 30)}

	require.Equal(t, AccumulateUsage(a), AccumulateUsage(b))
}

func TestAccumulateUsageIdempotent(t *testing.T) {
	chunks := []ChunkResult{usageChunk(0, 7, 3), usageChunk(1, 11, 5)}

	first := AccumulateUsage(chunks)
	second := AccumulateUsage(chunks)
	require.Equal(t, first, second)
}

func TestAccumulateUsageEmptyInput(t *testing.T) {
	total := AccumulateUsage(nil)
	require.Equal(t, 0, total.TotalTokens)
	require.Equal(t, UsageUnavailable, total.Availability)
}

func TestAccumulateUsageAllAbsent(t *testing.T) {
	chunks := []ChunkResult{
		{ChunkIndex: 0, Status: ChunkStatusSuccess},
		{ChunkIndex: 1, Status: ChunkStatusSuccess},
	}

	total := AccumulateUsage(chunks)
	require.Equal(t, 0, total.PromptTokens)
	require.Equal(t, 0, total.CompletionTokens)
	require.Equal(t, UsageUnavailable, total.Availability)
}

func TestAccumulateUsageSomeAbsentMarksPartial(t *testing.T) {
	chunks := []ChunkResult{
		usageChunk(0, 100, 20),
		{ChunkIndex: 1, Status: ChunkStatusSuccess},
	}

	total := AccumulateUsage(chunks)
	require.Equal(t, 100, total.PromptTokens)
	require.Equal(t, 20, total.CompletionTokens)
	require.Equal(t, UsagePartial, total.Availability)
}

func TestAccumulateUsagePartialRecordDegrades(t *testing.T) {
	partial := usageChunk(1, 0, 0)
	partial.Usage.TotalTokens = 50
	partial.Usage.Availability = UsagePartial

	total := AccumulateUsage([]ChunkResult{usageChunk(0, 10, 5), partial})
	require.Equal(t, 65, total.TotalTokens)
	require.Equal(t, UsagePartial, total.Availability)
}

func TestAccumulateUsageMergesDetails(t *testing.T) {
	a := usageChunk(0, 10, 5)
	a.Usage.PromptTokensDetails = map[string]int{"cached_tokens": 4}
	b := usageChunk(1, 20, 8)
	b.Usage.PromptTokensDetails = map[string]int{"cached_tokens": 6}

	total := AccumulateUsage([]ChunkResult{a, b})
	require.Equal(t, map[string]int{"cached_tokens": 10}, total.PromptTokensDetails)
}

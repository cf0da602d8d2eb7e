// Package quota 负责 LLM 用量流水的落库与指标上报
package quota

import (
	"context"
	"fmt"
	"strings"

	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	"z-doc-extract-api/internal/domain/service"
	"z-doc-extract-api/pkg/metrics"
)

type LLMUsageRecorder struct {
	usageRepo repository.LLMUsageEventRepository
}

func NewLLMUsageRecorder(usageRepo repository.LLMUsageEventRepository) *LLMUsageRecorder {
	return &LLMUsageRecorder{usageRepo: usageRepo}
}

func (r *LLMUsageRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	if r == nil || r.usageRepo == nil {
		return nil
	}

	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		return nil
	}
	if in.PromptTokens < 0 || in.CompletionTokens < 0 {
		return fmt.Errorf("invalid token usage")
	}

	provider := strings.TrimSpace(in.Provider)
	model := strings.TrimSpace(in.Model)
	if in.PromptTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(in.PromptTokens))
	}
	if in.CompletionTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(in.CompletionTokens))
	}

	evt := &entity.LLMUsageEvent{
		JobID:            jobID,
		ChunkIndex:       in.ChunkIndex,
		Provider:         provider,
		Model:            model,
		TokensPrompt:     in.PromptTokens,
		TokensCompletion: in.CompletionTokens,
		DurationMs:       in.DurationMs,
	}
	_ = r.usageRepo.Create(ctx, evt)
	return nil
}

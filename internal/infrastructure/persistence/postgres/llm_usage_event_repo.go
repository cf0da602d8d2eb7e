// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"z-doc-extract-api/internal/domain/entity"
)

// LLMUsageEventRepository LLM 用量流水仓储实现
type LLMUsageEventRepository struct {
	client *Client
}

// NewLLMUsageEventRepository 创建用量流水仓储
func NewLLMUsageEventRepository(client *Client) *LLMUsageEventRepository {
	return &LLMUsageEventRepository{client: client}
}

// Create 写入一条用量流水
func (r *LLMUsageEventRepository) Create(ctx context.Context, event *entity.LLMUsageEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.LLMUsageEventRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(event).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create llm usage event: %w", err)
	}
	return nil
}

// ListByJob 获取任务的全部用量流水，按 chunk 顺序排列
func (r *LLMUsageEventRepository) ListByJob(ctx context.Context, jobID string) ([]*entity.LLMUsageEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.LLMUsageEventRepository.ListByJob")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var events []*entity.LLMUsageEvent
	if err := db.Where("job_id = ?", jobID).
		Order("chunk_index ASC, created_at ASC").
		Find(&events).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list llm usage events: %w", err)
	}
	return events, nil
}

// GetTokenUsage 统计时间窗口内的 token 总量（prompt + completion）
func (r *LLMUsageEventRepository) GetTokenUsage(ctx context.Context, startInclusive, endExclusive time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.LLMUsageEventRepository.GetTokenUsage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var total int64
	err := db.Model(&entity.LLMUsageEvent{}).
		Where("created_at >= ? AND created_at < ?", startInclusive, endExclusive).
		Select("COALESCE(SUM(tokens_prompt + tokens_completion), 0)").
		Scan(&total).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to aggregate token usage: %w", err)
	}
	return total, nil
}

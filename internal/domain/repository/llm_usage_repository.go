// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"z-doc-extract-api/internal/domain/entity"
)

type LLMUsageEventRepository interface {
	Create(ctx context.Context, event *entity.LLMUsageEvent) error
	ListByJob(ctx context.Context, jobID string) ([]*entity.LLMUsageEvent, error)
	GetTokenUsage(ctx context.Context, startInclusive, endExclusive time.Time) (int64, error)
}

// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"encoding/json"

	"z-doc-extract-api/internal/domain/entity"
)

// JobFilter 任务过滤条件
type JobFilter struct {
	Status entity.JobStatus
}

// JobRepository 抽取任务仓储接口
// Transition 与 Cancel 必须串行化同一任务的并发写入
// （实现上通过带状态前置条件的 UPDATE 完成 compare-and-swap）
type JobRepository interface {
	// Create 创建任务，初始状态 pending
	Create(ctx context.Context, job *entity.ExtractionJob) error

	// GetByID 根据 ID 获取任务，不存在时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.ExtractionJob, error)

	// GetByIdempotencyKey 根据幂等键获取任务，不存在时返回 (nil, nil)
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.ExtractionJob, error)

	// Transition 按状态机迁移任务状态：仅当当前状态允许迁移到 status 时生效，
	// 否则返回 ErrInvalidTransition。终态迁移可携带结果与错误信息。
	Transition(ctx context.Context, id string, status entity.JobStatus, result json.RawMessage, errMsg string) error

	// Cancel 请求取消任务：pending 任务直接置为 cancelled，
	// running 任务置 cancel_requested 标记等待编排器收敛。
	// 任务已处于终态时返回 ErrJobAlreadyDone。
	Cancel(ctx context.Context, id string) error

	// IsCancelRequested 查询取消标记，供编排器轮询
	IsCancelRequested(ctx context.Context, id string) (bool, error)

	// UpdateLLMMetrics 更新任务级 token 用量统计
	UpdateLLMMetrics(ctx context.Context, id string, provider, model string, promptTokens, completionTokens int) error

	// List 按条件分页查询任务
	List(ctx context.Context, filter *JobFilter, pagination Pagination) (*PagedResult[*entity.ExtractionJob], error)
}

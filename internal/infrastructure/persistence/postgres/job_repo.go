// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	apperrors "z-doc-extract-api/pkg/errors"
)

// JobRepository 抽取任务仓储实现。
// 状态迁移用带前置状态条件的 UPDATE 实现 compare-and-swap，
// 同一任务的并发迁移最多只有一个生效。
type JobRepository struct {
	client *Client
}

// NewJobRepository 创建任务仓储
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

// Create 创建任务
func (r *JobRepository) Create(ctx context.Context, job *entity.ExtractionJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(job).Error; err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ErrConflict.WithDetail("idempotency key already exists")
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.ExtractionJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.ExtractionJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetByIdempotencyKey 根据幂等键获取任务
func (r *JobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entity.ExtractionJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByIdempotencyKey")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.ExtractionJob
	if err := db.First(&job, "idempotency_key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}
	return &job, nil
}

// allowedFrom 返回能迁移到 status 的前置状态集合
func allowedFrom(status entity.JobStatus) []entity.JobStatus {
	switch status {
	case entity.JobStatusRunning:
		return []entity.JobStatus{entity.JobStatusPending}
	case entity.JobStatusCompleted, entity.JobStatusPartiallyCompleted:
		return []entity.JobStatus{entity.JobStatusRunning}
	case entity.JobStatusFailed:
		return []entity.JobStatus{entity.JobStatusPending, entity.JobStatusRunning}
	case entity.JobStatusCancelled:
		return []entity.JobStatus{entity.JobStatusPending, entity.JobStatusRunning}
	}
	return nil
}

// Transition 按状态机迁移任务状态（compare-and-swap）
func (r *JobRepository) Transition(ctx context.Context, id string, status entity.JobStatus, result json.RawMessage, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Transition")
	defer span.End()

	from := allowedFrom(status)
	if len(from) == 0 {
		return apperrors.ErrInvalidTransition.WithDetail("unknown target status: " + string(status))
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == entity.JobStatusRunning {
		updates["started_at"] = now
	}
	if status.IsTerminal() {
		updates["completed_at"] = now
		updates["error_message"] = errMsg
		if result != nil {
			updates["result"] = result
		}
	}

	db := getDB(ctx, r.client.db)
	res := db.Model(&entity.ExtractionJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to transition job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 区分任务不存在和非法迁移
		job, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return apperrors.ErrJobNotFound
		}
		return apperrors.ErrInvalidTransition.WithDetail(string(job.Status) + " -> " + string(status))
	}
	return nil
}

// Cancel 请求取消任务：pending 直接终态，running 置取消标记等编排器收敛
func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Cancel")
	defer span.End()

	now := time.Now()
	db := getDB(ctx, r.client.db)

	// pending 任务直接取消
	res := db.Model(&entity.ExtractionJob{}).
		Where("id = ? AND status = ?", id, entity.JobStatusPending).
		Updates(map[string]interface{}{
			"status":           entity.JobStatusCancelled,
			"cancel_requested": true,
			"completed_at":     now,
			"updated_at":       now,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to cancel job: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// running 任务只置标记，由编排器收敛后标记终态
	res = db.Model(&entity.ExtractionJob{}).
		Where("id = ? AND status = ?", id, entity.JobStatusRunning).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       now,
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to cancel job: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperrors.ErrJobNotFound
	}
	return apperrors.ErrJobAlreadyDone
}

// IsCancelRequested 查询取消标记
func (r *JobRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	db := getDB(ctx, r.client.db)
	var requested bool
	err := db.Model(&entity.ExtractionJob{}).
		Where("id = ?", id).
		Select("cancel_requested").
		Scan(&requested).Error
	if err != nil {
		return false, fmt.Errorf("failed to query cancel flag: %w", err)
	}
	return requested, nil
}

// UpdateLLMMetrics 更新任务级 token 用量统计
func (r *JobRepository) UpdateLLMMetrics(ctx context.Context, id string, provider, model string, promptTokens, completionTokens int) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.UpdateLLMMetrics")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.ExtractionJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"provider":          provider,
		"model":             model,
		"tokens_prompt":     promptTokens,
		"tokens_completion": completionTokens,
	}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update job llm metrics: %w", err)
	}
	return nil
}

// List 按条件分页查询任务
func (r *JobRepository) List(ctx context.Context, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.ExtractionJob], error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.ExtractionJob{})
	if filter != nil && filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []*entity.ExtractionJob
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return repository.NewPagedResult(jobs, total, pagination), nil
}

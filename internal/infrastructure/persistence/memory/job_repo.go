// Package memory 提供内存版仓储实现，用于测试与单机部署
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	apperrors "z-doc-extract-api/pkg/errors"
)

// JobRepository 内存任务仓储。
// 所有写入在同一把锁下完成，天然满足同一任务的单写者约束。
type JobRepository struct {
	mu   sync.Mutex
	jobs map[string]*entity.ExtractionJob
}

// NewJobRepository 创建内存任务仓储
func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*entity.ExtractionJob)}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.ExtractionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *job
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.jobs[cp.ID] = &cp
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *JobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*entity.ExtractionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.IdempotencyKey == key {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *JobRepository) Transition(ctx context.Context, id string, status entity.JobStatus, result json.RawMessage, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return apperrors.ErrInvalidTransition.WithDetail(string(job.Status) + " -> " + string(status))
	}

	now := time.Now()
	job.Status = status
	job.UpdatedAt = now
	switch {
	case status == entity.JobStatusRunning:
		job.StartedAt = &now
	case status.IsTerminal():
		job.Result = result
		job.ErrorMessage = errMsg
		job.CompletedAt = &now
		if job.StartedAt != nil {
			job.DurationMs = int(now.Sub(*job.StartedAt).Milliseconds())
		}
	}
	return nil
}

func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return apperrors.ErrJobAlreadyDone
	}

	now := time.Now()
	job.CancelRequested = true
	job.UpdatedAt = now
	if job.Status == entity.JobStatusPending {
		// 还没开始执行的任务直接进入终态
		job.Status = entity.JobStatusCancelled
		job.CompletedAt = &now
	}
	return nil
}

func (r *JobRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, apperrors.ErrJobNotFound
	}
	return job.CancelRequested, nil
}

func (r *JobRepository) UpdateLLMMetrics(ctx context.Context, id string, provider, model string, promptTokens, completionTokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrJobNotFound
	}
	job.SetLLMMetrics(provider, model, promptTokens, completionTokens)
	job.UpdatedAt = time.Now()
	return nil
}

func (r *JobRepository) List(ctx context.Context, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.ExtractionJob], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*entity.ExtractionJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		if filter != nil && filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := pagination.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pagination.Limit()
	if end > len(matched) {
		end = len(matched)
	}
	return repository.NewPagedResult(matched[start:end], total, pagination), nil
}

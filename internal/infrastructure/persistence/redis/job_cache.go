// Package redis 提供 Redis 缓存实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"z-doc-extract-api/internal/domain/entity"
)

// errJobNotCacheable 非终态任务不入缓存
var errJobNotCacheable = errors.New("job not in terminal status")

// JobResultCache 终态任务结果缓存。
// 只缓存完整的任务快照，非终态任务每次回源数据库。
type JobResultCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewJobResultCache 创建任务结果缓存
func NewJobResultCache(cache *Cache, ttl time.Duration) *JobResultCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JobResultCache{cache: cache, ttl: ttl}
}

func jobResultKey(jobID string) string {
	return fmt.Sprintf("job:result:%s", jobID)
}

// SetJobResult 缓存任务快照
func (c *JobResultCache) SetJobResult(ctx context.Context, jobID string, job *entity.ExtractionJob) error {
	return c.cache.Set(ctx, jobResultKey(jobID), job, c.ttl)
}

// GetOrLoadJobResult 读穿缓存：未命中时经 singleflight 回源，
// 终态任务写入缓存后返回；非终态或不存在的任务返回 (nil, nil)，
// 由调用方直接回源数据库。
func (c *JobResultCache) GetOrLoadJobResult(ctx context.Context, jobID string, loader func() (*entity.ExtractionJob, error)) (*entity.ExtractionJob, error) {
	val, err := c.cache.GetOrLoadSafe(ctx, jobResultKey(jobID), c.ttl, func() (interface{}, error) {
		job, err := loader()
		if err != nil {
			return nil, err
		}
		if job == nil || !job.Status.IsTerminal() {
			return nil, errJobNotCacheable
		}
		return job, nil
	})
	if err != nil {
		if errors.Is(err, errJobNotCacheable) {
			return nil, nil
		}
		return nil, err
	}

	var job entity.ExtractionJob
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached job: %w", err)
	}
	return &job, nil
}

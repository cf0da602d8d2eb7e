// Package jobs 管理异步抽取任务的生命周期：
// 创建入队、执行编排、状态迁移、结果回调。
package jobs

import (
	"context"

	"z-doc-extract-api/internal/domain/entity"
)

// QueuePublisher 任务入队（port），由消息基础设施实现
type QueuePublisher interface {
	PublishExtractionJob(ctx context.Context, job *entity.ExtractionJob) error
}

// DocumentFetcher 拉取文档正文（port）。
// 页面渲染与正文归一化不在本服务范围内，实现方只需返回规整后的文本。
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ResultCache 终态任务结果的缓存（port），实现方可为 nil。
// GetOrLoadJobResult 读穿缓存：未命中时回源 loader 并缓存终态任务；
// 非终态或不存在的任务返回 (nil, nil)。
type ResultCache interface {
	SetJobResult(ctx context.Context, jobID string, job *entity.ExtractionJob) error
	GetOrLoadJobResult(ctx context.Context, jobID string, loader func() (*entity.ExtractionJob, error)) (*entity.ExtractionJob, error)
}

package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/domain/service"
	"z-doc-extract-api/pkg/logger"
	"z-doc-extract-api/pkg/metrics"
)

// ErrCancelled 任务在所有分块收敛前被取消，已完成的分块结果被丢弃
var ErrCancelled = errors.New("extraction cancelled")

// CancelCheck 协作式取消探测。返回 true 后编排器不再发起新的调用与重试，
// 在途调用自然收敛，不会被强制中断。
type CancelCheck func(ctx context.Context) bool

// Task 一次抽取编排的输入
type Task struct {
	JobID  string
	Chunks []Chunk
	Prompt string
	Schema json.RawMessage
}

// Orchestrator 驱动一次抽取请求的全部分块：
// 有界并发调用、按块重试、聚合结果。
// 单个任务的分块结果集由该编排实例独占，不跨任务共享。
type Orchestrator struct {
	caller      ChunkCaller
	concurrency int64
	maxRetries  int
	backoff     config.BackoffConfig
	// recorder 用量流水记录，best-effort，可为 nil
	recorder service.LLMUsageRecorder
	provider string
	model    string
}

// NewOrchestrator 创建编排器
func NewOrchestrator(caller ChunkCaller, cfg config.ExtractionConfig, recorder service.LLMUsageRecorder, provider, model string) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Orchestrator{
		caller:      caller,
		concurrency: int64(concurrency),
		maxRetries:  maxRetries,
		backoff:     cfg.RetryBackoff,
		recorder:    recorder,
		provider:    provider,
		model:       model,
	}
}

// Run 处理任务的全部分块直到各自终态，返回按 chunk_index 排序的聚合结果。
// 分块之间互不影响：单个分块重试耗尽或致命失败不会取消在途的兄弟分块。
// 对提供商的总调用次数不超过 chunks × (maxRetries + 1)。
func (o *Orchestrator) Run(ctx context.Context, task Task, cancelled CancelCheck) (*AggregateResult, error) {
	if len(task.Chunks) == 0 {
		return nil, errors.New("no chunks to process")
	}
	if cancelled == nil {
		cancelled = func(context.Context) bool { return false }
	}

	sem := semaphore.NewWeighted(o.concurrency)
	results := make([]ChunkResult, len(task.Chunks))

	var wg sync.WaitGroup
	for i := range task.Chunks {
		wg.Add(1)
		go func(ch Chunk) {
			defer wg.Done()
			results[ch.Index] = o.processChunk(ctx, sem, task, ch, cancelled)
		}(task.Chunks[i])
	}
	wg.Wait()

	if cancelled(ctx) {
		return nil, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, cr := range results {
		if cr.Status == ChunkStatusSuccess {
			metrics.ExtractionChunksTotal.WithLabelValues("success").Inc()
		} else {
			metrics.ExtractionChunksTotal.WithLabelValues("failed").Inc()
		}
	}

	return &AggregateResult{
		Chunks:        results,
		Usage:         AccumulateUsage(results),
		OverallStatus: aggregateStatusOf(results),
	}, nil
}

// processChunk 驱动单个分块直到终态：成功、重试耗尽或致命失败。
// 退避等待发生在并发槽之外，不占用其它分块的执行机会；
// 同一分块的调用串行，不会与自身并发。
func (o *Orchestrator) processChunk(ctx context.Context, sem *semaphore.Weighted, task Task, ch Chunk, cancelled CancelCheck) ChunkResult {
	res := ChunkResult{ChunkIndex: ch.Index, Status: ChunkStatusFailed}
	var lastErr *CallError

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.ExtractionChunkRetries.Inc()
			select {
			case <-time.After(o.backoff.CalculateBackoff(attempt - 1)):
			case <-ctx.Done():
				return o.finalize(res, lastErr, ctx.Err())
			}
		}
		if cancelled(ctx) {
			return o.finalize(res, lastErr, ErrCancelled)
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return o.finalize(res, lastErr, err)
		}
		if cancelled(ctx) {
			// 排队等槽期间出现取消信号，同样不再发起新调用
			sem.Release(1)
			return o.finalize(res, lastErr, ErrCancelled)
		}
		start := time.Now()
		content, usage, err := o.caller.Extract(ctx, ch, task.Prompt, task.Schema)
		elapsed := time.Since(start)
		sem.Release(1)

		res.Attempts++
		o.observeCall(ctx, task.JobID, ch.Index, usage, elapsed, err)
		if usage != nil {
			res.Usage = usage
		}

		if err == nil {
			res.Status = ChunkStatusSuccess
			res.Content = content
			return res
		}

		lastErr = AsCallError(err)
		logger.Warn(ctx, "chunk extraction attempt failed",
			"job_id", task.JobID,
			"chunk_index", ch.Index,
			"attempt", attempt+1,
			"kind", string(lastErr.Kind),
			"error", lastErr.Err,
		)
		if !lastErr.Kind.Retryable() {
			break
		}
	}

	return o.finalize(res, lastErr, nil)
}

// finalize 固定分块的失败结果
func (o *Orchestrator) finalize(res ChunkResult, lastErr *CallError, cause error) ChunkResult {
	res.Status = ChunkStatusFailed
	switch {
	case lastErr != nil:
		res.ErrorKind = lastErr.Kind
		res.Error = lastErr.Error()
	case cause != nil:
		res.Error = cause.Error()
	}
	return res
}

// observeCall 上报单次调用的指标与用量流水，失败不影响主流程
func (o *Orchestrator) observeCall(ctx context.Context, jobID string, chunkIndex int, usage *TokenUsage, elapsed time.Duration, callErr error) {
	status := "success"
	if callErr != nil {
		status = string(AsCallError(callErr).Kind)
	}
	metrics.LLMCallTotal.WithLabelValues(o.provider, o.model, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(o.provider, o.model).Observe(elapsed.Seconds())

	if o.recorder == nil {
		return
	}
	in := service.LLMUsageInput{
		JobID:      jobID,
		ChunkIndex: chunkIndex,
		Provider:   o.provider,
		Model:      o.model,
		DurationMs: int(elapsed.Milliseconds()),
	}
	if usage != nil {
		in.PromptTokens = usage.PromptTokens
		in.CompletionTokens = usage.CompletionTokens
	}
	if err := o.recorder.Record(ctx, in); err != nil {
		logger.Warn(ctx, "failed to record llm usage", "job_id", jobID, "error", err)
	}
}

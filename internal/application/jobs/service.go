package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"z-doc-extract-api/internal/application/extraction"
	"z-doc-extract-api/internal/application/webhook"
	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	apperrors "z-doc-extract-api/pkg/errors"
	"z-doc-extract-api/pkg/logger"
	"z-doc-extract-api/pkg/metrics"
)

// Service 异步抽取任务服务
type Service struct {
	jobRepo    repository.JobRepository
	extractor  *extraction.Service
	dispatcher *webhook.Dispatcher
	publisher  QueuePublisher
	fetcher    DocumentFetcher
	cache      ResultCache

	pollInterval time.Duration
	provider     string
	model        string
}

// NewService 创建任务服务。publisher、fetcher、cache 均可为 nil，
// 为 nil 时对应能力退化（同步执行方不需要 publisher）。
func NewService(
	jobRepo repository.JobRepository,
	extractor *extraction.Service,
	dispatcher *webhook.Dispatcher,
	publisher QueuePublisher,
	fetcher DocumentFetcher,
	cache ResultCache,
	cfg config.ExtractionConfig,
	provider, model string,
) *Service {
	pollInterval := cfg.CancelPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Service{
		jobRepo:      jobRepo,
		extractor:    extractor,
		dispatcher:   dispatcher,
		publisher:    publisher,
		fetcher:      fetcher,
		cache:        cache,
		pollInterval: pollInterval,
		provider:     provider,
		model:        model,
	}
}

// CreateJobInput 创建任务的输入
type CreateJobInput struct {
	URLs           []string
	Prompt         string
	Schema         json.RawMessage
	Webhook        *entity.WebhookConfig
	IdempotencyKey string
}

// Create 创建 pending 任务并入队。
// 幂等键重复时直接返回已有任务，不重复入队。
func (s *Service) Create(ctx context.Context, in CreateJobInput) (*entity.ExtractionJob, error) {
	if len(in.URLs) == 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("urls is required")
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("prompt is required")
	}

	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		existing, err := s.jobRepo.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to check idempotency key")
		}
		if existing != nil {
			return existing, nil
		}
	}

	job := entity.NewExtractionJob(in.URLs, in.Prompt, in.Schema, in.Webhook)
	job.ID = uuid.NewString()
	job.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create job")
	}

	if s.publisher != nil {
		if err := s.publisher.PublishExtractionJob(ctx, job); err != nil {
			// 入队失败的任务无法被消费，直接标记失败
			_ = s.jobRepo.Transition(ctx, job.ID, entity.JobStatusFailed, nil, "failed to enqueue job")
			return nil, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue job")
		}
	}

	logger.Info(ctx, "extraction job created", "job_id", job.ID, "urls", len(job.URLs))
	return job, nil
}

// Get 查询任务。终态任务读穿结果缓存，缓存故障时回源数据库。
func (s *Service) Get(ctx context.Context, id string) (*entity.ExtractionJob, error) {
	if s.cache != nil {
		cached, err := s.cache.GetOrLoadJobResult(ctx, id, func() (*entity.ExtractionJob, error) {
			return s.jobRepo.GetByID(ctx, id)
		})
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get job")
	}
	if job == nil {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

// Cancel 请求取消任务。终态任务返回 ErrJobAlreadyDone。
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.jobRepo.Cancel(ctx, id)
}

// List 分页查询任务
func (s *Service) List(ctx context.Context, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.ExtractionJob], error) {
	return s.jobRepo.List(ctx, filter, pagination)
}

// Run 执行一个已入队的任务直到终态。
// 重复投递是安全的：已进入 running 或终态的任务直接跳过。
func (s *Service) Run(ctx context.Context, jobID string) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load job")
	}
	if job == nil {
		return apperrors.ErrJobNotFound
	}
	if job.Status != entity.JobStatusPending {
		logger.Info(ctx, "skip job not in pending status", "job_id", jobID, "status", string(job.Status))
		return nil
	}

	if err := s.jobRepo.Transition(ctx, jobID, entity.JobStatusRunning, nil, ""); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			// 竞争投递或已被取消
			logger.Info(ctx, "skip job, transition to running rejected", "job_id", jobID)
			return nil
		}
		return err
	}

	start := time.Now()
	cancelled, stopWatch := s.watchCancel(ctx, jobID)
	defer stopWatch()

	docs := s.fetchDocuments(ctx, job)
	results, err := s.extractor.ExtractDocuments(ctx, jobID, docs, job.Prompt, job.Schema, cancelled)
	metrics.ExtractionDuration.WithLabelValues("async").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, extraction.ErrCancelled):
		// 取消的任务丢弃已完成的分块结果
		if terr := s.jobRepo.Transition(ctx, jobID, entity.JobStatusCancelled, nil, ""); terr != nil {
			logger.Error(ctx, "failed to mark job cancelled", terr, "job_id", jobID)
		}
		s.finish(ctx, job, entity.JobStatusCancelled, nil, nil)
		return nil
	case err != nil:
		if terr := s.jobRepo.Transition(ctx, jobID, entity.JobStatusFailed, nil, err.Error()); terr != nil {
			logger.Error(ctx, "failed to mark job failed", terr, "job_id", jobID)
		}
		s.finish(ctx, job, entity.JobStatusFailed, nil, nil)
		return nil
	}

	status := statusFromResults(results)
	resultJSON, merr := json.Marshal(results)
	if merr != nil {
		resultJSON = nil
	}

	totalUsage, _ := extraction.SumDocumentUsage(results)
	if uerr := s.jobRepo.UpdateLLMMetrics(ctx, jobID, s.provider, s.model, totalUsage.PromptTokens, totalUsage.CompletionTokens); uerr != nil {
		logger.Warn(ctx, "failed to update job llm metrics", "job_id", jobID, "error", uerr)
	}

	if terr := s.jobRepo.Transition(ctx, jobID, status, resultJSON, ""); terr != nil {
		// 执行期间被取消：结果作废
		if errors.Is(terr, apperrors.ErrInvalidTransition) {
			logger.Info(ctx, "job reached terminal state elsewhere, discarding result", "job_id", jobID)
			s.finish(ctx, job, entity.JobStatusCancelled, nil, nil)
			return nil
		}
		return terr
	}

	s.finish(ctx, job, status, results, &totalUsage)
	return nil
}

// watchCancel 启动取消信号轮询，返回协作式取消探测函数和停止函数
func (s *Service) watchCancel(ctx context.Context, jobID string) (extraction.CancelCheck, func()) {
	var flag atomic.Bool
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := s.jobRepo.IsCancelRequested(ctx, jobID)
				if err != nil {
					logger.Warn(ctx, "failed to poll cancel flag", "job_id", jobID, "error", err)
					continue
				}
				if requested {
					flag.Store(true)
					return
				}
			}
		}
	}()

	check := func(ctx context.Context) bool {
		return flag.Load() || ctx.Err() != nil
	}
	stop := func() { close(done) }
	return check, stop
}

// fetchDocuments 拉取任务引用的全部文档正文。
// 拉取失败的文档以空内容进入流水线，由切分阶段标记失败。
func (s *Service) fetchDocuments(ctx context.Context, job *entity.ExtractionJob) []extraction.DocumentInput {
	docs := make([]extraction.DocumentInput, 0, len(job.URLs))
	for _, u := range job.URLs {
		doc := extraction.DocumentInput{URL: u}
		if s.fetcher != nil {
			content, err := s.fetcher.Fetch(ctx, u)
			if err != nil {
				logger.Warn(ctx, "failed to fetch document", "job_id", job.ID, "url", u, "error", err)
			} else {
				doc.Content = content
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

// finish 终态后处理：指标、缓存、回调。任何一步失败都不影响任务状态。
func (s *Service) finish(ctx context.Context, job *entity.ExtractionJob, status entity.JobStatus, results []extraction.DocumentResult, usage *extraction.TokenUsage) {
	metrics.ExtractionJobsTotal.WithLabelValues(string(status)).Inc()

	if s.cache != nil {
		if fresh, err := s.jobRepo.GetByID(ctx, job.ID); err == nil && fresh != nil {
			if cerr := s.cache.SetJobResult(ctx, job.ID, fresh); cerr != nil {
				logger.Warn(ctx, "failed to cache job result", "job_id", job.ID, "error", cerr)
			}
		}
	}

	if job.Webhook == nil || s.dispatcher == nil {
		return
	}

	payload := BuildPayload(job, status, results, usage)
	delivery := s.dispatcher.Dispatch(ctx, job.Webhook, payload)
	if delivery.Status != entity.DeliveryStatusDelivered {
		// 投递失败只记录，不影响任务终态
		logger.Error(ctx, "webhook delivery failed", errors.New(delivery.LastError),
			"job_id", job.ID,
			"url", job.Webhook.URL,
			"attempts", delivery.Attempts,
		)
	}
}

// statusFromResults 将聚合状态映射为任务终态
func statusFromResults(results []extraction.DocumentResult) entity.JobStatus {
	switch extraction.OverallStatus(results) {
	case extraction.AggregateSuccess:
		return entity.JobStatusCompleted
	case extraction.AggregatePartial:
		return entity.JobStatusPartiallyCompleted
	default:
		return entity.JobStatusFailed
	}
}

// BuildPayload 构造回调负载。同一任务的内容是确定的，便于接收方按 task_id 去重。
func BuildPayload(job *entity.ExtractionJob, status entity.JobStatus, results []extraction.DocumentResult, usage *extraction.TokenUsage) *webhook.Payload {
	payload := &webhook.Payload{
		TaskID:   job.ID,
		TaskType: string(job.TaskType),
		Status:   string(status),
		URLs:     job.URLs,
	}

	if results != nil {
		if raw, err := json.Marshal(results); err == nil {
			payload.Result = raw
		}
	}

	if usage != nil && usage.Availability != extraction.UsageUnavailable {
		tu := &webhook.TokenUsagePayload{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
		_, audit := extraction.SumDocumentUsage(results)
		for _, cu := range audit {
			tu.Chunks = append(tu.Chunks, webhook.ChunkUsage{
				PromptTokens:     cu.PromptTokens,
				CompletionTokens: cu.CompletionTokens,
				TotalTokens:      cu.TotalTokens,
			})
		}
		payload.TokenUsage = tu
	}

	return payload
}

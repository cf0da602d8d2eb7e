package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"z-doc-extract-api/internal/application/extraction"
	"z-doc-extract-api/internal/application/webhook"
	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/infrastructure/persistence/memory"
	apperrors "z-doc-extract-api/pkg/errors"
)

type scriptedCaller struct {
	mu sync.Mutex
	fn func(chunk extraction.Chunk) (json.RawMessage, *extraction.TokenUsage, error)
}

func (c *scriptedCaller) Extract(ctx context.Context, chunk extraction.Chunk, prompt string, schema json.RawMessage) (json.RawMessage, *extraction.TokenUsage, error) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	return fn(chunk)
}

type staticFetcher struct {
	content string
	err     error
}

func (f *staticFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.content, f.err
}

func testCfg() config.ExtractionConfig {
	return config.ExtractionConfig{
		ChunkSize:          1000,
		Concurrency:        2,
		MaxRetries:         1,
		CancelPollInterval: 5 * time.Millisecond,
		RetryBackoff: config.BackoffConfig{
			Initial:    time.Millisecond,
			Max:        5 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
}

func newTestService(t *testing.T, caller extraction.ChunkCaller, fetcher DocumentFetcher, webhookURL string) (*Service, *memory.JobRepository) {
	t.Helper()
	cfg := testCfg()
	repo := memory.NewJobRepository()
	orchestrator := extraction.NewOrchestrator(caller, cfg, nil, "openai", "gpt-test")
	extractor := extraction.NewService(extraction.NewChunker(cfg.ChunkSize, 0, 10), orchestrator)

	var dispatcher *webhook.Dispatcher
	if webhookURL != "" {
		dispatcher = webhook.NewDispatcher(config.WebhookConfig{
			Timeout:      time.Second,
			MaxRetries:   1,
			RetryBackoff: config.BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2.0},
		}, nil)
	}

	svc := NewService(repo, extractor, dispatcher, nil, fetcher, nil, cfg, "openai", "gpt-test")
	return svc, repo
}

func okCaller() *scriptedCaller {
	return &scriptedCaller{fn: func(chunk extraction.Chunk) (json.RawMessage, *extraction.TokenUsage, error) {
		return json.RawMessage(`{"ok":true}`), &extraction.TokenUsage{
			PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120,
			Availability: extraction.UsageAvailable,
		}, nil
	}}
}

func TestServiceCreateValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")

	_, err := svc.Create(context.Background(), CreateJobInput{Prompt: "extract"})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), CreateJobInput{URLs: []string{"https://example.com"}})
	require.Error(t, err)
}

func TestServiceCreateIdempotency(t *testing.T) {
	svc, _ := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")

	in := CreateJobInput{URLs: []string{"https://example.com"}, Prompt: "extract", IdempotencyKey: "key-1"}
	first, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestServiceRunCompletesJobAndDeliversWebhook(t *testing.T) {
	var mu sync.Mutex
	var received *webhook.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		received = &p
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, repo := newTestService(t, okCaller(), &staticFetcher{content: "document body"}, srv.URL)
	job, err := svc.Create(context.Background(), CreateJobInput{
		URLs:    []string{"https://example.com/a"},
		Prompt:  "extract",
		Webhook: &entity.WebhookConfig{URL: srv.URL},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Run(context.Background(), job.ID))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, stored.Status)
	require.NotEmpty(t, stored.Result)
	require.Equal(t, 100, stored.TokensPrompt)
	require.Equal(t, 20, stored.TokensCompletion)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	require.Equal(t, job.ID, received.TaskID)
	require.Equal(t, "extract", received.TaskType)
	require.Equal(t, string(entity.JobStatusCompleted), received.Status)
	require.NotNil(t, received.TokenUsage)
	require.Equal(t, 120, received.TokenUsage.TotalTokens)
	require.Len(t, received.TokenUsage.Chunks, 1)
}

func TestServiceRunMissingJob(t *testing.T) {
	svc, _ := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")
	err := svc.Run(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrJobNotFound)
}

func TestServiceRunSkipsNonPendingJob(t *testing.T) {
	svc, repo := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")
	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)

	require.NoError(t, svc.Run(context.Background(), job.ID))
	// 重复投递：任务已是终态，直接跳过
	require.NoError(t, svc.Run(context.Background(), job.ID))

	stored, _ := repo.GetByID(context.Background(), job.ID)
	require.Equal(t, entity.JobStatusCompleted, stored.Status)
}

func TestServiceRunAllChunksFailedMarksJobFailed(t *testing.T) {
	caller := &scriptedCaller{fn: func(chunk extraction.Chunk) (json.RawMessage, *extraction.TokenUsage, error) {
		return nil, nil, extraction.NewCallError(extraction.ErrKindAuthError, errors.New("401"))
	}}
	svc, repo := newTestService(t, caller, &staticFetcher{content: "doc"}, "")

	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), job.ID))

	stored, _ := repo.GetByID(context.Background(), job.ID)
	require.Equal(t, entity.JobStatusFailed, stored.Status)
	// 失败任务仍携带逐块明细，调用方可以定位失败原因
	require.NotEmpty(t, stored.Result)
	require.True(t, strings.Contains(string(stored.Result), "auth_error"))
}

type transitionFailingRepo struct {
	*memory.JobRepository
	failOn entity.JobStatus
}

func (r *transitionFailingRepo) Transition(ctx context.Context, id string, status entity.JobStatus, result json.RawMessage, errMsg string) error {
	if status == r.failOn {
		return errors.New("storage offline")
	}
	return r.JobRepository.Transition(ctx, id, status, result, errMsg)
}

func TestServiceRunSurvivesTerminalTransitionFailure(t *testing.T) {
	cfg := testCfg()
	repo := &transitionFailingRepo{JobRepository: memory.NewJobRepository(), failOn: entity.JobStatusCancelled}
	orchestrator := extraction.NewOrchestrator(okCaller(), cfg, nil, "openai", "gpt-test")
	svc := NewService(repo, extraction.NewService(extraction.NewChunker(cfg.ChunkSize, 0, 10), orchestrator), nil, nil, &staticFetcher{content: "doc"}, nil, cfg, "openai", "gpt-test")

	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)

	// 已取消的上下文让抽取立即收敛到取消分支；
	// 终态落库失败只记录日志，消费方不重试整个任务
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx, job.ID))

	stored, _ := repo.GetByID(context.Background(), job.ID)
	require.Equal(t, entity.JobStatusRunning, stored.Status)
}

func TestServiceRunCancellationDiscardsResults(t *testing.T) {
	svc, repo := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")
	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)

	// 第一次调用期间请求取消，轮询器在剩余分块开始前看到信号
	caller := &scriptedCaller{}
	caller.fn = func(chunk extraction.Chunk) (json.RawMessage, *extraction.TokenUsage, error) {
		_ = repo.Cancel(context.Background(), job.ID)
		time.Sleep(30 * time.Millisecond)
		return json.RawMessage(`{}`), nil, nil
	}
	cfg := testCfg()
	orchestrator := extraction.NewOrchestrator(caller, cfg, nil, "openai", "gpt-test")
	svc = NewService(repo, extraction.NewService(extraction.NewChunker(5, 0, 2), orchestrator), nil, nil, &staticFetcher{content: "a long document body split into several chunks"}, nil, cfg, "openai", "gpt-test")

	require.NoError(t, svc.Run(context.Background(), job.ID))

	stored, _ := repo.GetByID(context.Background(), job.ID)
	require.Equal(t, entity.JobStatusCancelled, stored.Status)
	require.Empty(t, stored.Result)
}

func TestServiceCancelTerminalJobReturnsAlreadyDone(t *testing.T) {
	svc, _ := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")
	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), job.ID))

	err = svc.Cancel(context.Background(), job.ID)
	require.ErrorIs(t, err, apperrors.ErrJobAlreadyDone)
}

func TestServiceWebhookFailureDoesNotAffectJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, repo := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, srv.URL)
	job, err := svc.Create(context.Background(), CreateJobInput{
		URLs:    []string{"u"},
		Prompt:  "extract",
		Webhook: &entity.WebhookConfig{URL: srv.URL},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), job.ID))

	stored, _ := repo.GetByID(context.Background(), job.ID)
	require.Equal(t, entity.JobStatusCompleted, stored.Status)
}

type countingRepo struct {
	*memory.JobRepository
	mu   sync.Mutex
	gets int
}

func (r *countingRepo) GetByID(ctx context.Context, id string) (*entity.ExtractionJob, error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.JobRepository.GetByID(ctx, id)
}

type fakeResultCache struct {
	mu    sync.Mutex
	store map[string]*entity.ExtractionJob
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{store: make(map[string]*entity.ExtractionJob)}
}

func (c *fakeResultCache) SetJobResult(ctx context.Context, jobID string, job *entity.ExtractionJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[jobID] = job
	return nil
}

func (c *fakeResultCache) GetOrLoadJobResult(ctx context.Context, jobID string, loader func() (*entity.ExtractionJob, error)) (*entity.ExtractionJob, error) {
	c.mu.Lock()
	if job, ok := c.store[jobID]; ok {
		c.mu.Unlock()
		return job, nil
	}
	c.mu.Unlock()

	job, err := loader()
	if err != nil {
		return nil, err
	}
	if job == nil || !job.Status.IsTerminal() {
		return nil, nil
	}
	c.mu.Lock()
	c.store[jobID] = job
	c.mu.Unlock()
	return job, nil
}

func TestServiceGetReadsThroughResultCache(t *testing.T) {
	cfg := testCfg()
	repo := &countingRepo{JobRepository: memory.NewJobRepository()}
	cache := newFakeResultCache()
	orchestrator := extraction.NewOrchestrator(okCaller(), cfg, nil, "openai", "gpt-test")
	svc := NewService(repo, extraction.NewService(extraction.NewChunker(cfg.ChunkSize, 0, 10), orchestrator), nil, nil, &staticFetcher{content: "doc"}, cache, cfg, "openai", "gpt-test")

	job, err := svc.Create(context.Background(), CreateJobInput{URLs: []string{"u"}, Prompt: "extract"})
	require.NoError(t, err)

	// 非终态任务不入缓存，查询回源数据库
	pending, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusPending, pending.Status)

	require.NoError(t, svc.Run(context.Background(), job.ID))

	repo.mu.Lock()
	repo.gets = 0
	repo.mu.Unlock()

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, got.Status)

	repo.mu.Lock()
	gets := repo.gets
	repo.mu.Unlock()
	require.Equal(t, 0, gets)
}

func TestServiceGetReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, okCaller(), &staticFetcher{content: "doc"}, "")
	_, err := svc.Get(context.Background(), "missing")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.CodeJobNotFound, appErr.Code)
}

// Package wire 手工装配应用依赖，api-gateway 与 job-worker 共用
package wire

import (
	"context"
	"fmt"

	"z-doc-extract-api/internal/application/extraction"
	"z-doc-extract-api/internal/application/jobs"
	"z-doc-extract-api/internal/application/quota"
	"z-doc-extract-api/internal/application/webhook"
	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/infrastructure/fetcher"
	"z-doc-extract-api/internal/infrastructure/llm"
	"z-doc-extract-api/internal/infrastructure/messaging"
	"z-doc-extract-api/internal/infrastructure/persistence/postgres"
	"z-doc-extract-api/internal/infrastructure/persistence/redis"
	"z-doc-extract-api/internal/domain/repository"
)

// App 装配完成的核心组件
type App struct {
	Config *config.Config

	Postgres *postgres.Client
	Redis    *redis.Client

	JobRepo      repository.JobRepository
	UsageRepo    repository.LLMUsageEventRepository
	DeliveryRepo repository.WebhookDeliveryRepository

	Extractor  *extraction.Service
	JobService *jobs.Service
	Producer   *messaging.Producer

	RateLimiter *redis.RateLimiter

	Provider string
	Model    string
}

// InitializeApp 按配置装配全部核心依赖，返回清理函数
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	pg, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init postgres: %w", err)
	}
	if err := pg.AutoMigrate(); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	rdb, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	cleanup := func() {
		_ = rdb.Close()
		_ = pg.Close()
	}

	jobRepo := postgres.NewJobRepository(pg)
	usageRepo := postgres.NewLLMUsageEventRepository(pg)
	deliveryRepo := postgres.NewWebhookDeliveryRepository(pg)

	provider := cfg.LLM.DefaultProvider
	model := ""
	if pc, ok := cfg.LLM.Providers[provider]; ok {
		model = pc.Model
	}

	factory := llm.NewEinoFactory(cfg)
	caller := extraction.NewCaller(factory, provider)
	recorder := quota.NewLLMUsageRecorder(usageRepo)
	chunker := extraction.NewChunker(cfg.Extraction.ChunkSize, cfg.Extraction.ChunkOverlap, cfg.Extraction.BoundaryTolerance)
	orchestrator := extraction.NewOrchestrator(caller, cfg.Extraction, recorder, provider, model)
	extractor := extraction.NewService(chunker, orchestrator)

	dispatcher := webhook.NewDispatcher(cfg.Webhook, deliveryRepo)
	producer := messaging.NewProducer(rdb.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	docFetcher := fetcher.NewHTTPFetcher(0)
	jobCache := redis.NewJobResultCache(redis.NewCache(rdb), cfg.Extraction.ResultCacheTTL)

	jobService := jobs.NewService(
		jobRepo,
		extractor,
		dispatcher,
		producer,
		docFetcher,
		jobCache,
		cfg.Extraction,
		provider, model,
	)

	app := &App{
		Config:       cfg,
		Postgres:     pg,
		Redis:        rdb,
		JobRepo:      jobRepo,
		UsageRepo:    usageRepo,
		DeliveryRepo: deliveryRepo,
		Extractor:    extractor,
		JobService:   jobService,
		Producer:     producer,
		RateLimiter:  redis.NewRateLimiter(rdb),
		Provider:     provider,
		Model:        model,
	}
	return app, cleanup, nil
}

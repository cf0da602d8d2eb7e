// Package main 抽取任务 Worker 服务入口
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/infrastructure/messaging"
	einoobs "z-doc-extract-api/internal/observability/eino"
	"z-doc-extract-api/internal/wire"
	"z-doc-extract-api/pkg/logger"
	"z-doc-extract-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.FromContext(ctx)
	log.Info("starting job-worker",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name + "-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	einoobs.Init()

	app, cleanupApp, err := wire.InitializeApp(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize app", err)
	}
	defer cleanupApp()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	consumer := messaging.NewConsumer(app.Redis.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamExtract,
		Group:         messaging.ConsumerGroupExtractWorker,
		ConsumerName:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		BlockTimeout:  cfg.Messaging.RedisStream.BlockTimeout,
		ClaimInterval: cfg.Messaging.RedisStream.ClaimInterval,
		RetryLimit:    cfg.Messaging.RedisStream.RetryLimit,
		Backoff:       cfg.Messaging.RedisStream.RetryBackoff,
	})

	consumer.RegisterHandler(messaging.MessageTypeExtraction, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.ExtractionJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			logger.Error(ctx, "invalid extraction job message", err, "message_id", msg.ID)
			// 无法解析的消息重试没有意义
			return nil
		}
		return app.JobService.Run(ctx, payload.JobID)
	})

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	go consumer.MonitorDLQ(ctx, 100)

	log.Info("job-worker started",
		"stream", messaging.StreamExtract,
		"group", messaging.ConsumerGroupExtractWorker,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	consumer.Stop()
	cancel()
	log.Info("worker exited")
}

// Package webhook 实现任务终态的回调投递。
// 投递语义 at-least-once：网络失败或非 2xx 响应触发有界重试，
// 重试耗尽后记录为投递失败，绝不回写任务状态。
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	"z-doc-extract-api/pkg/logger"
	"z-doc-extract-api/pkg/metrics"
)

const (
	headerTaskID    = "X-Task-ID"
	headerSignature = "X-Webhook-Signature"
)

// ChunkUsage 回调负载中单个分块的用量
type ChunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenUsagePayload 回调负载中的聚合用量
type TokenUsagePayload struct {
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	TotalTokens      int          `json:"total_tokens"`
	Chunks           []ChunkUsage `json:"chunks,omitempty"`
}

// Payload 回调负载。同一任务的重复投递携带完全相同的内容，
// 接收方可以按 task_id 去重。
type Payload struct {
	TaskID     string             `json:"task_id"`
	TaskType   string             `json:"task_type"`
	Status     string             `json:"status"`
	URLs       []string           `json:"urls"`
	Result     json.RawMessage    `json:"result,omitempty"`
	TokenUsage *TokenUsagePayload `json:"token_usage,omitempty"`
}

// Dispatcher 回调投递器
type Dispatcher struct {
	client       *http.Client
	cfg          config.WebhookConfig
	deliveryRepo repository.WebhookDeliveryRepository
}

// NewDispatcher 创建投递器，deliveryRepo 可为 nil（不落投递流水）
func NewDispatcher(cfg config.WebhookConfig, deliveryRepo repository.WebhookDeliveryRepository) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client:       &http.Client{Timeout: timeout},
		cfg:          cfg,
		deliveryRepo: deliveryRepo,
	}
}

// Dispatch 投递一次回调并返回投递记录。
// 投递失败只体现在返回的记录里，不产生错误返回值，
// 任务本身的成败与投递结果无关。
func (d *Dispatcher) Dispatch(ctx context.Context, webhookCfg *entity.WebhookConfig, payload *Payload) *entity.WebhookDelivery {
	delivery := &entity.WebhookDelivery{
		JobID:  payload.TaskID,
		URL:    webhookCfg.URL,
		Status: entity.DeliveryStatusFailed,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		delivery.LastError = fmt.Sprintf("marshal payload: %v", err)
		d.record(ctx, delivery)
		return delivery
	}

	maxRetries := webhookCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.cfg.RetryBackoff.CalculateBackoff(attempt - 1)):
			case <-ctx.Done():
				delivery.LastError = ctx.Err().Error()
				d.record(ctx, delivery)
				return delivery
			}
		}

		metrics.WebhookDeliveryAttempts.Inc()
		delivery.Attempts++

		code, err := d.post(ctx, webhookCfg, payload.TaskID, body)
		delivery.LastStatusCode = code
		if err != nil {
			delivery.LastError = err.Error()
		} else if code >= 200 && code < 300 {
			delivery.Status = entity.DeliveryStatusDelivered
			delivery.LastError = ""
			d.record(ctx, delivery)
			return delivery
		} else {
			delivery.LastError = fmt.Sprintf("unexpected status code: %d", code)
		}

		logger.Warn(ctx, "webhook delivery attempt failed",
			"job_id", payload.TaskID,
			"url", webhookCfg.URL,
			"attempt", attempt+1,
			"status_code", code,
			"error", delivery.LastError,
		)
	}

	d.record(ctx, delivery)
	return delivery
}

// post 发送一次回调请求
func (d *Dispatcher) post(ctx context.Context, webhookCfg *entity.WebhookConfig, taskID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookCfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTaskID, taskID)
	for k, v := range webhookCfg.Headers {
		req.Header.Set(k, v)
	}

	secret := webhookCfg.Secret
	if secret == "" {
		secret = d.cfg.SigningSecret
	}
	if secret != "" {
		req.Header.Set(headerSignature, Sign(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// record 落投递流水并上报指标，失败不影响主流程
func (d *Dispatcher) record(ctx context.Context, delivery *entity.WebhookDelivery) {
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(delivery.Status)).Inc()
	if d.deliveryRepo == nil {
		return
	}
	if err := d.deliveryRepo.Create(ctx, delivery); err != nil {
		logger.Warn(ctx, "failed to record webhook delivery", "job_id", delivery.JobID, "error", err)
	}
}

// Sign 计算回调体的 HMAC-SHA256 签名（hex 编码）
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

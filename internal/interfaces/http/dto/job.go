// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"encoding/json"
	"time"

	"z-doc-extract-api/internal/domain/entity"
)

// WebhookRequest 回调配置请求
type WebhookRequest struct {
	URL        string            `json:"url" binding:"required"`
	Secret     string            `json:"secret,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// CreateJobRequest 创建抽取任务请求
type CreateJobRequest struct {
	URLs           []string        `json:"urls" binding:"required,min=1"`
	Prompt         string          `json:"prompt" binding:"required"`
	Schema         json.RawMessage `json:"schema,omitempty"`
	Webhook        *WebhookRequest `json:"webhook,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// ToWebhookConfig 转换为领域回调配置
func (r *CreateJobRequest) ToWebhookConfig() *entity.WebhookConfig {
	if r.Webhook == nil {
		return nil
	}
	return &entity.WebhookConfig{
		URL:        r.Webhook.URL,
		Secret:     r.Webhook.Secret,
		MaxRetries: r.Webhook.MaxRetries,
		Headers:    r.Webhook.Headers,
	}
}

// JobResponse 任务响应
type JobResponse struct {
	ID               string          `json:"id"`
	TaskType         string          `json:"task_type"`
	Status           string          `json:"status"`
	URLs             []string        `json:"urls"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorMsg         string          `json:"error_msg,omitempty"`
	Provider         string          `json:"provider,omitempty"`
	Model            string          `json:"model,omitempty"`
	TokensPrompt     int             `json:"tokens_prompt"`
	TokensCompletion int             `json:"tokens_completion"`
	DurationMs       int             `json:"duration_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	StartedAt        time.Time       `json:"started_at,omitempty"`
	CompletedAt      time.Time       `json:"completed_at,omitempty"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// CancelJobResponse 取消任务响应
type CancelJobResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// ToJobResponse 将领域实体转换为响应 DTO
func ToJobResponse(j *entity.ExtractionJob) *JobResponse {
	if j == nil {
		return nil
	}

	resp := &JobResponse{
		ID:               j.ID,
		TaskType:         string(j.TaskType),
		Status:           string(j.Status),
		URLs:             j.URLs,
		Result:           j.Result,
		ErrorMsg:         j.ErrorMessage,
		Provider:         j.Provider,
		Model:            j.Model,
		TokensPrompt:     j.TokensPrompt,
		TokensCompletion: j.TokensCompletion,
		DurationMs:       j.DurationMs,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}

	if j.StartedAt != nil {
		resp.StartedAt = *j.StartedAt
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = *j.CompletedAt
	}

	return resp
}

// ToJobListResponse 将领域实体列表转换为响应 DTO
func ToJobListResponse(jobs []*entity.ExtractionJob) *JobListResponse {
	resp := &JobListResponse{
		Jobs: make([]*JobResponse, 0, len(jobs)),
	}

	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, ToJobResponse(j))
	}

	return resp
}

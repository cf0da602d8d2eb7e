// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"time"
)

// JobType 任务类型
type JobType string

const (
	JobTypeExtract JobType = "extract"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusPartiallyCompleted 部分分块成功、部分失败
	JobStatusPartiallyCompleted JobStatus = "partially_completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// IsTerminal 判断状态是否为终态
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo 判断状态是否允许迁移到 next
// 状态机：pending -> running -> {completed, partially_completed, failed, cancelled}
// pending 也可以直接被取消；终态不允许任何迁移
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// WebhookConfig 任务完成后的回调配置
type WebhookConfig struct {
	URL        string            `json:"url"`
	Secret     string            `json:"secret,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// ExtractionJob 抽取任务
type ExtractionJob struct {
	ID       string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TaskType JobType   `json:"task_type" gorm:"type:varchar(32);not null;default:'extract'"`
	Status   JobStatus `json:"status" gorm:"type:varchar(32);not null;index"`

	// URLs 输入文档的引用（URL 或内容标识），JSON 数组
	URLs StringList `json:"urls" gorm:"type:jsonb;serializer:json"`
	// Prompt 抽取指令
	Prompt string `json:"prompt,omitempty" gorm:"type:text"`
	// Schema 期望的结构化输出 JSON Schema（可选）
	Schema json.RawMessage `json:"schema,omitempty" gorm:"type:jsonb"`

	// Webhook 回调配置，为 nil 时不投递
	Webhook *WebhookConfig `json:"webhook,omitempty" gorm:"type:jsonb;serializer:json"`

	// Result 终态时的聚合结果（AggregateResult 的 JSON 序列化）
	Result       json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	ErrorMessage string          `json:"error_message,omitempty" gorm:"type:text"`

	// CancelRequested 取消信号，编排器轮询该标记以协作式停止
	CancelRequested bool `json:"cancel_requested" gorm:"not null;default:false"`

	Provider         string `json:"provider,omitempty" gorm:"type:varchar(32)"`
	Model            string `json:"model,omitempty" gorm:"type:varchar(64)"`
	TokensPrompt     int    `json:"tokens_prompt" gorm:"not null;default:0"`
	TokensCompletion int    `json:"tokens_completion" gorm:"not null;default:0"`
	DurationMs       int    `json:"duration_ms" gorm:"not null;default:0"`

	IdempotencyKey string `json:"idempotency_key,omitempty" gorm:"type:varchar(128);uniqueIndex:idx_jobs_idem_key,where:idempotency_key <> ''"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StringList JSON 序列化的字符串列表
type StringList []string

// TableName 指定表名
func (ExtractionJob) TableName() string {
	return "extraction_jobs"
}

// NewExtractionJob 创建新任务，初始状态为 pending
func NewExtractionJob(urls []string, prompt string, schema json.RawMessage, webhook *WebhookConfig) *ExtractionJob {
	return &ExtractionJob{
		TaskType:  JobTypeExtract,
		Status:    JobStatusPending,
		URLs:      urls,
		Prompt:    prompt,
		Schema:    schema,
		Webhook:   webhook,
		CreatedAt: time.Now(),
	}
}

// Start 标记任务开始执行
func (j *ExtractionJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Finish 将任务置为终态并记录结果
func (j *ExtractionJob) Finish(status JobStatus, result json.RawMessage, errMsg string) {
	now := time.Now()
	j.Status = status
	j.Result = result
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationMs = int(now.Sub(*j.StartedAt).Milliseconds())
	}
}

// SetLLMMetrics 记录任务级 LLM 使用指标
func (j *ExtractionJob) SetLLMMetrics(provider, model string, promptTokens, completionTokens int) {
	j.Provider = provider
	j.Model = model
	j.TokensPrompt = promptTokens
	j.TokensCompletion = completionTokens
}

// Package extraction 实现分块抽取的核心编排逻辑：
// 切分文档、并发调用 LLM、按块重试、聚合结果与 token 用量。
package extraction

import (
	"encoding/json"
)

// UsageAvailability 标记用量数据的可用程度。
// 提供商可能完全不返回用量，也可能只返回部分字段，
// 必须区分"没有用量数据"和"用量为零"。
type UsageAvailability string

const (
	// UsageAvailable 用量数据完整
	UsageAvailable UsageAvailability = "available"
	// UsagePartial 用量数据不完整（缺失字段按零参与求和）
	UsagePartial UsageAvailability = "partial"
	// UsageUnavailable 没有任何用量数据
	UsageUnavailable UsageAvailability = "unavailable"
)

// TokenUsage 一次或多次 LLM 调用的 token 用量
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails     map[string]int `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails map[string]int `json:"completion_tokens_details,omitempty"`

	Availability UsageAvailability `json:"availability"`
}

// ChunkStatus 单个分块的终态
type ChunkStatus string

const (
	ChunkStatusSuccess ChunkStatus = "success"
	ChunkStatusFailed  ChunkStatus = "failed"
)

// ChunkResult 单个分块的最终处理结果（重试耗尽后固定，不再变更）
type ChunkResult struct {
	ChunkIndex int             `json:"chunk_index"`
	Content    json.RawMessage `json:"content,omitempty"`
	Usage      *TokenUsage     `json:"usage,omitempty"`
	Status     ChunkStatus     `json:"status"`
	ErrorKind  ErrorKind       `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	// Attempts 实际发起的调用次数（含首次）
	Attempts int `json:"attempts"`
}

// AggregateStatus 一次抽取的整体状态
type AggregateStatus string

const (
	// AggregateSuccess 所有分块成功
	AggregateSuccess AggregateStatus = "success"
	// AggregatePartial 至少一个分块成功且至少一个失败
	AggregatePartial AggregateStatus = "partial"
	// AggregateFailed 没有任何分块成功
	AggregateFailed AggregateStatus = "failed"
)

// AggregateResult 一次抽取请求的聚合结果。
// Chunks 按 chunk_index 升序排列，与调用完成顺序无关。
type AggregateResult struct {
	Chunks        []ChunkResult   `json:"chunks"`
	Usage         TokenUsage      `json:"usage"`
	OverallStatus AggregateStatus `json:"overall_status"`
}

// aggregateStatusOf 根据分块成败计算整体状态
func aggregateStatusOf(chunks []ChunkResult) AggregateStatus {
	succeeded, failed := 0, 0
	for _, cr := range chunks {
		if cr.Status == ChunkStatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0 && succeeded > 0:
		return AggregateSuccess
	case succeeded > 0:
		return AggregatePartial
	default:
		return AggregateFailed
	}
}

package extraction

import (
	"context"
	"encoding/json"
	"errors"
)

// DocumentInput 一篇待抽取的文档。
// 页面抓取与正文归一化由外部协作方完成，这里只接收规整后的文本。
type DocumentInput struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// DocumentResult 单篇文档的抽取结果
type DocumentResult struct {
	URL    string          `json:"url"`
	Status AggregateStatus `json:"status"`
	// Result 分块聚合结果；切分失败时为 nil
	Result *AggregateResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Service 抽取流水线：切分 -> 编排 -> 聚合。
// 一次请求可以携带多篇文档，文档串行处理，单篇内部分块并发。
type Service struct {
	chunker      *Chunker
	orchestrator *Orchestrator
}

// NewService 创建抽取服务
func NewService(chunker *Chunker, orchestrator *Orchestrator) *Service {
	return &Service{chunker: chunker, orchestrator: orchestrator}
}

// ExtractDocument 处理单篇文档。
// 切分失败在任何提供商调用之前返回；取消返回 ErrCancelled。
func (s *Service) ExtractDocument(ctx context.Context, jobID string, doc DocumentInput, prompt string, schema json.RawMessage, cancelled CancelCheck) (*AggregateResult, error) {
	chunks, err := s.chunker.Split(doc.Content)
	if err != nil {
		return nil, err
	}
	return s.orchestrator.Run(ctx, Task{
		JobID:  jobID,
		Chunks: chunks,
		Prompt: prompt,
		Schema: schema,
	}, cancelled)
}

// ExtractDocuments 依次处理多篇文档。
// 单篇切分失败只标记该篇失败，不中断其余文档；取消立即收敛。
func (s *Service) ExtractDocuments(ctx context.Context, jobID string, docs []DocumentInput, prompt string, schema json.RawMessage, cancelled CancelCheck) ([]DocumentResult, error) {
	results := make([]DocumentResult, 0, len(docs))
	for _, doc := range docs {
		if cancelled != nil && cancelled(ctx) {
			return nil, ErrCancelled
		}

		agg, err := s.ExtractDocument(ctx, jobID, doc, prompt, schema, cancelled)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, ErrCancelled
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			results = append(results, DocumentResult{
				URL:    doc.URL,
				Status: AggregateFailed,
				Error:  err.Error(),
			})
			continue
		}
		results = append(results, DocumentResult{
			URL:    doc.URL,
			Status: agg.OverallStatus,
			Result: agg,
		})
	}
	return results, nil
}

// OverallStatus 汇总多篇文档的整体状态
func OverallStatus(results []DocumentResult) AggregateStatus {
	succeeded, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case AggregateSuccess:
			succeeded++
		case AggregatePartial:
			succeeded++
			failed++
		default:
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

// SumDocumentUsage 汇总多篇文档的 token 用量，并拼接按序的分块用量审计序列
func SumDocumentUsage(results []DocumentResult) (TokenUsage, []TokenUsage) {
	total := TokenUsage{Availability: UsageUnavailable}
	var audit []TokenUsage

	present := 0
	degraded := false
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		u := r.Result.Usage
		for _, cr := range r.Result.Chunks {
			if cr.Usage != nil {
				audit = append(audit, *cr.Usage)
			}
		}
		if u.Availability == UsageUnavailable {
			degraded = true
			continue
		}
		present++
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
		if u.Availability == UsagePartial {
			degraded = true
		}
	}

	if present == 0 {
		return TokenUsage{Availability: UsageUnavailable}, audit
	}
	if degraded {
		total.Availability = UsagePartial
	} else {
		total.Availability = UsageAvailable
	}
	return total, audit
}

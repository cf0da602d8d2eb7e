// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"encoding/json"

	"z-doc-extract-api/internal/application/extraction"
)

// ExtractDocumentRequest 同步抽取的单篇文档
type ExtractDocumentRequest struct {
	URL     string `json:"url"`
	Content string `json:"content" binding:"required"`
}

// ExtractRequest 同步抽取请求
type ExtractRequest struct {
	Documents []ExtractDocumentRequest `json:"documents" binding:"required,min=1"`
	Prompt    string                   `json:"prompt" binding:"required"`
	Schema    json.RawMessage          `json:"schema,omitempty"`
}

// ToDocumentInputs 转换为抽取流水线输入
func (r *ExtractRequest) ToDocumentInputs() []extraction.DocumentInput {
	docs := make([]extraction.DocumentInput, 0, len(r.Documents))
	for _, d := range r.Documents {
		docs = append(docs, extraction.DocumentInput{URL: d.URL, Content: d.Content})
	}
	return docs
}

// ChunkUsageResponse 单个分块的 token 用量
type ChunkUsageResponse struct {
	ChunkIndex       int    `json:"chunk_index"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Availability     string `json:"availability"`
}

// TokenUsageResponse 文档级 token 用量（chunks 为每个分块的审计明细）
type TokenUsageResponse struct {
	PromptTokens     int                  `json:"prompt_tokens"`
	CompletionTokens int                  `json:"completion_tokens"`
	TotalTokens      int                  `json:"total_tokens"`
	Availability     string               `json:"availability"`
	Chunks           []ChunkUsageResponse `json:"chunks,omitempty"`
}

// DocumentResultResponse 单篇文档的抽取结果
type DocumentResultResponse struct {
	URL              string              `json:"url"`
	Success          bool                `json:"success"`
	Status           string              `json:"status"`
	ExtractedContent []json.RawMessage   `json:"extracted_content,omitempty"`
	TokenUsage       *TokenUsageResponse `json:"token_usage,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// ExtractResponse 同步抽取响应
type ExtractResponse struct {
	Success               bool                     `json:"success"`
	Results               []DocumentResultResponse `json:"results"`
	ServerProcessingTimeS float64                  `json:"server_processing_time_s"`
	ServerMemoryDeltaMB   float64                  `json:"server_memory_delta_mb"`
}

// ToDocumentResultResponse 将抽取结果转换为响应 DTO
func ToDocumentResultResponse(r extraction.DocumentResult) DocumentResultResponse {
	resp := DocumentResultResponse{
		URL:     r.URL,
		Success: r.Status != extraction.AggregateFailed,
		Status:  string(r.Status),
		Error:   r.Error,
	}

	if r.Result == nil {
		return resp
	}

	for _, cr := range r.Result.Chunks {
		if cr.Status == extraction.ChunkStatusSuccess && cr.Content != nil {
			resp.ExtractedContent = append(resp.ExtractedContent, cr.Content)
		}
	}

	usage := r.Result.Usage
	if usage.Availability != extraction.UsageUnavailable {
		tu := &TokenUsageResponse{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			Availability:     string(usage.Availability),
		}
		for _, cr := range r.Result.Chunks {
			if cr.Usage == nil {
				continue
			}
			tu.Chunks = append(tu.Chunks, ChunkUsageResponse{
				ChunkIndex:       cr.ChunkIndex,
				PromptTokens:     cr.Usage.PromptTokens,
				CompletionTokens: cr.Usage.CompletionTokens,
				TotalTokens:      cr.Usage.TotalTokens,
				Availability:     string(cr.Usage.Availability),
			})
		}
		resp.TokenUsage = tu
	}

	return resp
}

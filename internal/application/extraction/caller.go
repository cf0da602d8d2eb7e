package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelFactory 定义抽取层对 LLM ChatModel 的最小依赖（port）。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// ChunkCaller 针对单个分块发起一次提供商调用。
// 实现不得修改任何共享状态，失败必须分类为 CallError。
type ChunkCaller interface {
	Extract(ctx context.Context, chunk Chunk, prompt string, schema json.RawMessage) (json.RawMessage, *TokenUsage, error)
}

// Caller 基于 Eino ChatModel 的 ChunkCaller 实现。
// 提供商响应形态的差异全部在这一层归一化，
// 编排器和累加器不感知提供商细节。
type Caller struct {
	factory  ChatModelFactory
	provider string
}

// NewCaller 创建调用器，provider 为空时使用默认提供商
func NewCaller(factory ChatModelFactory, provider string) *Caller {
	return &Caller{factory: factory, provider: provider}
}

// Extract 对一个分块执行一次抽取调用。
// 成功时返回结构化内容和用量（提供商未报告用量时为 nil）。
func (c *Caller) Extract(ctx context.Context, chunk Chunk, prompt string, extractSchema json.RawMessage) (json.RawMessage, *TokenUsage, error) {
	cm, err := c.factory.Get(ctx, c.provider)
	if err != nil {
		return nil, nil, NewCallError(ErrKindProviderError, err)
	}

	messages := buildMessages(chunk, prompt, extractSchema)
	outMsg, err := cm.Generate(ctx, messages)
	if err != nil {
		return nil, nil, ClassifyCallError(err)
	}
	if outMsg == nil {
		return nil, nil, NewCallError(ErrKindMalformedResponse, fmt.Errorf("empty llm response"))
	}

	usage := usageFromMeta(outMsg.ResponseMeta)

	raw := extractJSONValue(outMsg.Content)
	if raw == "" || !json.Valid([]byte(raw)) {
		return nil, usage, NewCallError(ErrKindMalformedResponse,
			fmt.Errorf("response is not valid json: %q", truncate(outMsg.Content, 200)))
	}

	return json.RawMessage(raw), usage, nil
}

// buildMessages 组装抽取指令：system 携带指令与期望 schema，user 携带分块内容
func buildMessages(chunk Chunk, prompt string, extractSchema json.RawMessage) []*schema.Message {
	var sb strings.Builder
	sb.WriteString("You are a structured data extraction engine. ")
	sb.WriteString("Extract the requested information from the document fragment and respond with a single JSON value, no extra text.\n\n")
	sb.WriteString("Instruction:\n")
	sb.WriteString(prompt)
	if len(extractSchema) > 0 {
		sb.WriteString("\n\nThe response must conform to this JSON Schema:\n")
		sb.Write(extractSchema)
	}

	return []*schema.Message{
		schema.SystemMessage(sb.String()),
		schema.UserMessage(chunk.Text),
	}
}

// usageFromMeta 归一化提供商报告的用量。
// 未报告用量返回 nil；只报告总数不报告拆分时标记 partial。
func usageFromMeta(meta *schema.ResponseMeta) *TokenUsage {
	if meta == nil || meta.Usage == nil {
		return nil
	}
	u := meta.Usage
	tu := &TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Availability:     UsageAvailable,
	}
	if tu.TotalTokens == 0 {
		tu.TotalTokens = tu.PromptTokens + tu.CompletionTokens
	}
	if tu.TotalTokens > 0 && tu.PromptTokens == 0 && tu.CompletionTokens == 0 {
		tu.Availability = UsagePartial
	}
	return tu
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	out *schema.Message
	err error
}

func (m *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return m.out, m.err
}

func (m *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fakeFactory struct {
	cm  model.BaseChatModel
	err error
}

func (f *fakeFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	return f.cm, f.err
}

func assistantMessage(content string, usage *schema.TokenUsage) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: content}
	if usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: usage}
	}
	return msg
}

func TestCallerExtractSuccess(t *testing.T) {
	cm := &fakeChatModel{out: assistantMessage(`{"title":"报告"}`, &schema.TokenUsage{
		PromptTokens:     100,
		CompletionTokens: 20,
		TotalTokens:      120,
	})}
	c := NewCaller(&fakeFactory{cm: cm}, "openai")

	content, usage, err := c.Extract(context.Background(), Chunk{Index: 0, Text: "doc"}, "extract title", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"报告"}`, string(content))
	require.NotNil(t, usage)
	require.Equal(t, 100, usage.PromptTokens)
	require.Equal(t, 20, usage.CompletionTokens)
	require.Equal(t, 120, usage.TotalTokens)
	require.Equal(t, UsageAvailable, usage.Availability)
}

func TestCallerStripsSurroundingProse(t *testing.T) {
	cm := &fakeChatModel{out: assistantMessage("Here is the result:\n```json\n{\"a\":1}\n```\nDone.", nil)}
	c := NewCaller(&fakeFactory{cm: cm}, "openai")

	content, usage, err := c.Extract(context.Background(), Chunk{Text: "doc"}, "extract", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(content))
	// 提供商未报告用量时必须是缺失，而不是零用量
	require.Nil(t, usage)
}

func TestCallerMalformedResponse(t *testing.T) {
	cm := &fakeChatModel{out: assistantMessage("I could not find any data.", &schema.TokenUsage{
		PromptTokens: 50, CompletionTokens: 8, TotalTokens: 58,
	})}
	c := NewCaller(&fakeFactory{cm: cm}, "openai")

	_, usage, err := c.Extract(context.Background(), Chunk{Text: "doc"}, "extract", nil)
	require.Error(t, err)
	require.Equal(t, ErrKindMalformedResponse, AsCallError(err).Kind)
	// 解析失败的调用仍然计费
	require.NotNil(t, usage)
	require.Equal(t, 58, usage.TotalTokens)
}

func TestCallerClassifiesProviderFailure(t *testing.T) {
	cm := &fakeChatModel{err: errors.New("429 too many requests")}
	c := NewCaller(&fakeFactory{cm: cm}, "openai")

	_, _, err := c.Extract(context.Background(), Chunk{Text: "doc"}, "extract", nil)
	require.Error(t, err)
	require.Equal(t, ErrKindRateLimited, AsCallError(err).Kind)
}

func TestCallerTotalOnlyUsageMarkedPartial(t *testing.T) {
	cm := &fakeChatModel{out: assistantMessage(`{"a":1}`, &schema.TokenUsage{TotalTokens: 42})}
	c := NewCaller(&fakeFactory{cm: cm}, "openai")

	_, usage, err := c.Extract(context.Background(), Chunk{Text: "doc"}, "extract", nil)
	require.NoError(t, err)
	require.NotNil(t, usage)
	require.Equal(t, 42, usage.TotalTokens)
	require.Equal(t, UsagePartial, usage.Availability)
}

func TestCallerSchemaIncludedInPrompt(t *testing.T) {
	extractSchema := json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}}}`)
	messages := buildMessages(Chunk{Text: "body"}, "extract the title", extractSchema)

	require.Len(t, messages, 2)
	require.Equal(t, schema.System, messages[0].Role)
	require.Contains(t, messages[0].Content, "extract the title")
	require.Contains(t, messages[0].Content, `"title"`)
	require.Equal(t, schema.User, messages[1].Role)
	require.Equal(t, "body", messages[1].Content)
}

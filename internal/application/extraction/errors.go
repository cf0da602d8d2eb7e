package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 分块调用失败的分类
type ErrorKind string

const (
	// ErrKindRateLimited 提供商限流，可重试
	ErrKindRateLimited ErrorKind = "rate_limited"
	// ErrKindTimeout 调用超时，可重试
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindProviderError 提供商侧错误，可重试（有界）
	ErrKindProviderError ErrorKind = "provider_error"
	// ErrKindAuthError 认证失败，不重试
	ErrKindAuthError ErrorKind = "auth_error"
	// ErrKindMalformedResponse 输出无法解析为期望结构，本次调用不重试
	ErrKindMalformedResponse ErrorKind = "malformed_response"
)

// Retryable 判断该类失败是否值得重试
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindRateLimited, ErrKindTimeout, ErrKindProviderError:
		return true
	}
	return false
}

// CallError 一次分块调用的分类失败
type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewCallError 构造分类失败
func NewCallError(kind ErrorKind, err error) *CallError {
	return &CallError{Kind: kind, Err: err}
}

// AsCallError 提取错误链中的 CallError，未分类的错误按 provider_error 兜底
func AsCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Kind: ErrKindProviderError, Err: err}
}

// ClassifyCallError 根据错误信息对提供商调用失败归类。
// 提供商 SDK 不暴露稳定的错误类型，只能按消息特征匹配。
func ClassifyCallError(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCallError(ErrKindTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return NewCallError(ErrKindRateLimited, err)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return NewCallError(ErrKindTimeout, err)
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return NewCallError(ErrKindAuthError, err)
	default:
		return NewCallError(ErrKindProviderError, err)
	}
}

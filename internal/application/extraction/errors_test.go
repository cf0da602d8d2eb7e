package extraction

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCallError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limit message", errors.New("openai: rate limit exceeded"), ErrKindRateLimited},
		{"429 status", errors.New("unexpected status code: 429"), ErrKindRateLimited},
		{"too many requests", errors.New("Too Many Requests"), ErrKindRateLimited},
		{"timeout message", errors.New("request timed out"), ErrKindTimeout},
		{"deadline exceeded message", errors.New("context deadline exceeded"), ErrKindTimeout},
		{"unauthorized", errors.New("401 Unauthorized"), ErrKindAuthError},
		{"invalid key", errors.New("invalid api key provided"), ErrKindAuthError},
		{"forbidden", errors.New("403 Forbidden"), ErrKindAuthError},
		{"unknown provider failure", errors.New("internal server error"), ErrKindProviderError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := ClassifyCallError(tc.err)
			require.Equal(t, tc.want, ce.Kind)
			require.ErrorIs(t, ce, tc.err)
		})
	}
}

func TestClassifyCallErrorContextDeadline(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", context.DeadlineExceeded)
	ce := ClassifyCallError(wrapped)
	require.Equal(t, ErrKindTimeout, ce.Kind)
}

func TestErrorKindRetryable(t *testing.T) {
	require.True(t, ErrKindRateLimited.Retryable())
	require.True(t, ErrKindTimeout.Retryable())
	require.True(t, ErrKindProviderError.Retryable())
	require.False(t, ErrKindAuthError.Retryable())
	require.False(t, ErrKindMalformedResponse.Retryable())
}

func TestAsCallErrorFallsBackToProviderError(t *testing.T) {
	ce := AsCallError(errors.New("something broke"))
	require.Equal(t, ErrKindProviderError, ce.Kind)

	original := NewCallError(ErrKindAuthError, errors.New("401"))
	wrapped := fmt.Errorf("wrapped: %w", original)
	require.Equal(t, ErrKindAuthError, AsCallError(wrapped).Kind)
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	allow     bool
	remaining int
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.allow, nil
}

func (l *stubLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	return l.remaining, nil
}

func newRateLimitRouter(cfg RateLimitConfig, limiter RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(cfg, limiter))
	r.GET("/v1/jobs", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimitRejectsWithQuotaHeaders(t *testing.T) {
	r := newRateLimitRouter(
		RateLimitConfig{Enabled: true, RequestsPerSecond: 5},
		&stubLimiter{allow: false, remaining: 0},
	)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	r := newRateLimitRouter(
		RateLimitConfig{Enabled: true, RequestsPerSecond: 5},
		&stubLimiter{allow: true, remaining: 4},
	)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	r := newRateLimitRouter(RateLimitConfig{Enabled: false}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

	require.Equal(t, http.StatusOK, w.Code)
}

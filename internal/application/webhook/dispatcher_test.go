package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"z-doc-extract-api/internal/config"
	"z-doc-extract-api/internal/domain/entity"
)

func testWebhookConfig(maxRetries int) config.WebhookConfig {
	return config.WebhookConfig{
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
		RetryBackoff: config.BackoffConfig{
			Initial:    time.Millisecond,
			Max:        5 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
}

type recordingRepo struct {
	mu         sync.Mutex
	deliveries []*entity.WebhookDelivery
}

func (r *recordingRepo) Create(ctx context.Context, d *entity.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recordingRepo) ListByJob(ctx context.Context, jobID string) ([]*entity.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries, nil
}

func TestDispatcherDeliversPayload(t *testing.T) {
	var gotBody []byte
	var gotTaskID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTaskID = r.Header.Get("X-Task-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &recordingRepo{}
	d := NewDispatcher(testWebhookConfig(3), repo)
	payload := &Payload{
		TaskID:   "job-1",
		TaskType: "extract",
		Status:   "completed",
		URLs:     []string{"https://example.com/a"},
		TokenUsage: &TokenUsagePayload{
			PromptTokens: 370, CompletionTokens: 60, TotalTokens: 430,
			Chunks: []ChunkUsage{{100, 20, 120}, {150, 30, 180}, {120, 10, 130}},
		},
	}

	delivery := d.Dispatch(context.Background(), &entity.WebhookConfig{URL: srv.URL}, payload)
	require.Equal(t, entity.DeliveryStatusDelivered, delivery.Status)
	require.Equal(t, 1, delivery.Attempts)
	require.Equal(t, "job-1", gotTaskID)

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, "job-1", decoded.TaskID)
	require.Equal(t, 430, decoded.TokenUsage.TotalTokens)

	require.Len(t, repo.deliveries, 1)
}

func TestDispatcherRetriesOn500ThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(testWebhookConfig(3), nil)
	delivery := d.Dispatch(context.Background(), &entity.WebhookConfig{URL: srv.URL}, &Payload{TaskID: "job-1"})
	require.Equal(t, entity.DeliveryStatusDelivered, delivery.Status)
	require.Equal(t, 3, delivery.Attempts)
}

func TestDispatcherExhaustsRetriesAndRecordsFailure(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := &recordingRepo{}
	d := NewDispatcher(testWebhookConfig(2), repo)
	delivery := d.Dispatch(context.Background(), &entity.WebhookConfig{URL: srv.URL}, &Payload{TaskID: "job-1"})

	require.Equal(t, entity.DeliveryStatusFailed, delivery.Status)
	require.Equal(t, 3, delivery.Attempts)
	require.Equal(t, http.StatusInternalServerError, delivery.LastStatusCode)
	mu.Lock()
	require.Equal(t, 3, hits)
	mu.Unlock()

	// 重试耗尽只记录投递失败，调用方据此决定是否告警
	require.Len(t, repo.deliveries, 1)
	require.Equal(t, entity.DeliveryStatusFailed, repo.deliveries[0].Status)
}

func TestDispatcherSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(testWebhookConfig(0), nil)
	cfg := &entity.WebhookConfig{URL: srv.URL, Secret: "s3cret"}
	d.Dispatch(context.Background(), cfg, &Payload{TaskID: "job-1"})

	require.NotEmpty(t, gotSig)
	require.Equal(t, Sign("s3cret", gotBody), gotSig)
}

func TestDispatcherCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(testWebhookConfig(0), nil)
	cfg := &entity.WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer tok"}}
	delivery := d.Dispatch(context.Background(), cfg, &Payload{TaskID: "job-1"})

	require.Equal(t, entity.DeliveryStatusDelivered, delivery.Status)
	require.Equal(t, "Bearer tok", gotAuth)
}

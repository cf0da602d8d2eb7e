// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"z-doc-extract-api/internal/domain/entity"
)

// WebhookDeliveryRepository Webhook 投递记录仓储实现
type WebhookDeliveryRepository struct {
	client *Client
}

// NewWebhookDeliveryRepository 创建投递记录仓储
func NewWebhookDeliveryRepository(client *Client) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{client: client}
}

// Create 写入一条投递记录
func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	ctx, span := tracer.Start(ctx, "postgres.WebhookDeliveryRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(delivery).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

// ListByJob 获取任务的投递记录，按时间倒序
func (r *WebhookDeliveryRepository) ListByJob(ctx context.Context, jobID string) ([]*entity.WebhookDelivery, error) {
	ctx, span := tracer.Start(ctx, "postgres.WebhookDeliveryRepository.ListByJob")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var deliveries []*entity.WebhookDelivery
	if err := db.Where("job_id = ?", jobID).
		Order("created_at DESC").
		Find(&deliveries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}
	return deliveries, nil
}

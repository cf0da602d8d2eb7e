// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"z-doc-extract-api/internal/domain/entity"
)

type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	ListByJob(ctx context.Context, jobID string) ([]*entity.WebhookDelivery, error)
}

// Package entity 定义领域实体
package entity

import "time"

// DeliveryStatus Webhook 投递状态
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery Webhook 投递记录
// 投递失败只记录，不回写任务状态
type WebhookDelivery struct {
	ID             string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	JobID          string         `json:"job_id" gorm:"type:uuid;index;not null"`
	URL            string         `json:"url" gorm:"type:text;not null"`
	Status         DeliveryStatus `json:"status" gorm:"type:varchar(16);not null"`
	Attempts       int            `json:"attempts" gorm:"not null;default:0"`
	LastStatusCode int            `json:"last_status_code" gorm:"not null;default:0"`
	LastError      string         `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

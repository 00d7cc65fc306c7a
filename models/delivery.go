package models

import (
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusRetrying   DeliveryStatus = "retrying"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Delivery is one ledger row per (subscription, idempotency key) pair. The
// unique index on IdempotencyKey is what collapses re-dispatches of the same
// logical event into a single row.
type Delivery struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	SubscriptionID string         `json:"subscription_id" gorm:"index;not null"`
	EventType      string         `json:"event_type" gorm:"not null"`
	Payload        JSON           `json:"payload" gorm:"type:jsonb;not null"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"uniqueIndex;not null"`
	Status         DeliveryStatus `json:"status" gorm:"not null;default:'pending'"`
	Attempts       int            `json:"attempts" gorm:"default:0"`
	NextRetryAt    *time.Time     `json:"next_retry_at"`
	ResponseCode   *int           `json:"response_code"`
	ResponseBody   string         `json:"response_body"`
	DurationMs     int64          `json:"duration_ms"`
	ErrorMessage   string         `json:"error_message"`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Delivery) TableName() string {
	return "webhook_deliveries"
}

// Terminal reports whether the delivery reached a final state.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryStatusDelivered || d.Status == DeliveryStatusFailed
}

type DeliveryListResponse struct {
	Deliveries []*Delivery `json:"deliveries"`
	Total      int         `json:"total"`
}

type DeliveryResponse struct {
	Delivery *Delivery `json:"delivery"`
}

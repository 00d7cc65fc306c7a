package models

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// SuspensionThreshold is the number of consecutive failed deliveries after
// which a subscription is suspended until its owner re-enables it.
const SuspensionThreshold = 10

const (
	DefaultMaxRetries     = 5
	DefaultTimeoutSeconds = 30
)

type Subscription struct {
	ID             string             `json:"id" gorm:"primaryKey"`
	TenantID       string             `json:"tenant_id" gorm:"index;not null"`
	URL            string             `json:"url" gorm:"not null"`
	Secret         string             `json:"secret" gorm:"not null"`
	EventTypes     StringList         `json:"event_types" gorm:"type:jsonb;not null"`
	Enabled        bool               `json:"enabled" gorm:"default:true"`
	Status         SubscriptionStatus `json:"status" gorm:"not null;default:'active'"`
	FailureCount   int                `json:"failure_count" gorm:"default:0"`
	LastSuccessAt  *time.Time         `json:"last_success_at"`
	LastFailureAt  *time.Time         `json:"last_failure_at"`
	LastError      string             `json:"last_error"`
	MaxRetries     int                `json:"max_retries" gorm:"default:5"`
	TimeoutSeconds int                `json:"timeout_seconds" gorm:"default:30"`
	Headers        HeaderMap          `json:"headers" gorm:"type:jsonb"`
	CreatedAt      time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time          `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "webhook_subscriptions"
}

// Deliverable reports whether the subscription should receive new events.
func (s *Subscription) Deliverable() bool {
	return s.Enabled && s.Status == SubscriptionStatusActive
}

// Subscribed reports whether the subscription covers the event type. A "*"
// entry subscribes to everything.
func (s *Subscription) Subscribed(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// Timeout returns the per-attempt delivery timeout.
func (s *Subscription) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type CreateSubscriptionRequest struct {
	URL            string            `json:"url"`
	EventTypes     []string          `json:"event_types"`
	Secret         string            `json:"secret"`
	MaxRetries     *int              `json:"max_retries"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
	Headers        map[string]string `json:"headers"`
}

type UpdateSubscriptionRequest struct {
	URL            *string           `json:"url"`
	EventTypes     []string          `json:"event_types"`
	Enabled        *bool             `json:"enabled"`
	MaxRetries     *int              `json:"max_retries"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
	Headers        map[string]string `json:"headers"`
}

type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
}

type SubscriptionListResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Total         int             `json:"total"`
}

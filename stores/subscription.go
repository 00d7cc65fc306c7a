package stores

import (
	"context"
	"time"

	"github.com/applyflow/applyflow/models"
	"gorm.io/gorm"
)

type SubscriptionStore struct {
	BaseStore
}

func CreateSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{BaseStore: BaseStore{db: db}}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *models.Subscription) error {
	return s.GetDB(ctx).Create(sub).Error
}

// UpdateSettings persists the owner-managed fields only. Health counters
// are written solely by RecordSuccess and RecordFailure, so a management
// update racing a delivery outcome cannot roll them back; reactivate
// additionally clears the failure state for re-enabled subscriptions.
func (s *SubscriptionStore) UpdateSettings(ctx context.Context, sub *models.Subscription, reactivate bool) error {
	fields := map[string]interface{}{
		"url":             sub.URL,
		"event_types":     sub.EventTypes,
		"enabled":         sub.Enabled,
		"max_retries":     sub.MaxRetries,
		"timeout_seconds": sub.TimeoutSeconds,
		"headers":         sub.Headers,
	}
	if reactivate {
		fields["status"] = models.SubscriptionStatusActive
		fields["failure_count"] = 0
		fields["last_error"] = ""
	}
	return s.GetDB(ctx).Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(fields).Error
}

func (s *SubscriptionStore) Delete(ctx context.Context, tenantID, id string) error {
	result := s.GetDB(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.Subscription{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.GetDB(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SubscriptionStore) GetByIDAndTenant(ctx context.Context, tenantID, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.GetDB(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SubscriptionStore) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	query := s.GetDB(ctx).Where("tenant_id = ?", tenantID)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// FindActiveMatching returns the tenant's enabled, healthy subscriptions
// covering the event type. Event-type matching happens in memory because the
// subscribed set is a jsonb column.
func (s *SubscriptionStore) FindActiveMatching(ctx context.Context, tenantID, eventType string) ([]*models.Subscription, error) {
	var candidates []*models.Subscription
	err := s.GetDB(ctx).
		Where("tenant_id = ? AND enabled = ? AND status = ?",
			tenantID, true, models.SubscriptionStatusActive).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if sub.Subscribed(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// RecordSuccess resets the consecutive-failure counter after a delivered
// attempt. A single UPDATE keeps concurrent executors from losing counter
// updates.
func (s *SubscriptionStore) RecordSuccess(ctx context.Context, id string) error {
	now := time.Now()
	return s.GetDB(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":   0,
			"last_success_at": now,
			"last_error":      "",
		}).Error
}

// RecordFailure increments the consecutive-failure counter and suspends the
// subscription once it crosses the threshold. Returns whether this call
// tripped the suspension.
func (s *SubscriptionStore) RecordFailure(ctx context.Context, id, errMsg string) (bool, error) {
	now := time.Now()
	err := s.GetDB(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": now,
			"last_error":      errMsg,
		}).Error
	if err != nil {
		return false, err
	}

	result := s.GetDB(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND failure_count >= ?",
			id, models.SubscriptionStatusActive, models.SuspensionThreshold).
		Update("status", models.SubscriptionStatusSuspended)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

package stores

import (
	"context"
	"time"

	"github.com/applyflow/applyflow/models"
	"gorm.io/gorm"
)

// AttemptResult carries the observable outcome of one delivery attempt into
// the ledger.
type AttemptResult struct {
	ResponseCode *int
	ResponseBody string
	DurationMs   int64
	Error        string
}

type DeliveryStore struct {
	BaseStore
}

func CreateDeliveryStore(db *gorm.DB) *DeliveryStore {
	return &DeliveryStore{BaseStore: BaseStore{db: db}}
}

func (s *DeliveryStore) Create(ctx context.Context, d *models.Delivery) error {
	return s.GetDB(ctx).Create(d).Error
}

func (s *DeliveryStore) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	if err := s.GetDB(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeliveryStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Delivery, error) {
	var d models.Delivery
	if err := s.GetDB(ctx).Where("idempotency_key = ?", key).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Claim atomically moves a pending or retrying row to processing and bumps
// the attempt counter. Exactly one of any number of concurrent claimers
// succeeds; a false return means the row is already in flight or terminal.
func (s *DeliveryStore) Claim(ctx context.Context, id string) (bool, error) {
	result := s.GetDB(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status IN ?", id,
			[]string{string(models.DeliveryStatusPending), string(models.DeliveryStatusRetrying)}).
		Updates(map[string]interface{}{
			"status":   models.DeliveryStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// The Mark methods only transition rows out of processing: a delivered or
// failed row is terminal and a worker that did not claim the row must not
// be able to rewrite its outcome.

func (s *DeliveryStore) MarkDelivered(ctx context.Context, id string, res AttemptResult) error {
	return s.GetDB(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusDelivered,
			"response_code": res.ResponseCode,
			"response_body": res.ResponseBody,
			"duration_ms":   res.DurationMs,
			"error_message": "",
			"next_retry_at": nil,
		}).Error
}

func (s *DeliveryStore) MarkRetrying(ctx context.Context, id string, res AttemptResult, nextRetryAt time.Time) error {
	return s.GetDB(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusRetrying,
			"response_code": res.ResponseCode,
			"response_body": res.ResponseBody,
			"duration_ms":   res.DurationMs,
			"error_message": res.Error,
			"next_retry_at": nextRetryAt,
		}).Error
}

func (s *DeliveryStore) MarkFailed(ctx context.Context, id string, res AttemptResult) error {
	return s.GetDB(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusFailed,
			"response_code": res.ResponseCode,
			"response_body": res.ResponseBody,
			"duration_ms":   res.DurationMs,
			"error_message": res.Error,
			"next_retry_at": nil,
		}).Error
}

// FailOut retires a retrying row without running an attempt. The status
// condition makes it lose against a concurrent claimer: a row that was
// delivered or picked up between the due query and this write is left
// alone, and a false return reports that.
func (s *DeliveryStore) FailOut(ctx context.Context, id, reason string) (bool, error) {
	result := s.GetDB(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusRetrying).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusFailed,
			"error_message": reason,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DueForRetry returns retrying rows whose backoff has elapsed, oldest first.
func (s *DeliveryStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error) {
	var due []*models.Delivery
	query := s.GetDB(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			models.DeliveryStatusRetrying, now).
		Order("next_retry_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&due).Error; err != nil {
		return nil, err
	}
	return due, nil
}

func (s *DeliveryStore) ListBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.Delivery, error) {
	var deliveries []*models.Delivery
	query := s.GetDB(ctx).Where("subscription_id = ?", subscriptionID)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

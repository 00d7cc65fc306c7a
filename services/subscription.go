package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/signature"
	"github.com/applyflow/applyflow/stores"
	"github.com/applyflow/applyflow/utils"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const testEventType = "webhook.test"

// SubscriptionService owns the management surface: registration, updates,
// test deliveries, and delivery history.
type SubscriptionService struct {
	subscriptions *stores.SubscriptionStore
	deliveries    *stores.DeliveryStore
	executor      *DeliveryExecutor
	log           zerolog.Logger
}

func CreateSubscriptionService(subscriptions *stores.SubscriptionStore, deliveries *stores.DeliveryStore, executor *DeliveryExecutor, log zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		executor:      executor,
		log:           log,
	}
}

func (s *SubscriptionService) Create(ctx context.Context, tenantID string, req *models.CreateSubscriptionRequest) (*models.Subscription, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, utils.NewAPIErrorWithDetails(400, "Invalid subscription", err.Error())
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = signature.GenerateSecret()
		if err != nil {
			return nil, err
		}
	}

	sub := &models.Subscription{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		URL:            req.URL,
		Secret:         secret,
		EventTypes:     req.EventTypes,
		Enabled:        true,
		Status:         models.SubscriptionStatusActive,
		MaxRetries:     models.DefaultMaxRetries,
		TimeoutSeconds: models.DefaultTimeoutSeconds,
		Headers:        req.Headers,
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.log.Info().
		Str("subscription_id", sub.ID).
		Str("tenant_id", tenantID).
		Str("url", sub.URL).
		Msg("webhook subscription created")
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, tenantID, id string) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByIDAndTenant(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Subscription, error) {
	return s.subscriptions.ListByTenant(ctx, tenantID, limit, offset)
}

// Update merges the request into the subscription. Re-enabling a disabled or
// suspended subscription resets its failure counter and health.
func (s *SubscriptionService) Update(ctx context.Context, tenantID, id string, req *models.UpdateSubscriptionRequest) (*models.Subscription, error) {
	sub, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if req.URL != nil {
		if err := validateTargetURL(*req.URL); err != nil {
			return nil, utils.NewAPIErrorWithDetails(400, "Invalid subscription", err.Error())
		}
		sub.URL = *req.URL
	}
	if len(req.EventTypes) > 0 {
		sub.EventTypes = req.EventTypes
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.Headers != nil {
		sub.Headers = req.Headers
	}

	reactivate := false
	if req.Enabled != nil {
		if *req.Enabled && (!sub.Enabled || sub.Status == models.SubscriptionStatusSuspended) {
			reactivate = true
			sub.Status = models.SubscriptionStatusActive
			sub.FailureCount = 0
			sub.LastError = ""
		}
		sub.Enabled = *req.Enabled
	}

	if err := s.subscriptions.UpdateSettings(ctx, sub, reactivate); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionService) Delete(ctx context.Context, tenantID, id string) error {
	err := s.subscriptions.Delete(ctx, tenantID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrSubscriptionNotFound
	}
	return err
}

func (s *SubscriptionService) Enable(ctx context.Context, tenantID, id string) (*models.Subscription, error) {
	enabled := true
	return s.Update(ctx, tenantID, id, &models.UpdateSubscriptionRequest{Enabled: &enabled})
}

func (s *SubscriptionService) Disable(ctx context.Context, tenantID, id string) (*models.Subscription, error) {
	enabled := false
	return s.Update(ctx, tenantID, id, &models.UpdateSubscriptionRequest{Enabled: &enabled})
}

// SendTest delivers a synthetic event synchronously and returns the ledger
// row. The nonce keeps repeated test sends from collapsing into one
// idempotent delivery.
func (s *SubscriptionService) SendTest(ctx context.Context, tenantID, id string) (*models.Delivery, error) {
	sub, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		Type:     testEventType,
		TenantID: tenantID,
		Data: models.JSON{
			"message": "test delivery",
			"nonce":   uuid.NewString(),
		},
		Timestamp: time.Now(),
	}

	deliverErr := s.executor.Deliver(ctx, sub, event)

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := s.deliveries.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if deliverErr != nil {
			return nil, deliverErr
		}
		return nil, err
	}
	return delivery, nil
}

func (s *SubscriptionService) ListDeliveries(ctx context.Context, tenantID, id string, limit, offset int) ([]*models.Delivery, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListBySubscription(ctx, id, limit, offset)
}

func validateCreateRequest(req *models.CreateSubscriptionRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.URL, validation.Required),
		validation.Field(&req.EventTypes, validation.Required, validation.Length(1, 0)),
		validation.Field(&req.MaxRetries, validation.Min(1), validation.Max(20)),
		validation.Field(&req.TimeoutSeconds, validation.Min(1), validation.Max(120)),
	)
	if err != nil {
		return err
	}
	return validateTargetURL(req.URL)
}

func validateTargetURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target url is not valid: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("target url must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("target url must include a host")
	}
	return nil
}

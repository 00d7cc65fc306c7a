package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/signature"
	"github.com/applyflow/applyflow/stores"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	headerDeliveryID = "X-Webhook-ID"
	headerTimestamp  = "X-Webhook-Timestamp"
	headerSignature  = "X-Webhook-Signature"

	retryBaseDelay = 60 * time.Second
	retryMaxDelay  = 3600 * time.Second

	responseBodyLimit = 1024
)

// DeliveryExecutor performs single delivery attempts: claim the ledger row,
// build and sign the request, send, classify, and persist the outcome.
type DeliveryExecutor struct {
	deliveries    *stores.DeliveryStore
	subscriptions *stores.SubscriptionStore
	client        *http.Client
	log           zerolog.Logger
	now           func() time.Time
}

func CreateDeliveryExecutor(deliveries *stores.DeliveryStore, subscriptions *stores.SubscriptionStore, log zerolog.Logger) *DeliveryExecutor {
	return &DeliveryExecutor{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		client:        &http.Client{},
		log:           log,
		now:           time.Now,
	}
}

// Deliver resolves the ledger row for (subscription, event) and runs one
// attempt. Re-dispatching an event that already reached the subscriber is a
// no-op.
func (e *DeliveryExecutor) Deliver(ctx context.Context, sub *models.Subscription, event *models.Event) error {
	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)

	delivery, err := e.deliveries.GetByIdempotencyKey(ctx, key)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up delivery: %w", err)
	}

	if delivery == nil {
		delivery = &models.Delivery{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      event.Type,
			Payload:        event.Data,
			IdempotencyKey: key,
			Status:         models.DeliveryStatusPending,
		}
		if createErr := e.deliveries.Create(ctx, delivery); createErr != nil {
			// A concurrent dispatch of the same event won the unique-index
			// race; fall back to its row.
			existing, lookupErr := e.deliveries.GetByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return fmt.Errorf("failed to create delivery: %w", createErr)
			}
			delivery = existing
		}
	}

	if delivery.Status == models.DeliveryStatusDelivered {
		return nil
	}
	return e.Attempt(ctx, sub, delivery)
}

// Attempt runs one HTTP delivery attempt against an existing ledger row. The
// claim is the only concurrency-control point: if it does not land, another
// worker holds the row.
func (e *DeliveryExecutor) Attempt(ctx context.Context, sub *models.Subscription, delivery *models.Delivery) error {
	claimed, err := e.deliveries.Claim(ctx, delivery.ID)
	if err != nil {
		return fmt.Errorf("failed to claim delivery %s: %w", delivery.ID, err)
	}
	if !claimed {
		return nil
	}
	delivery.Attempts++

	body, err := json.Marshal(models.Envelope{
		ID:         uuid.NewString(),
		Type:       delivery.EventType,
		Created:    e.now().UTC().Format(time.RFC3339),
		Data:       delivery.Payload,
		APIVersion: models.APIVersion,
	})
	if err != nil {
		res := stores.AttemptResult{Error: fmt.Sprintf("failed to encode payload: %v", err)}
		if markErr := e.deliveries.MarkFailed(ctx, delivery.ID, res); markErr != nil {
			return markErr
		}
		return err
	}

	result, statusCode, sendErr := e.send(ctx, sub, delivery.ID, body)

	if sendErr == nil && statusCode >= 200 && statusCode < 300 {
		// Ledger outcome and subscription health move together.
		err := e.deliveries.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := e.deliveries.MarkDelivered(txCtx, delivery.ID, result); err != nil {
				return err
			}
			return e.subscriptions.RecordSuccess(txCtx, sub.ID)
		})
		if err != nil {
			return fmt.Errorf("failed to record delivery %s: %w", delivery.ID, err)
		}
		e.log.Info().
			Str("delivery_id", delivery.ID).
			Str("subscription_id", sub.ID).
			Str("event_type", delivery.EventType).
			Int("attempt", delivery.Attempts).
			Msg("webhook delivered")
		return nil
	}

	if sendErr != nil {
		result.Error = sendErr.Error()
	} else {
		result.Error = fmt.Sprintf("endpoint returned HTTP %d", statusCode)
	}

	var suspended bool
	txErr := e.deliveries.WithTransaction(ctx, func(txCtx context.Context) error {
		if delivery.Attempts < sub.MaxRetries {
			nextRetryAt := e.now().Add(backoffDelay(delivery.Attempts))
			if err := e.deliveries.MarkRetrying(txCtx, delivery.ID, result, nextRetryAt); err != nil {
				return err
			}
		} else {
			if err := e.deliveries.MarkFailed(txCtx, delivery.ID, result); err != nil {
				return err
			}
		}
		var err error
		suspended, err = e.subscriptions.RecordFailure(txCtx, sub.ID, result.Error)
		return err
	})
	if txErr != nil {
		return fmt.Errorf("failed to record delivery %s: %w", delivery.ID, txErr)
	}
	if suspended {
		e.log.Warn().
			Str("subscription_id", sub.ID).
			Str("url", sub.URL).
			Msg("subscription suspended after consecutive failures")
	}

	e.log.Warn().
		Str("delivery_id", delivery.ID).
		Str("subscription_id", sub.ID).
		Int("attempt", delivery.Attempts).
		Str("error", result.Error).
		Msg("webhook delivery attempt failed")

	return fmt.Errorf("delivery %s attempt %d failed: %s", delivery.ID, delivery.Attempts, result.Error)
}

// send performs the signed POST. Transport failures return a non-nil error;
// protocol outcomes return the status code for the caller to classify.
func (e *DeliveryExecutor) send(ctx context.Context, sub *models.Subscription, deliveryID string, body []byte) (stores.AttemptResult, int, error) {
	timestamp := e.now().Unix()
	sig := signature.Sign(sub.Secret, timestamp, body)

	reqCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return stores.AttemptResult{}, 0, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerDeliveryID, deliveryID)
	req.Header.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(headerSignature, signature.Header(timestamp, sig))
	for key, value := range sub.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return stores.AttemptResult{DurationMs: elapsed}, 0, err
	}
	defer resp.Body.Close()

	truncated, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	code := resp.StatusCode

	return stores.AttemptResult{
		ResponseCode: &code,
		ResponseBody: string(truncated),
		DurationMs:   elapsed,
	}, code, nil
}

// backoffDelay doubles per attempt from the base delay, capped at an hour:
// 60s, 120s, 240s, 480s, ...
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(retryMaxDelay) {
		delay = float64(retryMaxDelay)
	}
	return time.Duration(delay)
}

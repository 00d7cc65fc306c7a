package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/stores"
	"github.com/rs/zerolog"
)

// EventDispatcher fans a domain event out to every matching subscription.
type EventDispatcher struct {
	subscriptions *stores.SubscriptionStore
	executor      *DeliveryExecutor
	log           zerolog.Logger
}

func CreateEventDispatcher(subscriptions *stores.SubscriptionStore, executor *DeliveryExecutor, log zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{
		subscriptions: subscriptions,
		executor:      executor,
		log:           log,
	}
}

// Dispatch delivers the event to all matching active subscriptions
// concurrently and joins before returning. A subscriber failing does not
// block or fail delivery to the others; an event with no matching
// subscriptions is a no-op.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *models.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	matching, err := d.subscriptions.FindActiveMatching(ctx, event.TenantID, event.Type)
	if err != nil {
		return fmt.Errorf("failed to find subscriptions: %w", err)
	}
	if len(matching) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range matching {
		wg.Add(1)
		go func(sub *models.Subscription) {
			defer wg.Done()
			if err := d.executor.Deliver(ctx, sub, event); err != nil {
				d.log.Warn().
					Err(err).
					Str("subscription_id", sub.ID).
					Str("event_type", event.Type).
					Msg("delivery failed, left to retry scheduler")
			}
		}(sub)
	}
	wg.Wait()

	return nil
}

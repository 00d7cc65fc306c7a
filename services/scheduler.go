package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/stores"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	DefaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 100
	defaultSweepWorkers   = 8
)

// RetryScheduler periodically resubmits due retrying deliveries to the
// executor.
type RetryScheduler struct {
	deliveries    *stores.DeliveryStore
	subscriptions *stores.SubscriptionStore
	executor      *DeliveryExecutor
	interval      time.Duration
	batchSize     int
	workers       int
	sweeping      atomic.Bool
	log           zerolog.Logger
	now           func() time.Time
}

func CreateRetryScheduler(deliveries *stores.DeliveryStore, subscriptions *stores.SubscriptionStore, executor *DeliveryExecutor, interval time.Duration, log zerolog.Logger) *RetryScheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &RetryScheduler{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		executor:      executor,
		interval:      interval,
		batchSize:     defaultSweepBatchSize,
		workers:       defaultSweepWorkers,
		log:           log,
		now:           time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *RetryScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info().Dur("interval", s.interval).Msg("retry scheduler started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("retry scheduler stopped")
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.log.Error().Err(err).Msg("retry sweep failed")
				}
			}
		}
	}()
}

// Sweep processes one batch of due deliveries with bounded concurrency. A
// tick that fires while the previous sweep is still running is skipped; the
// row-level claim in the executor makes overlapping sweeps safe anyway.
func (s *RetryScheduler) Sweep(ctx context.Context) error {
	if !s.sweeping.CompareAndSwap(false, true) {
		return nil
	}
	defer s.sweeping.Store(false)

	due, err := s.deliveries.DueForRetry(ctx, s.now(), s.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.log.Debug().Int("due", len(due)).Msg("retry sweep picked up deliveries")

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, delivery := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(delivery *models.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			s.retry(ctx, delivery)
		}(delivery)
	}
	wg.Wait()

	return nil
}

// retry re-runs one delivery. Rows whose subscription is gone or no longer
// deliverable are failed out so they stop matching the due query.
func (s *RetryScheduler) retry(ctx context.Context, delivery *models.Delivery) {
	sub, err := s.subscriptions.GetByID(ctx, delivery.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.failOut(ctx, delivery, "subscription was deleted")
			return
		}
		s.log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("failed to load subscription for retry")
		return
	}

	if !sub.Deliverable() {
		s.failOut(ctx, delivery, "subscription is suspended or disabled")
		return
	}
	if delivery.Attempts >= sub.MaxRetries {
		s.failOut(ctx, delivery, "retry attempts exhausted")
		return
	}

	// Errors are already recorded on the ledger row; nothing to do here.
	_ = s.executor.Attempt(ctx, sub, delivery)
}

func (s *RetryScheduler) failOut(ctx context.Context, delivery *models.Delivery, reason string) {
	retired, err := s.deliveries.FailOut(ctx, delivery.ID, reason)
	if err != nil {
		s.log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("failed to mark delivery failed")
		return
	}
	if !retired {
		// The row left retrying since the due query; its current owner
		// decides the outcome.
		return
	}
	s.log.Info().
		Str("delivery_id", delivery.ID).
		Str("subscription_id", delivery.SubscriptionID).
		Str("reason", reason).
		Msg("delivery removed from retry rotation")
}

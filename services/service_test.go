package services

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/stores"
)

type testEnv struct {
	subscriptions *stores.SubscriptionStore
	deliveries    *stores.DeliveryStore
	executor      *DeliveryExecutor
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.Delivery{}))

	// sqlite allows one writer; a single pooled connection keeps
	// concurrent test traffic serialized instead of erroring.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	subscriptions := stores.CreateSubscriptionStore(db)
	deliveries := stores.CreateDeliveryStore(db)
	executor := CreateDeliveryExecutor(deliveries, subscriptions, zerolog.Nop())

	return &testEnv{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		executor:      executor,
	}
}

func newTestSubscription(tenantID, targetURL string, eventTypes ...string) *models.Subscription {
	return &models.Subscription{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		URL:            targetURL,
		Secret:         "whsec_0000000000000000000000000000000000000000000000000000000000000000",
		EventTypes:     eventTypes,
		Enabled:        true,
		Status:         models.SubscriptionStatusActive,
		MaxRetries:     models.DefaultMaxRetries,
		TimeoutSeconds: models.DefaultTimeoutSeconds,
	}
}

func newTestEvent(tenantID string) *models.Event {
	return &models.Event{
		Type:     "application.created",
		TenantID: tenantID,
		Data:     models.JSON{"application_id": "app_" + uuid.NewString()},
	}
}

package stores

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/applyflow/applyflow/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.Delivery{}))
	return db
}

func newTestSubscription(tenantID string, eventTypes ...string) *models.Subscription {
	return &models.Subscription{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		URL:            "https://example.com/hooks",
		Secret:         "whsec_test",
		EventTypes:     models.StringList(eventTypes),
		Enabled:        true,
		Status:         models.SubscriptionStatusActive,
		MaxRetries:     models.DefaultMaxRetries,
		TimeoutSeconds: models.DefaultTimeoutSeconds,
	}
}

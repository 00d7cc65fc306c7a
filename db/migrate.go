package db

import (
	"fmt"

	"github.com/applyflow/applyflow/models"
	"gorm.io/gorm"
)

// RunMigrations brings the schema up to date. The unique index on
// webhook_deliveries.idempotency_key is part of the delivery contract, not
// an optimization.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Subscription{},
		&models.Delivery{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

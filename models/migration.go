package models

import "gorm.io/gorm"

// Migrate creates or updates the schema for all entities.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tenant{},
		&Partner{},
		&PartnerReading{},
		&ReconciliationRun{},
		&AuditLog{},
	)
}

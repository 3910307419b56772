package app

import (
	"gorm.io/gorm"

	"winetours/internal/domain/booking"
	"winetours/internal/domain/hoursync"
	"winetours/internal/domain/invoice"
	"winetours/internal/domain/proposal"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/sequence"
)

// Models lists every table the service owns, in dependency order.
func Models() []any {
	models := []any{&sequence.Counter{}}
	models = append(models, rates.Models()...)
	models = append(models, proposal.Models()...)
	models = append(models, booking.Models()...)
	models = append(models, invoice.Models()...)
	models = append(models, hoursync.Models()...)
	return models
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

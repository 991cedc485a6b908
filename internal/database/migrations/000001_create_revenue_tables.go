package migrations

import (
	"github.com/creatorfund/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createRevenueTablesMigration() *gormigrate.Migration {
	tables := []interface{}{
		&models.Referral{},
		&models.Tip{},
		&models.Subscription{},
		&models.AffiliateEarning{},
		&models.ShopSale{},
		&models.BrandSpend{},
	}

	return &gormigrate.Migration{
		ID: "000001_create_revenue_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.Migrator().CreateTable(tables...)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(tables...)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createRevenueTablesMigration())
}

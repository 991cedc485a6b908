package migrations

import (
	"github.com/creatorfund/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createLedgerTablesMigration() *gormigrate.Migration {
	tables := []interface{}{
		&models.Balance{},
		&models.BonusRule{},
		&models.BonusAward{},
	}

	return &gormigrate.Migration{
		ID: "000002_create_ledger_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.Migrator().CreateTable(tables...)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(tables...)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createLedgerTablesMigration())
}

package migrations

import (
	"github.com/creatorfund/backend/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createPayoutTablesMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_payout_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().CreateTable(&models.PayoutRequest{}, &models.PayoutTransaction{}); err != nil {
				return err
			}

			// At most one pending or approved request per user. Postgres and SQLite
			// both accept partial indexes.
			return tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_payout_requests_one_in_flight
				ON payout_requests (user_id)
				WHERE status IN ('pending', 'approved') AND deleted_at IS NULL
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.PayoutTransaction{}, &models.PayoutRequest{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createPayoutTablesMigration())
}

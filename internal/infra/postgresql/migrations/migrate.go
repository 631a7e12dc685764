package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"provengine/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_batches",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_requester_created ON batches (requester, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchModel{})
			},
		},
		{
			ID: "000002_create_units",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.UnitModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_units_batch_id ON units (batch_id)`,
					`CREATE INDEX IF NOT EXISTS idx_units_stage ON units (stage)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.UnitModel{})
			},
		},
		{
			ID: "000003_create_operation_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OperationAttemptModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_unit_id ON operation_attempts (unit_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OperationAttemptModel{})
			},
		},
	})

	return m.Migrate()
}

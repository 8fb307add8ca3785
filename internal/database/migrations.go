package database

import (
	"log/slog"

	"netguard-backend/internal/database/versions/migration_0"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:       "0",
			Migrate:  migration_0.Migration,
			Rollback: migration_0.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run when no previous migration is recorded: create the latest schema
		// directly instead of replaying every migration.
		slog.Info("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&Invocation{}, &TrainingJob{})
	})

	return migrator
}

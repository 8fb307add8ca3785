package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the database at uri and migrates it to the latest schema.
// postgres:// and postgresql:// uris use postgres, anything else is treated as
// a sqlite path.
func NewDatabase(uri string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		dialector = postgres.Open(uri)
	} else {
		if dir := filepath.Dir(uri); !strings.HasPrefix(uri, "file:") && dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(uri)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	slog.Info("database ready", "dialect", db.Dialector.Name())

	return db, nil
}

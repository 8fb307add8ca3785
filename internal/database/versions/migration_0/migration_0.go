package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Invocation struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Kind      string `gorm:"size:20;not null;index"`
	Operation string `gorm:"size:20;not null"`
	Status    string `gorm:"size:20;not null"`
	ErrorCode sql.NullString

	SampleCount int
	Epochs      int

	StartTime  time.Time `gorm:"index"`
	DurationMs int64
}

type TrainingJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Kind   string `gorm:"size:20;not null"`
	Status string `gorm:"size:20;not null;index"`

	SampleCount int
	Epochs      int

	ErrorCode    sql.NullString
	ErrorMessage sql.NullString

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Invocation{}, &TrainingJob{}); err != nil {
		return fmt.Errorf("error creating initial tables: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrainingJob{}, &Invocation{}); err != nil {
		return fmt.Errorf("error dropping initial tables: %w", err)
	}
	return nil
}

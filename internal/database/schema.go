package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	InvocationSucceeded string = "SUCCEEDED"
	InvocationFailed    string = "FAILED"
)

// Invocation is one finished predict or train call against a runner.
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

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// TrainingJob tracks an asynchronous training request. Its samples and result
// live in object storage under the job id.
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

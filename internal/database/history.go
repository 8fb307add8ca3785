package database

import (
	"context"
	"database/sql"
	"fmt"

	"netguard-backend/internal/bridge"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvocationRecorder persists finished invocations as Invocation rows.
type InvocationRecorder struct {
	db *gorm.DB
}

func NewInvocationRecorder(db *gorm.DB) *InvocationRecorder {
	return &InvocationRecorder{db: db}
}

func (r *InvocationRecorder) RecordInvocation(ctx context.Context, rec bridge.InvocationRecord) error {
	invocation := Invocation{
		Id:          uuid.New(),
		Kind:        string(rec.Kind),
		Operation:   string(rec.Operation),
		Status:      InvocationSucceeded,
		SampleCount: rec.SampleCount,
		Epochs:      rec.Epochs,
		StartTime:   rec.Started.UTC(),
		DurationMs:  rec.Duration.Milliseconds(),
	}
	if !rec.Succeeded() {
		invocation.Status = InvocationFailed
		invocation.ErrorCode = sql.NullString{String: string(rec.Code), Valid: true}
	}

	if err := r.db.WithContext(ctx).Create(&invocation).Error; err != nil {
		return fmt.Errorf("error saving invocation: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"netguard-backend/internal/bridge"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultInvocationLimit = 50
	MaxInvocationLimit     = 500
)

type InvocationFilter struct {
	Kind      string
	Operation string
	Limit     int
}

// ListInvocations returns the newest invocations first.
func ListInvocations(ctx context.Context, txn *gorm.DB, filter InvocationFilter) ([]Invocation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultInvocationLimit
	}
	limit = min(limit, MaxInvocationLimit)

	query := txn.WithContext(ctx).Order("start_time DESC").Limit(limit)
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Operation != "" {
		query = query.Where("operation = ?", filter.Operation)
	}

	var invocations []Invocation
	if err := query.Find(&invocations).Error; err != nil {
		slog.Error("error listing invocations", "error", err)
		return nil, err
	}
	return invocations, nil
}

// LastInvocation returns the most recent invocation of kind, or nil if there is
// none.
func LastInvocation(ctx context.Context, txn *gorm.DB, kind string) (*Invocation, error) {
	var invocation Invocation
	err := txn.WithContext(ctx).Where("kind = ?", kind).Order("start_time DESC").First(&invocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invocation, nil
}

// LastTrained returns when kind last finished a successful training run.
func LastTrained(ctx context.Context, txn *gorm.DB, kind string) (sql.NullTime, error) {
	var invocation Invocation
	err := txn.WithContext(ctx).
		Where("kind = ? AND operation = ? AND status = ?", kind, string(bridge.Train), InvocationSucceeded).
		Order("start_time DESC").
		First(&invocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sql.NullTime{}, nil
		}
		return sql.NullTime{}, err
	}

	finished := invocation.StartTime.Add(time.Duration(invocation.DurationMs) * time.Millisecond)
	return sql.NullTime{Time: finished, Valid: true}, nil
}

func GetTrainingJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID) (TrainingJob, error) {
	var job TrainingJob
	if err := txn.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		return TrainingJob{}, err
	}
	return job, nil
}

func UpdateTrainingJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating training job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func MarkTrainingJobFailed(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, code, message string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"error_code":      sql.NullString{String: code, Valid: code != ""},
		"error_message":   sql.NullString{String: message, Valid: message != ""},
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking training job failed", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func ListTrainingJobsWithStatus(ctx context.Context, txn *gorm.DB, status string) ([]TrainingJob, error) {
	var jobs []TrainingJob
	if err := txn.WithContext(ctx).Where("status = ?", status).Order("creation_time ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

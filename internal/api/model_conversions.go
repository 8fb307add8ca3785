package api

import (
	"database/sql"
	"time"

	"netguard-backend/internal/database"
	"netguard-backend/pkg/api"
)

func convertInvocation(inv database.Invocation) api.Invocation {
	return api.Invocation{
		Id:          inv.Id,
		Kind:        inv.Kind,
		Operation:   inv.Operation,
		Status:      inv.Status,
		ErrorCode:   inv.ErrorCode.String,
		SampleCount: inv.SampleCount,
		Epochs:      inv.Epochs,
		StartTime:   inv.StartTime,
		DurationMs:  inv.DurationMs,
	}
}

func convertTrainingJob(job database.TrainingJob) api.TrainingJob {
	return api.TrainingJob{
		Id:             job.Id,
		Kind:           job.Kind,
		Status:         job.Status,
		SampleCount:    job.SampleCount,
		Epochs:         job.Epochs,
		ErrorCode:      job.ErrorCode.String,
		ErrorMessage:   job.ErrorMessage.String,
		CreationTime:   job.CreationTime,
		StartTime:      nullTime(job.StartTime),
		CompletionTime: nullTime(job.CompletionTime),
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

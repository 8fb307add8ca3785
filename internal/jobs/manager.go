package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/database"
	"netguard-backend/internal/messaging"
	"netguard-backend/internal/storage"
	"netguard-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("training job not found")

func RequestKey(jobId uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/request.json", jobId)
}

func ResultKey(jobId uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/result.json", jobId)
}

// Manager accepts asynchronous training jobs and reports on them. The samples
// are written to object storage and only the job id travels on the queue.
type Manager struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	bucket    string
}

func NewManager(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, bucket string) *Manager {
	return &Manager{db: db, storage: storage, publisher: publisher, bucket: bucket}
}

// Submit validates req like a synchronous training call, stores it and queues
// the job. Validation failures are *bridge.Error values with code InvalidInput.
func (m *Manager) Submit(ctx context.Context, kind bridge.ModelKind, req api.TrainRequest) (database.TrainingJob, error) {
	epochs, err := bridge.ValidateTrain(kind, req.Data, req.Labels, req.Epochs)
	if err != nil {
		return database.TrainingJob{}, err
	}

	stored := api.TrainRequest{Data: req.Data, Epochs: &epochs}
	if kind == bridge.Cnn {
		stored.Labels = req.Labels
	}

	job := database.TrainingJob{
		Id:           uuid.New(),
		Kind:         string(kind),
		Status:       database.JobQueued,
		SampleCount:  len(req.Data),
		Epochs:       epochs,
		CreationTime: time.Now().UTC(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return database.TrainingJob{}, fmt.Errorf("error encoding training request: %w", err)
	}
	if err := m.storage.PutObject(ctx, m.bucket, RequestKey(job.Id), bytes.NewReader(data)); err != nil {
		return database.TrainingJob{}, fmt.Errorf("error storing training request: %w", err)
	}

	if err := m.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating training job", "job_id", job.Id, "error", err)
		if err := m.storage.DeleteObject(context.WithoutCancel(ctx), m.bucket, RequestKey(job.Id)); err != nil {
			slog.Error("error deleting request of uncreated job", "job_id", job.Id, "error", err)
		}
		return database.TrainingJob{}, fmt.Errorf("error creating training job: %w", err)
	}

	if err := m.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing training task", "job_id", job.Id, "error", err)
		if err := database.MarkTrainingJobFailed(context.WithoutCancel(ctx), m.db, job.Id, "", "training job could not be queued"); err != nil {
			slog.Error("error marking unqueued job failed", "job_id", job.Id, "error", err)
		}
		return database.TrainingJob{}, fmt.Errorf("error queueing training job: %w", err)
	}

	slog.Info("submitted training job", "job_id", job.Id, "kind", kind, "samples", job.SampleCount, "epochs", epochs)

	return job, nil
}

// Get returns the job and, once it has completed, the runner's result payload.
func (m *Manager) Get(ctx context.Context, jobId uuid.UUID) (database.TrainingJob, json.RawMessage, error) {
	job, err := database.GetTrainingJob(ctx, m.db, jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.TrainingJob{}, nil, ErrJobNotFound
		}
		return database.TrainingJob{}, nil, fmt.Errorf("error retrieving training job: %w", err)
	}

	if job.Status != database.JobCompleted {
		return job, nil, nil
	}

	result, err := m.storage.GetObject(ctx, m.bucket, ResultKey(job.Id))
	if err != nil {
		return database.TrainingJob{}, nil, fmt.Errorf("error retrieving training job result: %w", err)
	}
	return job, json.RawMessage(result), nil
}

// RequeuePending publishes every job left queued or running by a previous
// process. It is only meaningful for the in-memory queue, which loses its
// messages on restart.
func (m *Manager) RequeuePending(ctx context.Context) error {
	running, err := database.ListTrainingJobsWithStatus(ctx, m.db, database.JobRunning)
	if err != nil {
		return fmt.Errorf("error listing running jobs: %w", err)
	}
	for _, job := range running {
		if err := database.UpdateTrainingJobStatus(ctx, m.db, job.Id, database.JobQueued); err != nil {
			return err
		}
	}

	queued, err := database.ListTrainingJobsWithStatus(ctx, m.db, database.JobQueued)
	if err != nil {
		return fmt.Errorf("error listing queued jobs: %w", err)
	}
	for _, job := range queued {
		if err := m.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{JobId: job.Id}); err != nil {
			return fmt.Errorf("error requeueing job %s: %w", job.Id, err)
		}
	}

	if len(queued) > 0 {
		slog.Info("requeued pending training jobs", "count", len(queued))
	}
	return nil
}

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/database"
	"netguard-backend/internal/messaging"
	"netguard-backend/internal/storage"
	"netguard-backend/internal/utils"
	"netguard-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trainer runs one training invocation. *bridge.Service implements it.
type Trainer interface {
	InvokeTrain(ctx context.Context, kind bridge.ModelKind, samples [][]float64, labels []int64, epochs *int) (json.RawMessage, error)
}

// errPermanent marks tasks that can never succeed and are rejected rather than
// nacked.
var errPermanent = errors.New("permanent task failure")

// Processor consumes training tasks. Jobs of different kinds run concurrently,
// jobs of the same kind run one at a time.
type Processor struct {
	db       *gorm.DB
	storage  storage.Provider
	receiver messaging.Receiver
	trainer  Trainer
	bucket   string
	workers  int

	kindLocks *utils.MutexMap[bridge.ModelKind]
	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewProcessor(db *gorm.DB, storage storage.Provider, receiver messaging.Receiver, trainer Trainer, bucket string, workers int) *Processor {
	return &Processor{
		db:        db,
		storage:   storage,
		receiver:  receiver,
		trainer:   trainer,
		bucket:    bucket,
		workers:   max(workers, 1),
		kindLocks: utils.NewMutexMap[bridge.ModelKind](len(bridge.Kinds)),
		stop:      make(chan struct{}),
	}
}

// Start consumes tasks until Stop is called or the receiver runs dry. Jobs
// that are already running finish before Start returns.
func (proc *Processor) Start() {
	slog.Info("starting training job processor", "workers", proc.workers)

	proc.wg.Add(proc.workers)
	for i := 0; i < proc.workers; i++ {
		go func() {
			defer proc.wg.Done()
			proc.work()
		}()
	}
	proc.wg.Wait()
}

func (proc *Processor) work() {
	tasks := proc.receiver.Tasks()
	for {
		select {
		case <-proc.stop:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			proc.ProcessTask(task)
		}
	}
}

func (proc *Processor) Stop() {
	proc.stopOnce.Do(func() {
		slog.Info("stopping training job processor")
		close(proc.stop)
		proc.receiver.Close()
	})
}

func (proc *Processor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.TrainingQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling training task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	switch {
	case errors.Is(err, errPermanent):
		slog.Error("discarding training task", "queue", task.Type(), "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	case err != nil:
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	default:
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *Processor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	job, err := database.GetTrainingJob(ctx, proc.db, payload.JobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: job %s does not exist", errPermanent, payload.JobId)
		}
		return fmt.Errorf("error retrieving training job: %w", err)
	}

	if job.Status != database.JobQueued {
		slog.Info("skipping training job that is no longer queued", "job_id", job.Id, "status", job.Status)
		return nil
	}

	kind, err := bridge.ParseModelKind(job.Kind)
	if err != nil {
		proc.fail(ctx, job.Id, bridge.InvalidInput, err.Error())
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	if err := proc.kindLocks.Lock(kind); err != nil {
		return fmt.Errorf("error locking model kind %s: %w", kind, err)
	}
	defer func() {
		if err := proc.kindLocks.Unlock(kind); err != nil {
			slog.Error("error unlocking model kind", "kind", kind, "error", err)
		}
	}()

	if err := database.UpdateTrainingJobStatus(ctx, proc.db, job.Id, database.JobRunning); err != nil {
		return fmt.Errorf("error updating training job status: %w", err)
	}

	req, err := proc.loadRequest(ctx, job.Id)
	if err != nil {
		proc.fail(ctx, job.Id, "", "training request could not be loaded")
		return err
	}

	slog.Info("running training job", "job_id", job.Id, "kind", kind, "samples", len(req.Data))

	result, err := proc.trainer.InvokeTrain(ctx, kind, req.Data, req.Labels, req.Epochs)
	if err != nil {
		proc.fail(ctx, job.Id, bridge.CodeOf(err), err.Error())
		return fmt.Errorf("training job %s failed: %w", job.Id, err)
	}

	if err := proc.storage.PutObject(ctx, proc.bucket, ResultKey(job.Id), bytes.NewReader(result)); err != nil {
		proc.fail(ctx, job.Id, "", "training result could not be stored")
		return fmt.Errorf("error storing training result: %w", err)
	}

	if err := database.UpdateTrainingJobStatus(ctx, proc.db, job.Id, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating training job status: %w", err)
	}

	slog.Info("training job completed", "job_id", job.Id, "kind", kind)

	return nil
}

func (proc *Processor) loadRequest(ctx context.Context, jobId uuid.UUID) (api.TrainRequest, error) {
	data, err := proc.storage.GetObject(ctx, proc.bucket, RequestKey(jobId))
	if err != nil {
		return api.TrainRequest{}, fmt.Errorf("error loading training request: %w", err)
	}

	var req api.TrainRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return api.TrainRequest{}, fmt.Errorf("error decoding training request: %w", err)
	}
	return req, nil
}

func (proc *Processor) fail(ctx context.Context, jobId uuid.UUID, code bridge.Code, message string) {
	if err := database.MarkTrainingJobFailed(ctx, proc.db, jobId, string(code), message); err != nil {
		slog.Error("error marking training job failed", "job_id", jobId, "error", err)
	}
}

package jobs_test

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/database"
	"netguard-backend/internal/jobs"
	"netguard-backend/internal/messaging"
	"netguard-backend/internal/storage"
	"netguard-backend/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const bucket = "training-jobs"

type call struct {
	kind    bridge.ModelKind
	samples [][]float64
	labels  []int64
	epochs  int
}

type fakeTrainer struct {
	mu     sync.Mutex
	calls  []call
	result json.RawMessage
	err    error
}

func (f *fakeTrainer) InvokeTrain(ctx context.Context, kind bridge.ModelKind, samples [][]float64, labels []int64, epochs *int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{kind: kind, samples: samples, labels: labels}
	if epochs != nil {
		c.epochs = *epochs
	}
	f.calls = append(f.calls, c)
	return f.result, f.err
}

type fakeTask struct {
	queue   string
	payload []byte
	outcome string
}

func (t *fakeTask) Type() string    { return t.queue }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.outcome = "ack"; return nil }
func (t *fakeTask) Nack() error     { t.outcome = "nack"; return nil }
func (t *fakeTask) Reject() error   { t.outcome = "reject"; return nil }

type fixture struct {
	db         *gorm.DB
	storage    *storage.LocalProvider
	storageDir string
	queue      *messaging.InMemoryQueue
	trainer    *fakeTrainer
	manager    *jobs.Manager
	processor  *jobs.Processor
}

func setup(t *testing.T) *fixture {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)

	dir := t.TempDir()
	f := &fixture{
		db:         db,
		storage:    storage.NewLocalProvider(dir),
		storageDir: dir,
		queue:      messaging.NewInMemoryQueue(),
		trainer:    &fakeTrainer{result: json.RawMessage(`{"accuracy":0.93}`)},
	}
	t.Cleanup(f.queue.Close)

	f.manager = jobs.NewManager(db, f.storage, f.queue, bucket)
	f.processor = jobs.NewProcessor(db, f.storage, f.queue, f.trainer, bucket, 1)
	return f
}

func (f *fixture) nextTask(t *testing.T) messaging.Task {
	t.Helper()
	select {
	case task := <-f.queue.Tasks():
		return task
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task")
		return nil
	}
}

func (f *fixture) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(f.storageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func intPtr(i int) *int {
	return &i
}

func TestSubmitRemovesRequestWhenJobNotCreated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.db.Migrator().DropTable(&database.TrainingJob{}))

	_, err := f.manager.Submit(ctx, bridge.Autoencoder, api.TrainRequest{Data: [][]float64{{1}, {2}}})
	require.Error(t, err)

	assert.Empty(t, f.storedFiles(t))
	select {
	case task := <-f.queue.Tasks():
		t.Fatalf("unexpected task queued: %s", task.Payload())
	default:
	}
}

func TestSubmitAndProcess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, bridge.Cnn, api.TrainRequest{
		Data:   [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		Labels: []int64{0, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, bridge.DefaultEpochs, job.Epochs)

	stored, err := f.storage.GetObject(ctx, bucket, jobs.RequestKey(job.Id))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[[0.1,0.2],[0.3,0.4]],"labels":[0,1],"epochs":10}`, string(stored))

	got, result, err := f.manager.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, got.Status)
	assert.Nil(t, result)

	f.processor.ProcessTask(f.nextTask(t))

	require.Len(t, f.trainer.calls, 1)
	assert.Equal(t, bridge.Cnn, f.trainer.calls[0].kind)
	assert.Equal(t, []int64{0, 1}, f.trainer.calls[0].labels)
	assert.Equal(t, 10, f.trainer.calls[0].epochs)

	got, result, err = f.manager.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, got.Status)
	assert.True(t, got.StartTime.Valid)
	assert.True(t, got.CompletionTime.Valid)
	assert.JSONEq(t, `{"accuracy":0.93}`, string(result))
}

func TestSubmitValidatesInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.manager.Submit(ctx, bridge.Cnn, api.TrainRequest{Data: [][]float64{{1}}})
	require.Equal(t, bridge.InvalidInput, bridge.CodeOf(err))

	_, err = f.manager.Submit(ctx, bridge.Autoencoder, api.TrainRequest{Data: [][]float64{{1}}, Epochs: intPtr(0)})
	require.Equal(t, bridge.InvalidInput, bridge.CodeOf(err))

	var count int64
	require.NoError(t, f.db.Model(&database.TrainingJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAutoencoderJobDropsLabels(t *testing.T) {
	f := setup(t)

	job, err := f.manager.Submit(context.Background(), bridge.Autoencoder, api.TrainRequest{
		Data:   [][]float64{{1, 2}},
		Labels: []int64{1},
		Epochs: intPtr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, job.Epochs)

	f.processor.ProcessTask(f.nextTask(t))
	require.Len(t, f.trainer.calls, 1)
	assert.Nil(t, f.trainer.calls[0].labels)
	assert.Equal(t, 3, f.trainer.calls[0].epochs)
}

func TestFailedJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.trainer.err = &bridge.Error{Code: bridge.RunnerTimeout, Message: "model runner did not finish before the deadline"}

	job, err := f.manager.Submit(ctx, bridge.Autoencoder, api.TrainRequest{Data: [][]float64{{1}}})
	require.NoError(t, err)

	queued := f.nextTask(t)
	task := &fakeTask{queue: queued.Type(), payload: queued.Payload()}
	f.processor.ProcessTask(task)
	assert.Equal(t, "nack", task.outcome)

	got, result, err := f.manager.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, got.Status)
	assert.Equal(t, "RunnerTimeout", got.ErrorCode.String)
	assert.Equal(t, "model runner did not finish before the deadline", got.ErrorMessage.String)
	assert.Nil(t, result)

	// Redelivery of a finished job is acknowledged without running it again.
	task = &fakeTask{queue: messaging.TrainingQueue, payload: queued.Payload()}
	f.processor.ProcessTask(task)
	assert.Equal(t, "ack", task.outcome)
	assert.Len(t, f.trainer.calls, 1)
}

func TestProcessRejectsBadTasks(t *testing.T) {
	f := setup(t)

	malformed := &fakeTask{queue: messaging.TrainingQueue, payload: []byte("not json")}
	f.processor.ProcessTask(malformed)
	assert.Equal(t, "reject", malformed.outcome)

	unknownQueue := &fakeTask{queue: "inference_queue", payload: []byte("{}")}
	f.processor.ProcessTask(unknownQueue)
	assert.Equal(t, "reject", unknownQueue.outcome)

	payload, err := json.Marshal(messaging.TrainTaskPayload{JobId: uuid.New()})
	require.NoError(t, err)
	missing := &fakeTask{queue: messaging.TrainingQueue, payload: payload}
	f.processor.ProcessTask(missing)
	assert.Equal(t, "reject", missing.outcome)

	assert.Empty(t, f.trainer.calls)
}

func TestGetUnknownJob(t *testing.T) {
	f := setup(t)
	_, _, err := f.manager.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestRequeuePending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, bridge.Autoencoder, api.TrainRequest{Data: [][]float64{{1}}})
	require.NoError(t, err)
	f.nextTask(t)

	require.NoError(t, database.UpdateTrainingJobStatus(ctx, f.db, job.Id, database.JobRunning))
	require.NoError(t, f.manager.RequeuePending(ctx))

	task := f.nextTask(t)
	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, job.Id, payload.JobId)

	f.processor.ProcessTask(task)
	got, _, err := f.manager.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, got.Status)
}

func TestProcessorStartStop(t *testing.T) {
	f := setup(t)
	processor := jobs.NewProcessor(f.db, f.storage, f.queue, f.trainer, bucket, 2)

	done := make(chan struct{})
	go func() {
		processor.Start()
		close(done)
	}()

	job, err := f.manager.Submit(context.Background(), bridge.Autoencoder, api.TrainRequest{Data: [][]float64{{1}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _, err := f.manager.Get(context.Background(), job.Id)
		return err == nil && got.Status == database.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	processor.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}
}

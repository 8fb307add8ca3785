package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TrainingQueue   = "training_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrQueueClosed = errors.New("queue is closed")

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// TrainTaskPayload points at a queued training job. The samples themselves are
// kept in object storage so messages stay small.
type TrainTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}

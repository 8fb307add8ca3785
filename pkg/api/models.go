package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PredictRequest struct {
	Data [][]float64 `json:"data"`
}

// TrainRequest is also the stored input of an asynchronous training job.
type TrainRequest struct {
	Data   [][]float64 `json:"data"`
	Labels []int64     `json:"labels,omitempty"`
	Epochs *int        `json:"epochs,omitempty"`
}

type TrafficPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Traffic   int64     `json:"traffic"`
}

type InvocationSummary struct {
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	StartTime time.Time `json:"startTime"`
}

type ModelSummary struct {
	Kind          string   `json:"kind"`
	RunnerPath    string   `json:"runnerPath"`
	RunnerArgs    []string `json:"runnerArgs"`
	TimeoutMs     int64    `json:"timeoutMs"`
	MaxConcurrent int      `json:"maxConcurrent"`
	InFlight      int      `json:"inFlight"`
	IdleRunners   int      `json:"idleRunners"`

	LastTrained    *time.Time         `json:"lastTrained,omitempty"`
	LastInvocation *InvocationSummary `json:"lastInvocation,omitempty"`
}

type InvocationQuery struct {
	Kind      string `schema:"kind"`
	Operation string `schema:"operation"`
	Limit     int    `schema:"limit"`
}

type Invocation struct {
	Id          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	Operation   string    `json:"operation"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	SampleCount int       `json:"sampleCount"`
	Epochs      int       `json:"epochs,omitempty"`
	StartTime   time.Time `json:"startTime"`
	DurationMs  int64     `json:"durationMs"`
}

type SubmitTrainingJobResponse struct {
	JobId uuid.UUID `json:"jobId"`
}

type TrainingJob struct {
	Id          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	SampleCount int       `json:"sampleCount"`
	Epochs      int       `json:"epochs"`

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreationTime   time.Time  `json:"creationTime"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/database"
	"netguard-backend/internal/jobs"
	"netguard-backend/internal/traffic"
	"netguard-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// ModelService runs synchronous model invocations. *bridge.Service implements it.
type ModelService interface {
	InvokePredict(ctx context.Context, kind bridge.ModelKind, samples [][]float64) (json.RawMessage, error)
	InvokeTrain(ctx context.Context, kind bridge.ModelKind, samples [][]float64, labels []int64, epochs *int) (json.RawMessage, error)
}

type BackendService struct {
	models ModelService
	pools  *bridge.Pools
	db     *gorm.DB
	jobs   *jobs.Manager

	now   func() time.Time
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewBackendService(models ModelService, pools *bridge.Pools, db *gorm.DB, jobManager *jobs.Manager) *BackendService {
	seed := uint64(time.Now().UnixNano())
	return &BackendService{
		models: models,
		pools:  pools,
		db:     db,
		jobs:   jobManager,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/status", RestHandler(s.Status))
	r.Get("/networkData", RestHandler(s.NetworkData))

	r.Get("/models", RestHandler(s.ListModels))
	r.Route("/model/{type}", func(r chi.Router) {
		r.Post("/predict", RestHandler(s.Predict))
		r.Post("/train", RestHandler(s.Train))
	})

	r.Get("/invocations", RestHandler(s.ListInvocations))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/{type}/train", RestHandler(s.SubmitTrainingJob))
		r.Get("/{job_id}", RestHandler(s.GetTrainingJob))
	})
}

func (s *BackendService) Status(r *http.Request) (any, error) {
	return api.StatusResponse{Status: "Server is running"}, nil
}

func (s *BackendService) NetworkData(r *http.Request) (any, error) {
	s.rngMu.Lock()
	points := traffic.Generate(s.now(), s.rng)
	s.rngMu.Unlock()

	res := make([]api.TrafficPoint, 0, len(points))
	for _, p := range points {
		res = append(res, api.TrafficPoint{Timestamp: p.Timestamp, Traffic: p.Traffic})
	}
	return res, nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	kind, err := URLParamModelKind(r, "type")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	return s.models.InvokePredict(r.Context(), kind, req.Data)
}

func (s *BackendService) Train(r *http.Request) (any, error) {
	kind, err := URLParamModelKind(r, "type")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	return s.models.InvokeTrain(r.Context(), kind, req.Data, req.Labels, req.Epochs)
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	ctx := r.Context()

	res := make([]api.ModelSummary, 0, len(bridge.Kinds))
	for _, kind := range bridge.Kinds {
		summary := api.ModelSummary{Kind: string(kind)}

		if pool, ok := s.pools.Pool(kind); ok {
			spec := pool.Spec()
			stats := pool.Stats()
			summary.RunnerPath = spec.Path
			summary.RunnerArgs = spec.Args
			summary.TimeoutMs = spec.Timeout.Milliseconds()
			summary.MaxConcurrent = stats.MaxConcurrent
			summary.InFlight = stats.InFlight
			summary.IdleRunners = stats.Idle
		}

		lastTrained, err := database.LastTrained(ctx, s.db, string(kind))
		if err != nil {
			slog.Error("error getting last training time", "kind", kind, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model history")
		}
		if lastTrained.Valid {
			summary.LastTrained = &lastTrained.Time
		}

		last, err := database.LastInvocation(ctx, s.db, string(kind))
		if err != nil {
			slog.Error("error getting last invocation", "kind", kind, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model history")
		}
		if last != nil {
			summary.LastInvocation = &api.InvocationSummary{
				Operation: last.Operation,
				Status:    last.Status,
				ErrorCode: last.ErrorCode.String,
				StartTime: last.StartTime,
			}
		}

		res = append(res, summary)
	}

	return res, nil
}

func (s *BackendService) ListInvocations(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[api.InvocationQuery](r)
	if err != nil {
		return nil, err
	}

	filter := database.InvocationFilter{Limit: query.Limit}
	if query.Kind != "" {
		kind, err := bridge.ParseModelKind(query.Kind)
		if err != nil {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		filter.Kind = string(kind)
	}
	if query.Operation != "" {
		switch op := bridge.Operation(query.Operation); op {
		case bridge.Predict, bridge.Train:
			filter.Operation = string(op)
		default:
			return nil, CodedErrorf(http.StatusBadRequest, "invalid operation '%s', expected 'predict' or 'train'", query.Operation)
		}
	}
	if query.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must not be negative")
	}

	invocations, err := database.ListInvocations(r.Context(), s.db, filter)
	if err != nil {
		slog.Error("error listing invocations", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving invocation history")
	}

	res := make([]api.Invocation, 0, len(invocations))
	for _, inv := range invocations {
		res = append(res, convertInvocation(inv))
	}
	return res, nil
}

func (s *BackendService) SubmitTrainingJob(r *http.Request) (any, error) {
	kind, err := URLParamModelKind(r, "type")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Submit(r.Context(), kind, req)
	if err != nil {
		if bridge.CodeOf(err) != "" {
			return nil, err
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training job")
	}

	return WithStatus(http.StatusAccepted, api.SubmitTrainingJobResponse{JobId: job.Id}), nil
}

func (s *BackendService) GetTrainingJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, result, err := s.jobs.Get(r.Context(), jobId)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "training job not found")
		}
		slog.Error("error getting training job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training job")
	}

	res := convertTrainingJob(job)
	res.Result = result
	return res, nil
}

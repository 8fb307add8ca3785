package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// InvocationRecord summarizes one finished invocation.
type InvocationRecord struct {
	Kind        ModelKind
	Operation   Operation
	Code        Code
	SampleCount int
	Epochs      int
	Started     time.Time
	Duration    time.Duration
}

func (r InvocationRecord) Succeeded() bool {
	return r.Code == ""
}

type Recorder interface {
	RecordInvocation(ctx context.Context, rec InvocationRecord) error
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithTimeout sets the deadline of every invocation of kind, overriding the
// one reported by the RunnerFactory.
func WithTimeout(kind ModelKind, timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeouts[kind] = timeout
		}
	}
}

// Service validates model invocations and carries them to a runner obtained
// from its RunnerFactory. Runner failures come back as *Error values whose
// messages are safe to show to callers.
type Service struct {
	runners  RunnerFactory
	recorder Recorder
	timeouts map[ModelKind]time.Duration
}

func NewService(runners RunnerFactory, opts ...Option) *Service {
	s := &Service{
		runners:  runners,
		timeouts: make(map[ModelKind]time.Duration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timeoutSource is implemented by factories that know the configured deadline
// of each kind, such as *Pools.
type timeoutSource interface {
	Timeout(kind ModelKind) (time.Duration, bool)
}

func (s *Service) Timeout(kind ModelKind) time.Duration {
	if t, ok := s.timeouts[kind]; ok {
		return t
	}
	if src, ok := s.runners.(timeoutSource); ok {
		if t, ok := src.Timeout(kind); ok && t > 0 {
			return t
		}
	}
	return defaultTimeout
}

func (s *Service) InvokePredict(ctx context.Context, kind ModelKind, samples [][]float64) (json.RawMessage, error) {
	if err := ValidateSamples(samples); err != nil {
		return nil, err
	}
	return s.invoke(ctx, kind, Command{Operation: Predict, Samples: samples})
}

// InvokeTrain trains kind on samples. Labels are only forwarded for cnn, and a
// nil epochs selects DefaultEpochs.
func (s *Service) InvokeTrain(ctx context.Context, kind ModelKind, samples [][]float64, labels []int64, epochs *int) (json.RawMessage, error) {
	n, err := ValidateTrain(kind, samples, labels, epochs)
	if err != nil {
		return nil, err
	}

	cmd := Command{Operation: Train, Samples: samples, Epochs: n}
	if kind == Cnn {
		cmd.Labels = labels
	}
	return s.invoke(ctx, kind, cmd)
}

func (s *Service) invoke(ctx context.Context, kind ModelKind, cmd Command) (json.RawMessage, error) {
	rec := InvocationRecord{
		Kind:        kind,
		Operation:   cmd.Operation,
		SampleCount: len(cmd.Samples),
		Epochs:      cmd.Epochs,
		Started:     time.Now(),
	}

	result, err := s.run(ctx, kind, cmd)

	rec.Duration = time.Since(rec.Started)
	if err != nil {
		rec.Code = CodeOf(err)
		logFailure(ctx, kind, cmd.Operation, err)
	} else {
		slog.InfoContext(ctx, "model invocation completed", "kind", kind, "operation", cmd.Operation, "samples", rec.SampleCount, "duration", rec.Duration)
	}

	if s.recorder != nil {
		if rerr := s.recorder.RecordInvocation(context.WithoutCancel(ctx), rec); rerr != nil {
			slog.ErrorContext(ctx, "error recording invocation", "kind", kind, "operation", cmd.Operation, "error", rerr)
		}
	}

	return result, err
}

func (s *Service) run(ctx context.Context, kind ModelKind, cmd Command) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout(kind))
	defer cancel()

	runner, release, err := s.runners.Acquire(ctx, kind)
	if err != nil {
		return nil, classify(err, RunnerSpawnFailed)
	}
	defer release()

	reply, err := runner.Invoke(ctx, cmd)
	if err != nil {
		return nil, classify(err, RunnerProcessFailed)
	}

	if reply.Failed() {
		return nil, newError(RunnerReportedFailure, errors.New(reply.Failure.Message))
	}
	return reply.Result, nil
}

// classify makes sure err carries a taxonomy code, falling back to code.
func classify(err error, code Code) error {
	var berr *Error
	if errors.As(err, &berr) {
		return berr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(RunnerTimeout, err)
	}
	return newError(code, err)
}

func logFailure(ctx context.Context, kind ModelKind, op Operation, err error) {
	detail := err.Error()
	var berr *Error
	if errors.As(err, &berr) {
		detail = berr.Detail()
	}

	if CodeOf(err) == InvalidInput {
		slog.InfoContext(ctx, "rejected model invocation", "kind", kind, "operation", op, "error", detail)
		return
	}
	slog.ErrorContext(ctx, "model invocation failed", "kind", kind, "operation", op, "code", CodeOf(err), "error", detail)
}

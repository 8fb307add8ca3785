package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"netguard-backend/internal/utils"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("runner pool is closed")

// Runner carries one command to one runner process.
type Runner interface {
	Invoke(ctx context.Context, cmd Command) (RunnerReply, error)
}

// RunnerFactory hands out a fresh Runner for a kind. The returned release func
// must be called once the invocation is over.
type RunnerFactory interface {
	Acquire(ctx context.Context, kind ModelKind) (Runner, func(), error)
}

type SpawnFunc func(kind ModelKind, spec RunnerSpec) (*Handle, error)

// Pool bounds in-flight invocations of one model kind and keeps up to spec.Warm
// idle processes spawned ahead of demand. A process is never given a second
// command, so checked out handles are destroyed rather than returned.
type Pool struct {
	kind  ModelKind
	spec  RunnerSpec
	slots *semaphore.Weighted
	spawn SpawnFunc

	mu        sync.Mutex
	idle      []*Handle
	refilling int
	inFlight  int
	closed    bool
	wg        sync.WaitGroup
}

type PoolStats struct {
	Kind          ModelKind
	MaxConcurrent int
	InFlight      int
	Idle          int
}

func NewPool(kind ModelKind, spec RunnerSpec) *Pool {
	return newPool(kind, spec, Spawn)
}

func newPool(kind ModelKind, spec RunnerSpec, spawn SpawnFunc) *Pool {
	spec = spec.WithDefaults()
	return &Pool{
		kind:  kind,
		spec:  spec,
		slots: semaphore.NewWeighted(int64(spec.MaxConcurrent)),
		spawn: spawn,
	}
}

func (p *Pool) Spec() RunnerSpec {
	return p.spec
}

// Warm spawns the configured number of idle processes concurrently and returns
// once they are all started or have failed.
func (p *Pool) Warm() {
	p.mu.Lock()
	need := p.spec.Warm - len(p.idle) - p.refilling
	if p.closed || need <= 0 {
		p.mu.Unlock()
		return
	}
	p.refilling += need
	p.mu.Unlock()

	worker := func(int) (*Handle, error) {
		return p.spawn(p.kind, p.spec)
	}

	for task := range utils.RunInPool(worker, make([]int, need), need) {
		p.addIdle(task.Result, task.Error)
	}

	slog.Info("runner pool warmed", "kind", p.kind, "idle", p.Stats().Idle)
}

// Acquire reserves a slot and checks out a healthy idle process, spawning one if
// none is available. It fails with ServiceBusy when no slot frees up within
// spec.QueueTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Handle, func(), error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, nil, err
	}

	h, err := p.checkout()
	if err != nil {
		p.slots.Release(1)
		return nil, nil, err
	}

	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()

	p.refill()

	var once sync.Once
	release := func() {
		once.Do(func() {
			h.Close()

			p.mu.Lock()
			p.inFlight--
			p.mu.Unlock()

			p.slots.Release(1)
		})
	}

	return h, release, nil
}

func (p *Pool) acquireSlot(ctx context.Context) error {
	if p.spec.QueueTimeout == 0 {
		if !p.slots.TryAcquire(1) {
			return newError(ServiceBusy, fmt.Errorf("all %d %s runner slots are busy", p.spec.MaxConcurrent, p.kind))
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.spec.QueueTimeout)
	defer cancel()

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		return newError(ServiceBusy, fmt.Errorf("no %s runner slot freed up within %v: %w", p.kind, p.spec.QueueTimeout, err))
	}
	return nil
}

func (p *Pool) checkout() (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, newError(RunnerSpawnFailed, ErrPoolClosed)
	}

	var discarded []*Handle
	var found *Handle
	for len(p.idle) > 0 {
		h := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if h.Healthy() {
			found = h
			break
		}
		discarded = append(discarded, h)
	}
	p.mu.Unlock()

	for _, h := range discarded {
		slog.Warn("discarding unhealthy idle runner", "kind", p.kind, "pid", h.Pid())
		h.Close()
	}

	if found != nil {
		return found, nil
	}
	return p.spawn(p.kind, p.spec)
}

func (p *Pool) refill() {
	p.mu.Lock()
	need := p.spec.Warm - len(p.idle) - p.refilling
	if p.closed || need <= 0 {
		p.mu.Unlock()
		return
	}
	p.refilling += need
	p.wg.Add(need)
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		go func() {
			defer p.wg.Done()
			p.addIdle(p.spawn(p.kind, p.spec))
		}()
	}
}

func (p *Pool) addIdle(h *Handle, err error) {
	p.mu.Lock()
	p.refilling--
	if err != nil {
		p.mu.Unlock()
		slog.Error("error spawning idle runner", "kind", p.kind, "error", err)
		return
	}
	if p.closed {
		p.mu.Unlock()
		h.Close()
		return
	}
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Kind:          p.kind,
		MaxConcurrent: p.spec.MaxConcurrent,
		InFlight:      p.inFlight,
		Idle:          len(p.idle),
	}
}

// Close reaps every idle process. In-flight invocations finish on their own.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.wg.Wait()
	for _, h := range idle {
		h.Close()
	}
}

// Pools is the RunnerFactory used in production: one Pool per model kind.
type Pools struct {
	pools map[ModelKind]*Pool
}

// NewPools builds a pool for every kind in Kinds; a missing spec is an error.
func NewPools(specs map[ModelKind]RunnerSpec) (*Pools, error) {
	pools := make(map[ModelKind]*Pool, len(Kinds))
	for _, kind := range Kinds {
		spec, ok := specs[kind]
		if !ok {
			return nil, fmt.Errorf("no runner configured for model kind '%s'", kind)
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid runner for model kind '%s': %w", kind, err)
		}
		pools[kind] = NewPool(kind, spec)
	}
	return &Pools{pools: pools}, nil
}

func (p *Pools) Acquire(ctx context.Context, kind ModelKind) (Runner, func(), error) {
	pool, ok := p.pools[kind]
	if !ok {
		return nil, nil, invalidInputf("invalid model type '%s'", kind)
	}
	h, release, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return h, release, nil
}

func (p *Pools) Pool(kind ModelKind) (*Pool, bool) {
	pool, ok := p.pools[kind]
	return pool, ok
}

func (p *Pools) Timeout(kind ModelKind) (time.Duration, bool) {
	pool, ok := p.pools[kind]
	if !ok {
		return 0, false
	}
	return pool.spec.Timeout, true
}

func (p *Pools) Warm() {
	var wg sync.WaitGroup
	for _, pool := range p.pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Warm()
		}()
	}
	wg.Wait()
}

func (p *Pools) Close() {
	for _, pool := range p.pools {
		pool.Close()
	}
}

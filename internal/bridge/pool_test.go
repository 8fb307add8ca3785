package bridge_test

import (
	"context"
	"testing"
	"time"

	"netguard-backend/internal/bridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRejectsWhenFull(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, echoScript)
	spec.MaxConcurrent = 1

	pool := bridge.NewPool(bridge.Autoencoder, spec)
	t.Cleanup(pool.Close)

	h, release, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().InFlight)

	_, _, err = pool.Acquire(t.Context())
	requireCode(t, err, bridge.ServiceBusy)

	_, err = h.Invoke(t.Context(), predictOne)
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, pool.Stats().InFlight)

	_, release, err = pool.Acquire(t.Context())
	require.NoError(t, err)
	release()
}

func TestPoolQueuesUntilTimeout(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, echoScript)
	spec.MaxConcurrent = 1
	spec.QueueTimeout = 100 * time.Millisecond

	pool := bridge.NewPool(bridge.Cnn, spec)
	t.Cleanup(pool.Close)

	_, release, err := pool.Acquire(t.Context())
	require.NoError(t, err)

	start := time.Now()
	_, _, err = pool.Acquire(t.Context())
	requireCode(t, err, bridge.ServiceBusy)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	_, release2, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	release2()
}

func TestPoolWarm(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, echoScript)
	spec.Warm = 2

	pool := bridge.NewPool(bridge.Autoencoder, spec)
	t.Cleanup(pool.Close)

	pool.Warm()
	assert.Equal(t, 2, pool.Stats().Idle)

	h, release, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	defer release()

	_, err = h.Invoke(t.Context(), predictOne)
	require.NoError(t, err)

	waitUntil(t, 5*time.Second, func() bool { return pool.Stats().Idle == 2 })
}

func TestPoolDiscardsDeadIdleRunners(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, "exit 0\n")
	spec.Warm = 1

	pool := bridge.NewPool(bridge.Autoencoder, spec)
	t.Cleanup(pool.Close)

	pool.Warm()
	time.Sleep(100 * time.Millisecond)

	h, release, err := pool.Acquire(t.Context())
	require.NoError(t, err)
	defer release()
	assert.NotNil(t, h)
}

func TestPoolClose(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, echoScript)
	spec.Warm = 1

	pool := bridge.NewPool(bridge.Autoencoder, spec)
	pool.Warm()
	require.Equal(t, 1, pool.Stats().Idle)

	pool.Close()
	assert.Equal(t, 0, pool.Stats().Idle)

	_, _, err := pool.Acquire(context.Background())
	requireCode(t, err, bridge.RunnerSpawnFailed)
	assert.ErrorIs(t, err, bridge.ErrPoolClosed)
}

func TestNewPools(t *testing.T) {
	spec := stubRunner(t, echoScript)

	_, err := bridge.NewPools(map[bridge.ModelKind]bridge.RunnerSpec{bridge.Autoencoder: spec})
	require.ErrorContains(t, err, "cnn")

	_, err = bridge.NewPools(map[bridge.ModelKind]bridge.RunnerSpec{
		bridge.Autoencoder: spec,
		bridge.Cnn:         {},
	})
	require.ErrorContains(t, err, "runner path is empty")

	pools, err := bridge.NewPools(map[bridge.ModelKind]bridge.RunnerSpec{
		bridge.Autoencoder: spec,
		bridge.Cnn:         spec,
	})
	require.NoError(t, err)
	t.Cleanup(pools.Close)

	runner, release, err := pools.Acquire(t.Context(), bridge.Cnn)
	require.NoError(t, err)
	defer release()

	reply, err := runner.Invoke(t.Context(), predictOne)
	require.NoError(t, err)
	assert.Contains(t, string(reply.Result), `"data":[[1,2,3]]`)

	_, _, err = pools.Acquire(t.Context(), bridge.ModelKind("lstm"))
	requireCode(t, err, bridge.InvalidInput)
}

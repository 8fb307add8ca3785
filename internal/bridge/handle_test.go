package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"netguard-backend/internal/bridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invokeStub(t *testing.T, script string, cmd bridge.Command) (bridge.RunnerReply, error) {
	t.Helper()
	h, err := bridge.Spawn(bridge.Autoencoder, stubRunner(t, script))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h.Invoke(t.Context(), cmd)
}

func requireCode(t *testing.T, err error, code bridge.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, bridge.CodeOf(err), "unexpected error: %v", err)
}

var predictOne = bridge.Command{Operation: bridge.Predict, Samples: [][]float64{{1, 2, 3}}}

func TestHandleEcho(t *testing.T) {
	t.Parallel()
	reply, err := invokeStub(t, echoScript, predictOne)
	require.NoError(t, err)
	require.False(t, reply.Failed())

	var got struct {
		Status string `json:"status"`
		Echo   struct {
			Command string      `json:"command"`
			Data    [][]float64 `json:"data"`
		} `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "predict", got.Echo.Command)
	assert.Equal(t, [][]float64{{1, 2, 3}}, got.Echo.Data)
}

func TestHandleSkipsDiagnostics(t *testing.T) {
	t.Parallel()
	reply, err := invokeStub(t, chattyScript, predictOne)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accuracy":0.93}`, string(reply.Result))
}

func TestHandleErrorReply(t *testing.T) {
	t.Parallel()
	reply, err := invokeStub(t, errorReplyScript, predictOne)
	require.NoError(t, err)
	require.True(t, reply.Failed())
	assert.Equal(t, "Unknown command", reply.Failure.Message)
}

func TestHandleReplyWinsOverExitStatus(t *testing.T) {
	t.Parallel()
	reply, err := invokeStub(t, crashAfterReplyScript, predictOne)
	require.NoError(t, err)
	assert.JSONEq(t, `{"loss":0.5}`, string(reply.Result))
}

func TestHandleMalformedReply(t *testing.T) {
	t.Parallel()
	_, err := invokeStub(t, notJSONScript, predictOne)
	requireCode(t, err, bridge.MalformedReply)

	var malformed *bridge.MalformedReplyError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Raw, "this is not json")
	assert.NotContains(t, err.Error(), "this is not json")
}

func TestHandleProcessFailed(t *testing.T) {
	t.Parallel()
	_, err := invokeStub(t, failingScript, predictOne)
	requireCode(t, err, bridge.RunnerProcessFailed)

	var berr *bridge.Error
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Detail(), "exit status 3")
	assert.Contains(t, berr.Detail(), "model file missing")
}

func TestHandleExitWithoutOutput(t *testing.T) {
	t.Parallel()
	_, err := invokeStub(t, silentScript, predictOne)
	requireCode(t, err, bridge.RunnerProcessFailed)

	var malformed *bridge.MalformedReplyError
	assert.False(t, errors.As(err, &malformed))
}

func TestHandleSpawnFailed(t *testing.T) {
	t.Parallel()
	_, err := bridge.Spawn(bridge.Cnn, bridge.RunnerSpec{Path: "/does/not/exist/python3"})
	requireCode(t, err, bridge.RunnerSpawnFailed)

	_, err = bridge.Spawn(bridge.Cnn, bridge.RunnerSpec{})
	requireCode(t, err, bridge.RunnerSpawnFailed)
}

func TestHandleTimeoutReclaimsProcess(t *testing.T) {
	t.Parallel()
	h, err := bridge.Spawn(bridge.Cnn, stubRunner(t, hangingScript))
	require.NoError(t, err)
	t.Cleanup(h.Close)

	pid := h.Pid()
	require.True(t, processAlive(pid))

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = h.Invoke(ctx, predictOne)
	requireCode(t, err, bridge.RunnerTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.False(t, processAlive(pid))
	assert.False(t, h.Healthy())
}

func TestHandleReclaimsLingeringProcess(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, lingeringScript)
	spec.ExitGrace = 100 * time.Millisecond

	h, err := bridge.Spawn(bridge.Autoencoder, spec)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	pid := h.Pid()

	reply, err := h.Invoke(t.Context(), predictOne)
	require.NoError(t, err)
	assert.JSONEq(t, `{"loss":0.25}`, string(reply.Result))
	assert.False(t, processAlive(pid))
}

func TestHandleKillsBackgroundChildren(t *testing.T) {
	t.Parallel()
	spec := stubRunner(t, backgroundChildScript)

	h, err := bridge.Spawn(bridge.Autoencoder, spec)
	require.NoError(t, err)
	t.Cleanup(h.Close)

	reply, err := h.Invoke(t.Context(), predictOne)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(reply.Result))

	child := readPid(t, spec.Args[0]+".child")
	waitUntil(t, 2*time.Second, func() bool { return !processAlive(child) })
}

func TestHandleSingleUse(t *testing.T) {
	t.Parallel()
	h, err := bridge.Spawn(bridge.Autoencoder, stubRunner(t, echoScript))
	require.NoError(t, err)
	t.Cleanup(h.Close)

	require.True(t, h.Healthy())
	_, err = h.Invoke(t.Context(), predictOne)
	require.NoError(t, err)

	_, err = h.Invoke(t.Context(), predictOne)
	require.ErrorIs(t, err, bridge.ErrHandleUsed)
	assert.False(t, h.Healthy())
}

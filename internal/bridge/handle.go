package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

var ErrHandleUsed = errors.New("runner handle already received a command")

// waitDelay bounds how long Wait keeps draining stdout/stderr after the runner
// exits, in case a grandchild still holds the pipes.
const waitDelay = time.Second

// Handle owns exactly one runner process and carries exactly one command to it.
// It is safe to call Close concurrently with Invoke.
type Handle struct {
	kind ModelKind
	spec RunnerSpec

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *replyScanner
	stderr *tailBuffer

	started time.Time
	exited  chan struct{}
	waitErr error

	used      atomic.Bool
	closeOnce sync.Once
}

// Spawn starts the runner process for kind. The process waits on stdin until
// Invoke writes its command.
func Spawn(kind ModelKind, spec RunnerSpec) (*Handle, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, newError(RunnerSpawnFailed, fmt.Errorf("%s runner: %w", kind, err))
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(append(os.Environ(), spec.Env...), "PYTHONUNBUFFERED=1")
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newError(RunnerSpawnFailed, fmt.Errorf("error creating stdin pipe for %s runner: %w", kind, err))
	}

	h := &Handle{
		kind:   kind,
		spec:   spec,
		cmd:    cmd,
		stdin:  stdin,
		stdout: newReplyScanner(spec.MaxReplyBytes),
		stderr: newTailBuffer(8192),
		exited: make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		return nil, newError(RunnerSpawnFailed, fmt.Errorf("error starting %s runner '%s': %w", kind, spec.Path, err))
	}
	h.started = time.Now()

	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.stdout.flush()
	h.waitErr = err
	close(h.exited)
}

func (h *Handle) Kind() ModelKind {
	return h.kind
}

func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Healthy reports whether the process is still running and has not yet been
// given a command.
func (h *Handle) Healthy() bool {
	if h.used.Load() {
		return false
	}
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Invoke writes cmd to the runner, waits for its first reply and reclaims the
// process. It blocks until the runner exits or ctx is done, whichever comes first.
func (h *Handle) Invoke(ctx context.Context, cmd Command) (RunnerReply, error) {
	if !h.used.CompareAndSwap(false, true) {
		return RunnerReply{}, ErrHandleUsed
	}
	defer h.Close()

	payload, err := EncodeCommand(cmd)
	if err != nil {
		return RunnerReply{}, &Error{Code: InvalidInput, Message: "samples cannot be encoded", Err: err}
	}

	written := make(chan error, 1)
	go func() {
		_, err := h.stdin.Write(payload)
		written <- errors.Join(err, h.stdin.Close())
	}()

	select {
	case err := <-written:
		if err != nil {
			// The runner may have exited before reading; its output still decides
			// the outcome.
			slog.DebugContext(ctx, "error writing command to runner", "kind", h.kind, "pid", h.Pid(), "error", err)
		}
	case <-h.exited:
	case <-ctx.Done():
		return RunnerReply{}, h.timeout(ctx)
	}

	select {
	case <-h.stdout.found:
		return h.afterReply(ctx)
	case <-h.exited:
		return h.afterExit(ctx)
	case <-ctx.Done():
		return RunnerReply{}, h.timeout(ctx)
	}
}

func (h *Handle) afterReply(ctx context.Context) (RunnerReply, error) {
	grace := time.NewTimer(h.spec.ExitGrace)
	defer grace.Stop()

	select {
	case <-h.exited:
		if h.waitErr != nil {
			slog.WarnContext(ctx, "runner exited abnormally after replying", "kind", h.kind, "pid", h.Pid(), "exit", describeExit(h.waitErr))
		}
	case <-grace.C:
		slog.WarnContext(ctx, "runner still running after reply, reclaiming", "kind", h.kind, "pid", h.Pid(), "grace", h.spec.ExitGrace)
	case <-ctx.Done():
		slog.WarnContext(ctx, "deadline reached after reply, reclaiming runner", "kind", h.kind, "pid", h.Pid())
	}

	reply, _, _ := h.stdout.result()
	return *reply, nil
}

func (h *Handle) afterExit(ctx context.Context) (RunnerReply, error) {
	reply, diagnostics, lastErr := h.stdout.result()
	if reply != nil {
		if h.waitErr != nil {
			slog.WarnContext(ctx, "runner exited abnormally after replying", "kind", h.kind, "pid", h.Pid(), "exit", describeExit(h.waitErr))
		}
		return *reply, nil
	}

	stderr := h.stderr.String()
	if h.waitErr != nil {
		return RunnerReply{}, newError(RunnerProcessFailed, fmt.Errorf("%s runner pid %d %s without a reply; stderr=%q", h.kind, h.Pid(), describeExit(h.waitErr), truncate(stderr, 1024)))
	}

	if lastErr == nil {
		return RunnerReply{}, newError(RunnerProcessFailed, fmt.Errorf("%s runner pid %d exited (exit status 0) without writing any output; stderr=%q", h.kind, h.Pid(), truncate(stderr, 1024)))
	}
	return RunnerReply{}, newError(MalformedReply, &MalformedReplyError{Raw: diagnostics, Err: lastErr})
}

func (h *Handle) timeout(ctx context.Context) error {
	if err := killProcessGroup(h.cmd); err != nil {
		slog.ErrorContext(ctx, "error killing runner", "kind", h.kind, "pid", h.Pid(), "error", err)
	}
	<-h.exited
	return newError(RunnerTimeout, fmt.Errorf("%s runner pid %d killed after %v: %w", h.kind, h.Pid(), time.Since(h.started).Round(time.Millisecond), ctx.Err()))
}

// Close kills the runner's process group and waits until the runner is reaped.
// The group is killed even when the runner itself already exited, so children
// it left in the background do not outlive it.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		if err := killProcessGroup(h.cmd); err != nil {
			slog.Error("error killing runner", "kind", h.kind, "pid", h.Pid(), "error", err)
		}
		<-h.exited

		if stderr := h.stderr.String(); stderr != "" {
			slog.Debug("runner stderr", "kind", h.kind, "pid", h.Pid(), "stderr", truncate(stderr, 2048))
		}
	})
}

func describeExit(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("exited (%s)", exitErr.ProcessState.String())
	}
	return err.Error()
}

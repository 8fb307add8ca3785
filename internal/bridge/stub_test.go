package bridge_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"netguard-backend/internal/bridge"

	"github.com/stretchr/testify/require"
)

// stubRunner writes script to a temp dir and returns a spec that runs it with sh.
func stubRunner(t *testing.T, script string) bridge.RunnerSpec {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return bridge.RunnerSpec{
		Path:      sh,
		Args:      []string{path},
		Timeout:   5 * time.Second,
		ExitGrace: 500 * time.Millisecond,
	}
}

const (
	echoScript = `read -r line
printf '{"status":"success","echo":%s}\n' "$line"
`
	notJSONScript = `read -r line
echo "Traceback (most recent call last):"
echo "this is not json"
`
	failingScript = `read -r line
echo "model file missing" >&2
exit 3
`
	chattyScript = `read -r line
echo "loading model weights"
echo "epoch 1/5"
echo '{"accuracy":0.93}'
echo "done"
`
	errorReplyScript = `read -r line
echo '{"status":"error","message":"Unknown command"}'
`
	crashAfterReplyScript = `read -r line
echo '{"loss":0.5}'
exit 2
`
	lingeringScript = `read -r line
echo '{"loss":0.25}'
exec sleep 30
`
	hangingScript = `exec sleep 30`
	silentScript  = `read -r line
exit 0
`
	// backgroundChildScript leaves a sleep running in its process group and
	// records its pid next to the script.
	backgroundChildScript = `read -r line
sleep 30 </dev/null >/dev/null 2>&1 &
echo $! > "$0.child"
echo '{"ok":1}'
exit 0
`
)

// processAlive reports whether pid still exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return false
	}
	// Orphans killed after their parent exited may linger as zombies until
	// init reaps them.
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func readPid(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return pid
}

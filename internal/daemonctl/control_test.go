package daemonctl

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tsusu/internal/pidfile"
	"tsusu/internal/rundir"
	"tsusu/internal/testsupport"
)

const (
	helperEnv    = "TSUSU_HELPER_DAEMON"
	helperPIDEnv = "TSUSU_HELPER_PID_PATH"
)

// TestHelperDaemon is re-executed as a child process that holds a PID marker
// the way the daemon does and exits cleanly on SIGTERM.
func TestHelperDaemon(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)

	guard, err := pidfile.Acquire(os.Getenv(helperPIDEnv))
	if err != nil {
		os.Exit(2)
	}
	select {
	case <-sigs:
	case <-time.After(10 * time.Second):
	}
	guard.Release(nil)
	os.Exit(0)
}

func startHelperDaemon(t *testing.T, pidPath string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperDaemon$")
	cmd.Env = append(os.Environ(), helperEnv+"=1", helperPIDEnv+"="+pidPath)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	require.Eventually(t, func() bool {
		pid, err := pidfile.ReadRunning(pidPath)
		return err == nil && pid == cmd.Process.Pid
	}, 5*time.Second, 20*time.Millisecond)
	return cmd
}

func TestStopWhenNotRunning(t *testing.T) {
	dir := testsupport.ShortTempDir(t)

	_, err := Stop(filepath.Join(dir, "pid"), time.Second)
	require.ErrorIs(t, err, ErrDaemonNotRunning)

	stale := filepath.Join(dir, "stale")
	testsupport.WriteFile(t, stale, "999999\n")
	_, err = Stop(stale, time.Second)
	require.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestStopRefusesCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(testsupport.ShortTempDir(t), "pid")
	guard, err := pidfile.Acquire(pidPath)
	require.NoError(t, err)
	t.Cleanup(func() { guard.Release(nil) })

	_, err = Stop(pidPath, time.Second)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrDaemonNotRunning))

	_, err = ForceKill(pidPath)
	require.Error(t, err)
}

func TestStopSignalsDaemonAndWaits(t *testing.T) {
	pidPath := filepath.Join(testsupport.ShortTempDir(t), "pid")
	cmd := startHelperDaemon(t, pidPath)

	result, err := Stop(pidPath, 5*time.Second)
	require.NoError(t, err)
	require.True(t, result.Stopped)
	require.Equal(t, cmd.Process.Pid, result.PID)

	_, statErr := os.Stat(pidPath)
	require.True(t, os.IsNotExist(statErr))
	require.NoError(t, cmd.Wait())
}

func TestForceKillRemovesMarker(t *testing.T) {
	pidPath := filepath.Join(testsupport.ShortTempDir(t), "pid")
	cmd := startHelperDaemon(t, pidPath)

	pid, err := ForceKill(pidPath)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, pid)
	_, statErr := os.Stat(pidPath)
	require.True(t, os.IsNotExist(statErr))
	require.Error(t, cmd.Wait())
}

func TestProcessInfo(t *testing.T) {
	paths := rundir.ForDir(testsupport.ShortTempDir(t))

	running, pid, err := ProcessInfo(paths)
	require.NoError(t, err)
	require.False(t, running)
	require.Zero(t, pid)

	guard, err := pidfile.Acquire(paths.PID)
	require.NoError(t, err)
	t.Cleanup(func() { guard.Release(nil) })

	running, pid, err = ProcessInfo(paths)
	require.NoError(t, err)
	require.True(t, running)
	require.Equal(t, os.Getpid(), pid)
}

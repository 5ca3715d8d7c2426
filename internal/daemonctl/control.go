package daemonctl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"tsusu/internal/pidfile"
	"tsusu/internal/rundir"
)

const stopPollInterval = 50 * time.Millisecond

// ErrDaemonNotRunning indicates no live daemon owns the PID marker.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures the outcome of a stop request.
type StopResult struct {
	PID int
	// Stopped is false when the daemon was signalled but did not finish
	// cleanup within the timeout.
	Stopped bool
}

// Stop sends SIGTERM to the daemon named by the PID marker and waits up to
// timeout for it to exit or remove the marker.
func Stop(pidPath string, timeout time.Duration) (StopResult, error) {
	pid, err := pidfile.ReadRunning(pidPath)
	if err != nil {
		if errors.Is(err, pidfile.ErrNotRunning) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	result := StopResult{PID: pid}
	result.Stopped = waitForExit(pidPath, pid, timeout)
	return result, nil
}

func waitForExit(pidPath string, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(pidPath); errors.Is(err, fs.ErrNotExist) {
			return true
		}
		if !pidfile.ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(stopPollInterval)
	}
}

// ForceKill sends SIGKILL to the daemon named by the PID marker and removes
// the marker. The control socket is left for the next daemon's stale-socket
// recovery.
func ForceKill(pidPath string) (int, error) {
	pid, err := pidfile.ReadRunning(pidPath)
	if err != nil {
		if errors.Is(err, pidfile.ErrNotRunning) {
			return 0, ErrDaemonNotRunning
		}
		return 0, err
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return 0, ErrDaemonNotRunning
		}
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return pid, fmt.Errorf("remove pid marker %q: %w", pidPath, err)
	}
	return pid, nil
}

// ProcessInfo reports whether a live daemon owns the PID marker and its pid.
func ProcessInfo(paths rundir.Paths) (bool, int, error) {
	pid, err := pidfile.ReadRunning(paths.PID)
	if err != nil {
		if errors.Is(err, pidfile.ErrNotRunning) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, pid, nil
}

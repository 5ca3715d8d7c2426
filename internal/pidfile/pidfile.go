// Package pidfile manages the daemon's PID marker.
//
// The marker holds the daemon pid as decimal text followed by a newline. The
// owning daemon keeps an exclusive advisory lock on it for its whole lifetime,
// which lets readers tell a live marker from one left behind by a crash.
package pidfile

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"tsusu/internal/logging"
)

var (
	// ErrLocked reports that another live daemon owns the marker.
	ErrLocked = errors.New("pid marker locked by another daemon")
	// ErrNotRunning reports that no live daemon owns the marker.
	ErrNotRunning = errors.New("daemon not running")
)

const acquireRetries = 3

// Guard owns the PID marker for one daemon lifetime.
type Guard struct {
	path string
	pid  int
	lock *flock.Flock

	once sync.Once
}

// Acquire locks path and writes the current pid into it. When another daemon
// holds the lock the file is left untouched and ErrLocked is returned.
func Acquire(path string) (*Guard, error) {
	for range acquireRetries {
		lock := flock.New(path, flock.SetPermissions(0o644))
		ok, err := lock.TryLock()
		if err != nil {
			_ = lock.Close()
			return nil, fmt.Errorf("lock pid marker %q: %w", path, err)
		}
		if !ok {
			_ = lock.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}

		// A previous owner may have unlinked the file between our open and
		// lock, and someone else may already have created a new one. The lock
		// must guard the inode currently at path.
		held, err := lockHoldsPath(lock, path)
		if err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		if !held {
			_ = lock.Unlock()
			continue
		}

		pid := os.Getpid()
		if err := writePID(path, pid); err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		return &Guard{path: path, pid: pid, lock: lock}, nil
	}
	return nil, fmt.Errorf("lock pid marker %q: file kept disappearing", path)
}

// lockHoldsPath reports whether lock's open handle is the file at path.
func lockHoldsPath(lock *flock.Flock, path string) (bool, error) {
	lockedInfo, err := lock.Stat()
	if err != nil {
		return false, fmt.Errorf("stat locked pid marker: %w", err)
	}
	pathInfo, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat pid marker: %w", err)
	}
	return os.SameFile(lockedInfo, pathInfo), nil
}

func writePID(path string, pid int) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open pid marker: %w", err)
	}
	if _, err := file.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("write pid marker: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close pid marker: %w", err)
	}
	return nil
}

// Path returns the marker location.
func (g *Guard) Path() string {
	if g == nil {
		return ""
	}
	return g.path
}

// PID returns the pid written into the marker.
func (g *Guard) PID() int {
	if g == nil {
		return 0
	}
	return g.pid
}

// Release removes the marker and drops the lock. Failures are logged, never
// returned, and later calls are no-ops.
func (g *Guard) Release(logger *slog.Logger) {
	if g == nil {
		return
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	g.once.Do(func() {
		// Leave a marker that is no longer ours, e.g. replaced by hand.
		if held, _ := lockHoldsPath(g.lock, g.path); !held {
			_ = g.lock.Unlock()
			return
		}
		if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(logger, "failed to remove pid marker", "pid_marker_remove",
				logging.String(logging.FieldPIDPath, g.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale pid marker left on disk"),
				logging.String(logging.FieldErrorHint, "remove the file manually if the daemon is not running"),
			)
		}
		if err := g.lock.Unlock(); err != nil {
			logging.WarnWithContext(logger, "failed to release pid marker lock", "pid_marker_unlock",
				logging.String(logging.FieldPIDPath, g.path),
				logging.Error(err),
			)
		}
	})
}

// ReadRunning returns the pid of the live daemon that owns path. A missing,
// unparsable, or unlocked marker yields ErrNotRunning.
func ReadRunning(path string) (int, error) {
	pid, err := Read(path)
	if err != nil {
		return 0, err
	}

	probe := flock.New(path, flock.SetFlag(os.O_RDONLY))
	free, err := probe.TryRLock()
	if err != nil {
		_ = probe.Close()
		return 0, ErrNotRunning
	}
	if free {
		_ = probe.Unlock()
		return 0, ErrNotRunning
	}
	_ = probe.Close()

	if !ProcessAlive(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// Read parses the marker without checking whether its owner is alive.
func Read(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read pid marker: %w", err)
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && line == "" {
		return 0, ErrNotRunning
	}
	value, err := strconv.ParseUint(strings.TrimSpace(line), 10, 31)
	if err != nil || value == 0 {
		return 0, ErrNotRunning
	}
	return int(value), nil
}

// ProcessAlive reports whether pid names an existing process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

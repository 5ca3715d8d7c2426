package daemonctl

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"tsusu/internal/ipc"
	"tsusu/internal/logging"
	"tsusu/internal/pidfile"
)

// DaemonCommand is the hidden subcommand that runs the daemon.
const DaemonCommand = "_daemon"

const (
	DefaultMaxAttempts = 4
	DefaultBackoff     = 500 * time.Millisecond
	DefaultDialTimeout = time.Second
)

// ErrSpawnExhausted reports that no daemon became reachable within the
// attempt budget.
var ErrSpawnExhausted = errors.New("daemon did not become reachable")

// Launcher connects to the daemon, spawning one when nothing answers.
type Launcher struct {
	SocketPath string
	PIDPath    string
	// Executable is the binary re-executed with DaemonCommand.
	Executable string
	// Args are appended after DaemonCommand, e.g. forwarded --config.
	Args        []string
	MaxAttempts int
	Backoff     time.Duration
	DialTimeout time.Duration
	Logger      *slog.Logger

	// Dial, Spawn and Sleep default to ipc.Dial, Launch and time.Sleep.
	Dial  func(path string, timeout time.Duration) (*ipc.Client, error)
	Spawn func(executable string, args []string) error
	Sleep func(time.Duration)
}

// ConnectOrStart returns a connected client. Each failed attempt spawns a
// daemon, unless the PID marker shows one that is still starting, and then
// waits Backoff before retrying.
func (l *Launcher) ConnectOrStart() (*ipc.Client, error) {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	backoff := l.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	dialTimeout := l.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dial := l.Dial
	if dial == nil {
		dial = ipc.Dial
	}
	spawn := l.Spawn
	if spawn == nil {
		spawn = Launch
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := logging.NewComponentLogger(l.Logger, "launcher")

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := dial(l.SocketPath, dialTimeout)
		if err == nil {
			if attempt > 1 {
				logger.Debug("daemon reachable", logging.Int("attempt", attempt))
			}
			return client, nil
		}
		lastErr = err
		logger.Debug("daemon not reachable",
			logging.Int("attempt", attempt),
			logging.String(logging.FieldSocket, l.SocketPath),
			logging.Error(err),
		)

		if pid, runErr := pidfile.ReadRunning(l.PIDPath); runErr == nil {
			logger.Debug("daemon is starting; waiting", logging.Int(logging.FieldPID, pid))
		} else {
			args := append([]string{DaemonCommand}, l.Args...)
			if err := spawn(l.Executable, args); err != nil {
				return nil, err
			}
			logger.Debug("daemon spawned", logging.Int("attempt", attempt))
		}
		sleep(backoff)
	}

	logging.WarnWithContext(logger, "daemon did not become reachable", "daemon_unreachable",
		logging.Int("attempts", attempts),
		logging.String(logging.FieldSocket, l.SocketPath),
		logging.Error(lastErr),
		logging.String(logging.FieldImpact, "command was not sent"),
		logging.String(logging.FieldErrorHint, "check the daemon log for startup errors"),
	)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrSpawnExhausted, attempts, lastErr)
}

// Launch starts a detached daemon process in its own session.
func Launch(executable string, args []string) error {
	if strings.TrimSpace(executable) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	proc := exec.Command(executable, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tsusu/internal/ipc"
	"tsusu/internal/logging"
	"tsusu/internal/pidfile"
	"tsusu/internal/rundir"
)

const (
	defaultRequestTimeout = 500 * time.Millisecond
	staleProbeTimeout     = 200 * time.Millisecond
)

// State is the daemon lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Daemon.
type Options struct {
	Paths rundir.Paths
	// Dispatcher answers requests. When nil a Router over Table is used.
	Dispatcher Dispatcher
	Table      ProcessTable
	Logger     *slog.Logger
	// RequestTimeout bounds each session; zero means 500ms.
	RequestTimeout time.Duration
}

// Daemon is the control-plane process: PID marker, control socket, signal
// handling, and the readiness loop that ties them together.
type Daemon struct {
	paths          rundir.Paths
	dispatcher     Dispatcher
	logger         *slog.Logger
	requestTimeout time.Duration

	state     atomic.Int32
	sessions  atomic.Uint64
	stopAsked atomic.Bool
	startedAt time.Time

	guard    *pidfile.Guard
	listener *ipc.Listener
	signals  atomic.Pointer[signalSource]
	poller   *poller

	ctx    context.Context
	cancel context.CancelFunc

	shutdownMu sync.Mutex
}

// New constructs a daemon in the Starting state. No resources are acquired
// until Start.
func New(opts Options) (*Daemon, error) {
	if strings.TrimSpace(opts.Paths.Dir) == "" || opts.Paths.Socket == "" || opts.Paths.PID == "" {
		return nil, errors.New("daemon requires runtime paths")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		paths:          opts.Paths,
		dispatcher:     opts.Dispatcher,
		logger:         logging.NewComponentLogger(logger, "daemon"),
		requestTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
	}
	if d.dispatcher == nil {
		d.dispatcher = NewRouter(opts.Table, d)
	}
	d.state.Store(int32(StateStarting))
	return d, nil
}

// Start creates the runtime directory, takes the PID marker, binds the
// control socket, and installs SIGINT/SIGTERM handling. On failure everything
// acquired so far is released and the daemon is Stopped.
func (d *Daemon) Start() error {
	if d.State() != StateStarting {
		return fmt.Errorf("daemon cannot start from state %s", d.State())
	}

	if err := d.paths.Ensure(); err != nil {
		d.abort()
		return err
	}

	guard, err := pidfile.Acquire(d.paths.PID)
	if err != nil {
		d.abort()
		return fmt.Errorf("acquire pid marker: %w", err)
	}

	listener, err := d.bind()
	if err != nil {
		guard.Release(d.logger)
		d.abort()
		return err
	}

	signals, err := newSignalSource(os.Interrupt, syscall.SIGTERM)
	if err != nil {
		_ = listener.Close()
		guard.Release(d.logger)
		d.abort()
		return err
	}

	d.guard = guard
	d.listener = listener
	d.signals.Store(signals)
	d.poller = newPoller(listener.Fd(), signals.Fd())
	d.startedAt = time.Now().UTC()
	d.state.Store(int32(StateRunning))

	d.logger.Info("tsusu daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int(logging.FieldPID, guard.PID()),
		logging.String(logging.FieldSocket, listener.Path()),
		logging.String(logging.FieldPIDPath, guard.Path()),
	)
	return nil
}

// bind binds the control socket. A path that is already bound is probed and
// unlinked only when nothing answers; the caller holds the PID marker lock, so
// no other daemon can be mid-startup on the same path.
func (d *Daemon) bind() (*ipc.Listener, error) {
	listener, err := ipc.Bind(d.paths.Socket)
	if err == nil {
		return listener, nil
	}
	if !errors.Is(err, ipc.ErrAddressInUse) {
		return nil, err
	}

	removed, probeErr := ipc.RemoveStale(d.paths.Socket, staleProbeTimeout)
	if probeErr != nil {
		logging.WarnWithContext(d.logger, "control socket probe failed", "socket_probe_failed",
			logging.String(logging.FieldSocket, d.paths.Socket),
			logging.Error(probeErr),
			logging.String(logging.FieldImpact, "daemon cannot start"),
			logging.String(logging.FieldErrorHint, "check whether another process owns the socket"),
		)
		return nil, err
	}
	if !removed {
		return nil, err
	}

	d.logger.Info("removed stale control socket",
		logging.String(logging.FieldEventType, "stale_socket_removed"),
		logging.String(logging.FieldSocket, d.paths.Socket),
	)
	return ipc.Bind(d.paths.Socket)
}

func (d *Daemon) abort() {
	d.cancel()
	d.state.Store(int32(StateStopped))
}

// Stop requests shutdown. It is safe to call from any goroutine and before
// Run; the loop performs the actual cleanup.
func (d *Daemon) Stop() {
	d.stopAsked.Store(true)
	if signals := d.signals.Load(); signals != nil {
		signals.requestStop()
	}
}

// Shutdown releases the control socket, the PID marker, and the signal
// source, in that order. Later calls are no-ops.
func (d *Daemon) Shutdown() error {
	d.shutdownMu.Lock()
	defer d.shutdownMu.Unlock()

	if d.State() == StateStopped {
		return nil
	}
	d.state.Store(int32(StateStopping))

	var errs []error
	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			logging.WarnWithContext(d.logger, "failed to close control socket", "socket_cleanup_failed",
				logging.String(logging.FieldSocket, d.listener.Path()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale control socket may block future starts"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"),
			)
			errs = append(errs, err)
		}
	}
	d.guard.Release(d.logger)
	if signals := d.signals.Load(); signals != nil {
		signals.close()
	}
	d.cancel()
	d.state.Store(int32(StateStopped))

	d.logger.Info("tsusu daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Uint64("sessions", d.sessions.Load()),
	)
	return errors.Join(errs...)
}

// State returns the current lifecycle phase.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// Sessions returns the number of connections served so far.
func (d *Daemon) Sessions() uint64 {
	return d.sessions.Load()
}

// Paths returns the daemon's runtime paths.
func (d *Daemon) Paths() rundir.Paths {
	return d.paths
}

// Status implements StatusReporter.
func (d *Daemon) Status() ipc.StatusInfo {
	return ipc.StatusInfo{
		PID:        os.Getpid(),
		StartedAt:  d.startedAt,
		SocketPath: d.paths.Socket,
		PIDPath:    d.paths.PID,
		Sessions:   d.sessions.Load(),
	}
}

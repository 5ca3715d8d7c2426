package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tsusu/internal/config"
	"tsusu/internal/daemon"
	"tsusu/internal/ipc"
	"tsusu/internal/logging"
	"tsusu/internal/pidfile"
	"tsusu/internal/rundir"
)

// SelfName is the process-table row describing the control plane itself.
const SelfName = "tsusu"

// Options configures daemon process runtime behavior.
type Options struct {
	// RuntimeDir overrides cfg.Paths.RuntimeDir and $XDG_RUNTIME_DIR.
	RuntimeDir string
	// LogLevel overrides cfg.Logging.Level.
	LogLevel string
	// Logger replaces the configured daemon logger.
	Logger *slog.Logger
}

// Run starts the daemon and blocks until it is stopped by SIGINT, SIGTERM, or
// cancellation of ctx. Startup failures are logged and returned; a normal
// stop returns nil.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		loggerCfg := *cfg
		if opts.LogLevel != "" {
			loggerCfg.Logging.Level = opts.LogLevel
		}
		var err error
		logger, err = logging.NewDaemonLogger(&loggerCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	override := opts.RuntimeDir
	if override == "" {
		override = cfg.Paths.RuntimeDir
	}
	paths, err := rundir.Resolve(override)
	if err != nil {
		logStartFailure(logger, err)
		return err
	}

	table := daemon.NewTable()
	d, err := daemon.New(daemon.Options{
		Paths:          paths,
		Table:          table,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		logStartFailure(logger, err)
		return err
	}

	table.Set(ipc.ProcessInfo{
		Name:  SelfName,
		PID:   os.Getpid(),
		State: "running",
		Since: time.Now().UTC(),
	})

	stop := context.AfterFunc(ctx, d.Stop)
	defer stop()

	if err := d.Run(); err != nil {
		logging.ErrorWithContext(logger, "daemon loop failed", "daemon_loop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the daemon with `tsusu`"),
		)
		return err
	}
	return nil
}

func logStartFailure(logger *slog.Logger, err error) {
	hint := "check the runtime directory permissions"
	switch {
	case errors.Is(err, pidfile.ErrLocked):
		hint = "another tsusu daemon is already running; use `tsusu stop` first"
	case errors.Is(err, ipc.ErrAddressInUse):
		hint = "another process owns the control socket"
	case errors.Is(err, rundir.ErrEnvironment):
		hint = "set XDG_RUNTIME_DIR or paths.runtime_dir"
	}
	logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
	)
}

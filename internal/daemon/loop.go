package daemon

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tsusu/internal/logging"
)

// Run drives the readiness loop until a signal or Stop moves the daemon to
// Stopping, then shuts down. It must be called after a successful Start, on
// the goroutine that owns the daemon.
func (d *Daemon) Run() error {
	if d.State() != StateRunning {
		return fmt.Errorf("daemon cannot run from state %s", d.State())
	}

	for d.State() == StateRunning {
		if d.stopAsked.Load() {
			d.state.Store(int32(StateStopping))
			break
		}

		ready, err := d.poller.wait()
		if err != nil {
			logging.ErrorWithContext(d.logger, "readiness wait failed", "poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the daemon"),
			)
			return errors.Join(err, d.Shutdown())
		}

		if ready.listener {
			d.acceptPending()
		}
		if ready.signal || d.signalRaised() {
			d.handleSignals()
		}
	}

	// Cleanup failures are logged by Shutdown; a requested stop still ends
	// cleanly.
	_ = d.Shutdown()
	return nil
}

func (d *Daemon) signalRaised() bool {
	signals := d.signals.Load()
	return signals != nil && signals.Raised()
}

// acceptPending serves queued connections until none is waiting or a signal
// arrives. A pending signal leaves the rest of the backlog for after the
// loop has handled it.
func (d *Daemon) acceptPending() {
	for !d.stopAsked.Load() && !d.signalRaised() {
		conn, err := d.listener.Accept()
		if err != nil {
			logging.WarnWithContext(d.logger, "accept failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a client connection was dropped"),
				logging.String(logging.FieldErrorHint, "check socket permissions and file descriptor limits"),
			)
			return
		}
		if conn == nil {
			return
		}
		d.sessions.Add(1)
		NewSession(uuid.NewString(), d.dispatcher, d.requestTimeout, d.logger).Handle(d.ctx, conn)
	}
}

func (d *Daemon) handleSignals() {
	signals := d.signals.Load()
	if signals == nil {
		return
	}
	for _, sig := range signals.drain() {
		d.logger.Info("shutdown requested",
			logging.String(logging.FieldEventType, "shutdown_requested"),
			logging.String("signal", sig.String()),
		)
	}
	d.state.Store(int32(StateStopping))
}

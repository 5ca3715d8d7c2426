package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"tsusu/internal/ipc"
	"tsusu/internal/logging"
)

// Session serves one accepted control connection: the greeting, then at most
// one request and its response.
type Session struct {
	id         string
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
}

// NewSession builds a session. timeout bounds the whole exchange.
func NewSession(id string, dispatcher Dispatcher, timeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		id:         id,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logging.NewComponentLogger(logger, "session").With(logging.String(logging.FieldSessionID, id)),
	}
}

// Handle runs the session and closes conn. Failures are logged, never
// propagated: one misbehaving client must not affect the daemon.
func (s *Session) Handle(ctx context.Context, conn net.Conn) {
	start := time.Now()
	err := s.serve(ctx, conn)
	if closeErr := conn.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close connection: %w", closeErr)
	}
	if err != nil {
		var decodeErr *ipc.DecodeError
		hint := "client disconnected early; retry the command"
		if errors.As(err, &decodeErr) {
			hint = "client sent a malformed frame; check the client version"
		}
		logging.WarnWithContext(s.logger, "control session dropped", "session_dropped",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldImpact, "client request was not answered"),
			logging.String(logging.FieldErrorHint, hint),
		)
		return
	}
	s.logger.Debug("control session finished", logging.Duration("elapsed", time.Since(start)))
}

func (s *Session) serve(ctx context.Context, conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if err := ipc.WriteGreeting(conn); err != nil {
		return err
	}

	req, err := ipc.ReadMessage(conn)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			// Greeting-only exchange.
			return nil
		}
		return err
	}
	if req.Type != ipc.MessageRequest {
		return &ipc.DecodeError{Reason: fmt.Sprintf("expected request, got %s", req.Type)}
	}

	s.logger.Debug("control request received",
		logging.String("command", req.Command),
		logging.Uint64("msg_id", uint64(req.ID)),
	)

	reqCtx, cancel := context.WithDeadline(ctx, time.Now().Add(s.timeout))
	defer cancel()
	resp := s.dispatcher.Dispatch(reqCtx, req)
	resp.ID = req.ID
	resp.Type = ipc.MessageResponse
	if resp.Command == "" {
		resp.Command = req.Command
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return ipc.WriteMessage(conn, resp)
}

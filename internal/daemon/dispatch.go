package daemon

import (
	"context"
	"fmt"

	"tsusu/internal/ipc"
)

// Dispatcher answers one decoded request. Implementations must always return
// a response; failures are reported through ipc.Fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ipc.Message) ipc.Message
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req ipc.Message) ipc.Message

func (f DispatcherFunc) Dispatch(ctx context.Context, req ipc.Message) ipc.Message {
	return f(ctx, req)
}

// ProcessTable exposes managed-process state to the control plane.
type ProcessTable interface {
	Snapshot() []ipc.ProcessInfo
}

// StatusReporter describes the running daemon.
type StatusReporter interface {
	Status() ipc.StatusInfo
}

// Router is the default Dispatcher. It serves ping, status, and list.
type Router struct {
	table  ProcessTable
	status StatusReporter
}

// NewRouter builds a Router over table and status. Either may be nil.
func NewRouter(table ProcessTable, status StatusReporter) *Router {
	return &Router{table: table, status: status}
}

func (r *Router) Dispatch(_ context.Context, req ipc.Message) ipc.Message {
	switch req.Command {
	case ipc.CommandPing:
		return r.reply(req, nil)
	case ipc.CommandStatus:
		if r.status == nil {
			return ipc.Fail(req, "status unavailable")
		}
		return r.reply(req, r.status.Status())
	case ipc.CommandList:
		rows := []ipc.ProcessInfo{}
		if r.table != nil {
			if snapshot := r.table.Snapshot(); snapshot != nil {
				rows = snapshot
			}
		}
		return r.reply(req, rows)
	default:
		return ipc.Fail(req, fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (r *Router) reply(req ipc.Message, data any) ipc.Message {
	resp, err := ipc.Reply(req, data)
	if err != nil {
		return ipc.Fail(req, err.Error())
	}
	return resp
}

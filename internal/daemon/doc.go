// Package daemon runs the tsusu control plane.
//
// A Daemon owns three resources for its lifetime: the runtime directory's PID
// marker (locked with flock), the non-blocking control socket, and a signal
// self-pipe. Start acquires them in that order and Shutdown releases them in
// reverse, so the socket file and PID marker disappear on every exit path.
//
// Run is a single-goroutine readiness loop. It blocks only in poll(2) on the
// listener and the signal pipe; accepted connections are served one at a time
// by a Session that writes the greeting and answers at most one request.
// Command handling is delegated to a Dispatcher; the default Router reads a
// ProcessTable that external collaborators keep current.
package daemon

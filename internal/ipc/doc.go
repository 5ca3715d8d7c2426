// Package ipc implements the daemon's control socket and wire protocol.
//
// The daemon side binds a non-blocking AF_UNIX stream socket whose descriptor
// is registered with the daemon's readiness multiplexer; Accept never blocks.
// Every accepted connection receives the literal greeting "HELO;" and may then
// carry one length-prefixed JSON request answered by one response.
//
// The client side (Dial, Client) is used by the CLI and by the connect-or-spawn
// launcher. Reuse the Message and DTO types when adding commands so both sides
// stay compatible.
package ipc

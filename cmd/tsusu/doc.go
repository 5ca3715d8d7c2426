// Package main hosts the tsusu CLI entrypoint and command graph.
//
// The same binary is both client and daemon. Invoked without arguments, or
// with `list`, it connects to the control socket and spawns a detached daemon
// (the hidden `_daemon` command) when none answers. `stop` and `status` work
// from the PID marker and never spawn.
//
// Keep this package lean: lifecycle logic lives in internal/daemonctl and
// internal/daemonrun; commands here resolve configuration and render output.
package main

// Package logging assembles the structured slog loggers used by the tsusu
// daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// attribute helpers that keep field names consistent across components. The
// daemon writes to stdout plus a log file; CLI commands write diagnostics to
// stderr so command output stays clean.
//
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging

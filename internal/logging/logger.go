package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"

	"tsusu/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Outputs lists "stdout", "stderr", or file paths. Duplicates are
	// opened once; an empty list means stdout.
	Outputs []string
	// Caller adds file:line to every line. Debug level always does.
	Caller bool
}

// New constructs a slog logger from opts.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	out, err := openOutputs(opts.Outputs)
	if err != nil {
		return nil, err
	}
	caller := opts.Caller || level <= slog.LevelDebug

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		handler = newConsoleHandler(out, level, caller, isTerminal(out))
	case "json":
		handler = newJSONHandler(out, level, caller)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(handler), nil
}

// NewDaemonLogger writes to stdout and, when a log directory is configured,
// appends to tsusu.log there. The file is what `tsusu logs` reads after the
// daemon has detached.
func NewDaemonLogger(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}
	outputs := []string{"stdout"}
	if path := cfg.DaemonLogPath(); path != "" {
		outputs = append(outputs, path)
	}
	return New(Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: outputs,
	})
}

// NewClientLogger builds the CLI logger. It writes to stderr only so command
// output on stdout stays clean.
func NewClientLogger(cfg *config.Config) (*slog.Logger, error) {
	opts := Options{Level: "warn", Format: "console", Outputs: []string{"stderr"}}
	if cfg != nil {
		opts.Level = cfg.Logging.Level
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutputs(outputs []string) (io.Writer, error) {
	var writers []io.Writer
	var opened []string
	for _, raw := range outputs {
		name := strings.TrimSpace(raw)
		if name == "" || slices.Contains(opened, name) {
			continue
		}
		opened = append(opened, name)

		switch name {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory for %s: %w", name, err)
			}
			file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", name, err)
			}
			writers = append(writers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

// isTerminal reports whether w is a single terminal. Multi-writers never get
// color so log files stay free of escape codes.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

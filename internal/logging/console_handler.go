package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05.000"

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiGray   = "\x1b[90m"
)

// consoleHandler renders one human-readable line per record:
//
//	2026-01-02 15:04:05.000 INFO  daemon: tsusu daemon started pid=4242 socket=/run/user/1000/tsusu/sock
//
// The component attribute becomes the line prefix instead of a key=value
// pair. Attributes added through With are rendered once and reused.
type consoleHandler struct {
	out    *syncWriter
	level  slog.Leveler
	caller bool
	color  bool

	component string
	group     string
	preset    []byte
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func newConsoleHandler(w io.Writer, level slog.Leveler, caller, color bool) *consoleHandler {
	return &consoleHandler{out: &syncWriter{w: w}, level: level, caller: caller, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	component := h.component
	var attrs []byte
	record.Attrs(func(attr slog.Attr) bool {
		if h.group == "" && attr.Key == FieldComponent && component == "" {
			component = attr.Value.Resolve().String()
			return true
		}
		attrs = appendAttr(attrs, h.group, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 128+len(h.preset)+len(attrs))
	buf = ts.Local().AppendFormat(buf, consoleTimeLayout)
	buf = append(buf, ' ')
	buf = h.appendLevel(buf, record.Level)
	if component != "" {
		buf = append(buf, ' ')
		buf = append(buf, component...)
		buf = append(buf, ':')
	}
	buf = append(buf, ' ')
	if msg := strings.TrimSpace(record.Message); msg != "" {
		buf = append(buf, msg...)
	} else {
		buf = append(buf, "(no message)"...)
	}
	if h.caller && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		buf = fmt.Appendf(buf, " (%s:%d)", filepath.Base(frame.File), frame.Line)
	}
	buf = append(buf, h.preset...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')
	return h.out.write(buf)
}

func (h *consoleHandler) appendLevel(buf []byte, level slog.Level) []byte {
	var label, color string
	switch {
	case level >= slog.LevelError:
		label, color = "ERROR", ansiRed
	case level >= slog.LevelWarn:
		label, color = "WARN ", ansiYellow
	case level >= slog.LevelInfo:
		label, color = "INFO ", ansiBlue
	default:
		label, color = "DEBUG", ansiGray
	}
	if !h.color {
		return append(buf, label...)
	}
	buf = append(buf, color...)
	buf = append(buf, label...)
	return append(buf, ansiReset...)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.preset = slices.Clip(h.preset)
	for _, attr := range attrs {
		if h.group == "" && attr.Key == FieldComponent {
			clone.component = attr.Value.Resolve().String()
			continue
		}
		clone.preset = appendAttr(clone.preset, h.group, attr)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.group + name + "."
	return &clone
}

func appendAttr(buf []byte, prefix string, attr slog.Attr) []byte {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return buf
	}
	if attr.Value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			prefix += attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			buf = appendAttr(buf, prefix, member)
		}
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, attr.Key...)
	buf = append(buf, '=')
	return appendValue(buf, attr.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().Local().AppendFormat(buf, consoleTimeLayout)
	}

	var s string
	if err, ok := v.Any().(error); ok {
		s = err.Error()
	} else if v.Kind() == slog.KindString {
		s = v.String()
	} else {
		s = fmt.Sprint(v.Any())
	}
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"' || r == 0x7f
	})
}

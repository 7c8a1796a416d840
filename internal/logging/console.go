package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO recording[rec-1#3]: chunk accepted offset=50000
//
// The component, session id, and chunk index are lifted into the prefix.
type consoleHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level

	component string
	session   string
	chunk     string
	group     string
	// pre holds attributes bound with WithAttrs, already rendered.
	pre []byte
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	line := *h
	var attrs []byte
	r.Attrs(func(a slog.Attr) bool {
		attrs = line.appendAttr(attrs, h.group, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf := make([]byte, 0, 128+len(h.pre)+len(attrs))
	buf = ts.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, levelLabel(r.Level)...)
	buf = append(buf, ' ')
	buf = line.appendPrefix(buf)

	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf = append(buf, msg...)
	if h.level <= slog.LevelDebug && r.PC != 0 {
		if src := r.Source(); src != nil {
			buf = fmt.Appendf(buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	buf = append(buf, h.pre...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		clone.pre = clone.appendAttr(clone.pre, h.group, a)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = joinKey(h.group, name)
	return &clone
}

func (h *consoleHandler) appendPrefix(buf []byte) []byte {
	if h.component == "" && h.session == "" {
		return buf
	}
	buf = append(buf, h.component...)
	if h.session != "" {
		buf = append(buf, '[')
		buf = append(buf, h.session...)
		if h.chunk != "" {
			buf = append(buf, '#')
			buf = append(buf, h.chunk...)
		}
		buf = append(buf, ']')
	}
	if h.component != "" {
		buf = append(buf, ':')
	}
	return append(buf, ' ')
}

// appendAttr renders a as " key=value". Prefix fields at the top level are
// captured on h instead of rendered; the first value wins.
func (h *consoleHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		next := group
		if a.Key != "" {
			next = joinKey(group, a.Key)
		}
		for _, child := range a.Value.Group() {
			buf = h.appendAttr(buf, next, child)
		}
		return buf
	}
	if group == "" {
		switch a.Key {
		case FieldComponent:
			if h.component == "" {
				h.component = plainValue(a.Value)
			}
			return buf
		case FieldSessionID:
			if h.session == "" {
				h.session = plainValue(a.Value)
			}
			return buf
		case FieldChunkIndex:
			if h.chunk == "" {
				h.chunk = plainValue(a.Value)
			}
			return buf
		}
	}
	buf = append(buf, ' ')
	buf = append(buf, joinKey(group, a.Key)...)
	buf = append(buf, '=')
	return append(buf, quoteIfNeeded(plainValue(a.Value))...)
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	if key == "" {
		return group
	}
	return group + "." + key
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

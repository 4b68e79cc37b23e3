package lgr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// prettyHandler writes one colored line per record: time, level, message and key=value attrs.
type prettyHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string

	debug *color.Color
	info  *color.Color
	warn  *color.Color
	err   *color.Color
	key   *color.Color
}

func newPrettyHandler(w io.Writer, level slog.Leveler, useColor bool) *prettyHandler {
	h := &prettyHandler{
		w:     w,
		mu:    &sync.Mutex{},
		level: level,
		debug: color.New(color.FgMagenta),
		info:  color.New(color.FgCyan),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
		key:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{h.debug, h.info, h.warn, h.err, h.key} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format("15:04:05.000"))
	buf.WriteByte(' ')
	buf.WriteString(h.levelColor(r.Level).Sprintf("%-5s", r.Level.String()))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	var traces []string
	for _, a := range h.attrs {
		traces = h.appendAttr(&buf, "", a, traces)
	}
	r.Attrs(func(a slog.Attr) bool {
		traces = h.appendAttr(&buf, prefix, a, traces)
		return true
	})
	buf.WriteByte('\n')

	for _, line := range traces {
		buf.WriteString("    ")
		buf.WriteString(h.key.Sprint(line))
		buf.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr, traces []string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return traces
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			traces = h.appendAttr(buf, key, ga, traces)
		}
		return traces
	}

	if err, ok := a.Value.Any().(error); ok && a.Value.Kind() == slog.KindAny {
		fmt.Fprintf(buf, " %s=%q", h.key.Sprint(key), err.Error())
		for _, f := range marshalStack(err) {
			traces = append(traces, fmt.Sprintf("%s (%s:%d)", f.Func, f.Source, f.Line))
		}
		return traces
	}

	val := a.Value.String()
	if strings.ContainsAny(val, " \t\"=") {
		val = fmt.Sprintf("%q", val)
	}
	fmt.Fprintf(buf, " %s=%s", h.key.Sprint(key), val)
	return traces
}

func (h *prettyHandler) levelColor(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return h.err
	case level >= slog.LevelWarn:
		return h.warn
	case level >= slog.LevelInfo:
		return h.info
	default:
		return h.debug
	}
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	clone := *h
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

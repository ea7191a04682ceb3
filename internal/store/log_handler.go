package store

import (
	"context"
	"log/slog"
)

// LogHandler wraps another slog.Handler and mirrors warning-and-above
// records into the logs table, so the persisted audit trail actually
// survives a process restart instead of living only in stdout/stderr.
// Lower levels pass through to next without touching the database, keeping
// debug-level noise out of sqlite.
type LogHandler struct {
	next  slog.Handler
	store *Store
	attrs []slog.Attr
}

// NewLogHandler wraps next so its records are mirrored to store.
func NewLogHandler(store *Store, next slog.Handler) *LogHandler {
	return &LogHandler{next: next, store: store}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		component := ""
		for _, a := range h.attrs {
			if a.Key == "component" {
				component = a.Value.String()
			}
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
			}
			return true
		})
		h.store.RecordLog(r.Level.String(), component, r.Message, r.Time)
	}
	return h.next.Handle(ctx, r)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LogHandler{next: h.next.WithAttrs(attrs), store: h.store, attrs: merged}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{next: h.next.WithGroup(name), store: h.store, attrs: h.attrs}
}

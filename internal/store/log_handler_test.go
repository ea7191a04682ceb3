package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLogHandlerMirrorsWarnAndAboveOnly(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	defer s.Close()

	handler := NewLogHandler(s, slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(handler).With("component", "risk")

	logger.Info("signal rejected")
	logger.Warn("breaker tripped")
	logger.Error("submit order failed")

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 2 {
		t.Errorf("log count = %d, want 2 (info should not be mirrored)", count)
	}

	var component, message string
	row := s.db.QueryRow("SELECT component, message FROM logs ORDER BY id ASC LIMIT 1")
	if err := row.Scan(&component, &message); err != nil {
		t.Fatalf("scan first log row: %v", err)
	}
	if component != "risk" {
		t.Errorf("component = %q, want risk", component)
	}
	if message != "breaker tripped" {
		t.Errorf("message = %q, want \"breaker tripped\"", message)
	}
}

func TestLogHandlerEnabledDelegatesToNext(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	defer s.Close()

	next := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	handler := NewLogHandler(s, next)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info disabled when next handler's minimum level is error")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error enabled")
	}
}

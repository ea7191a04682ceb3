package notify

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"predmarket-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDisabledNotifierNeverDials(t *testing.T) {
	t.Parallel()
	n := New(Config{Enabled: false, Host: "127.0.0.1", Port: 1}, testLogger())

	// Port 1 refuses connections; a real send would error. Disabled should
	// short-circuit before ever touching the network.
	n.BreakerTripped(types.BreakerDailyLoss, "test")
	n.StreamDisconnected(0)
	n.PositionOpened(types.Position{ID: uuid.New(), Ticker: "TICKER-1"})
	n.PositionClosed(types.Position{ID: uuid.New(), Ticker: "TICKER-1"})
	n.DailySummary(types.Account{})
}

func TestBuildMessageIncludesHeadersAndBody(t *testing.T) {
	t.Parallel()
	msg := string(buildMessage("bot@example.com", "user@example.com", "subject line", "body text"))

	for _, want := range []string{"From: bot@example.com", "To: user@example.com", "Subject: subject line", "body text"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

// Package notify sends outbound email notifications for the user-visible
// events that warrant interrupting someone: a breaker trip, a stream
// disconnect past threshold, a position opening or closing, and the daily
// summary.
package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"predmarket-trader/pkg/types"
)

// Config carries SMTP connection details and the notification recipient.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Notifier sends plain-text emails over net/smtp. Disabled configs make
// every method a no-op, so callers never need to branch on Config.Enabled
// themselves.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Notifier from an SMTP config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{cfg: cfg, logger: logger.With("component", "notify")}
}

// BreakerTripped notifies that a circuit breaker fired, suppressing new
// entries until reset.
func (n *Notifier) BreakerTripped(kind types.BreakerKind, reason string) {
	n.send(fmt.Sprintf("circuit breaker tripped: %s", kind),
		fmt.Sprintf("Breaker %s tripped at %s.\nReason: %s", kind, time.Now().UTC().Format(time.RFC3339), reason))
}

// StreamDisconnected notifies that the stream has been silent past the
// force-exit threshold.
func (n *Notifier) StreamDisconnected(silentFor time.Duration) {
	n.send("stream disconnected",
		fmt.Sprintf("No stream messages received for %s. All open positions are being force-exited.", silentFor))
}

// PositionOpened notifies that a new position entered.
func (n *Notifier) PositionOpened(pos types.Position) {
	n.send(fmt.Sprintf("position opened: %s", pos.Ticker),
		fmt.Sprintf("Ticker: %s\nEntry price: %s\nSize: %s", pos.Ticker, pos.EntryPrice, pos.Size))
}

// PositionClosed notifies that a position closed, with its realized P&L.
func (n *Notifier) PositionClosed(pos types.Position) {
	n.send(fmt.Sprintf("position closed: %s (%s)", pos.Ticker, pos.ExitReason),
		fmt.Sprintf("Ticker: %s\nExit price: %s\nRealized P&L: %s\nReason: %s", pos.Ticker, pos.ExitPrice, pos.RealizedPnL, pos.ExitReason))
}

// DailySummary notifies the end-of-day account state.
func (n *Notifier) DailySummary(acct types.Account) {
	n.send("daily summary",
		fmt.Sprintf("Daily P&L: %s\nTrades: %d (wins %d, losses %d)\nCurrent balance: %s",
			acct.DailyPnL, acct.DailyTrades, acct.DailyWins, acct.DailyLosses, acct.CurrentBalance))
}

func (n *Notifier) send(subject, body string) {
	if !n.cfg.Enabled {
		return
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	msg := buildMessage(n.cfg.From, n.cfg.To, subject, body)

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, msg); err != nil {
		n.logger.Error("send email failed", "subject", subject, "error", err)
	}
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

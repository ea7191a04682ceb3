// Package risk is the pre-trade validation gate and the four independent
// circuit breakers that can suppress new entries while letting existing
// positions resolve through their resting exits: daily loss, consecutive
// losses, API error rate, and stream disconnect.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/internal/notify"
	"predmarket-trader/pkg/types"
)

const breakerCheckInterval = 10 * time.Second

// StreamAgeFunc reports how long it has been since the stream last
// delivered a message, polled on every periodic tick to drive the
// disconnect breaker independently of the stream client's own reconnect
// watchdog.
type StreamAgeFunc func() time.Duration

// ForceExitSignal tells the engine orchestrator to instruct Executor to
// emergency-exit every open position. Fired at most once per disconnect
// episode.
type ForceExitSignal struct {
	Reason    string
	DecidedAt time.Time
}

// Config carries the thresholds Manager evaluates against: the RiskConfig
// limits plus the two StrategyConfig sizing fields the pre-trade gate also
// checks. Kept separate from internal/config so this package has no
// dependency on it, mirroring market.FilterConfig.
type Config struct {
	MaxExposurePct       decimal.Decimal
	MaxPositions         int
	MaxPositionPct       decimal.Decimal
	MinPositionDollars   decimal.Decimal
	DailyLossLimit       decimal.Decimal
	MaxConsecutiveLosses int
	APIErrorRateLimit    decimal.Decimal
	StreamSilenceS       time.Duration
	StreamForceExitS     time.Duration
}

var (
	minEntryPrice   = decimal.NewFromFloat(0.01)
	maxEntryPrice   = decimal.NewFromFloat(0.95)
	slippageFactor  = decimal.NewFromFloat(1.02)
	minRiskReward   = decimal.NewFromFloat(2.0)
)

// Manager is the RiskManager: ValidateSignal is called synchronously by
// Executor for every candidate entry; Run drives the periodic stream-health
// check that the other three breakers don't need (they update on their own
// event: a closed REST call, a closed trade, an account snapshot).
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	breakers  *Breakers
	streamAge StreamAgeFunc
	notifier  *notify.Notifier

	mu             sync.Mutex
	forceExitFired bool

	forceExitCh chan ForceExitSignal
}

// NewManager creates a risk manager. streamAge may be nil in tests that
// don't exercise the disconnect breaker. notifier may be nil; fireForceExit
// skips the email in that case.
func NewManager(cfg Config, streamAge StreamAgeFunc, notifier *notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "risk"),
		breakers:    newBreakers(),
		streamAge:   streamAge,
		notifier:    notifier,
		forceExitCh: make(chan ForceExitSignal, 1),
	}
}

// ForceExitSignals returns the channel the engine orchestrator reads to
// learn when to emergency-exit all open positions.
func (m *Manager) ForceExitSignals() <-chan ForceExitSignal { return m.forceExitCh }

// Run drives the periodic stream-health check. Blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(breakerCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkStreamHealth()
		}
	}
}

func (m *Manager) checkStreamHealth() {
	if m.streamAge == nil {
		return
	}
	age := m.streamAge()

	if age == 0 || age <= m.cfg.StreamSilenceS {
		m.breakers.reset(types.BreakerStreamDisconnect)
		m.clearForceExit()
		return
	}

	m.breakers.trip(types.BreakerStreamDisconnect, fmt.Sprintf("stream silent for %s", age.Round(time.Second)))

	if age > m.cfg.StreamForceExitS {
		m.fireForceExit(fmt.Sprintf("stream silent for %s, exceeds force-exit threshold", age.Round(time.Second)), age)
	}
}

func (m *Manager) fireForceExit(reason string, silentFor time.Duration) {
	m.mu.Lock()
	if m.forceExitFired {
		m.mu.Unlock()
		return
	}
	m.forceExitFired = true
	m.mu.Unlock()

	m.logger.Error("stream force-exit threshold crossed", "reason", reason)
	if m.notifier != nil {
		m.notifier.StreamDisconnected(silentFor)
	}
	select {
	case m.forceExitCh <- ForceExitSignal{Reason: reason, DecidedAt: time.Now()}:
	default:
	}
}

func (m *Manager) clearForceExit() {
	m.mu.Lock()
	m.forceExitFired = false
	m.mu.Unlock()
}

// ReportAPIResult folds one REST call outcome into the trailing-100 error
// window, tripping the API error rate breaker at the configured threshold.
func (m *Manager) ReportAPIResult(isError bool) {
	rate, _ := m.cfg.APIErrorRateLimit.Float64()
	m.breakers.recordAPIResult(isError, rate)
}

// ReportTradeClose folds one closed position's outcome into the
// consecutive-loss counter, tripping the breaker on the Nth loss in a row
// and resetting it on the next win.
func (m *Manager) ReportTradeClose(won bool) {
	m.breakers.recordTradeClose(won, m.cfg.MaxConsecutiveLosses)
}

// UpdateDailyPnL re-evaluates the daily loss breaker against the current
// account snapshot. Not sticky: once daily_pnl recovers above the
// threshold — in practice, once Account resets its daily counters at UTC
// midnight — the breaker clears on the next call.
func (m *Manager) UpdateDailyPnL(dailyPnL, dailyStartingBalance decimal.Decimal) {
	if dailyStartingBalance.IsZero() {
		return
	}
	limit := dailyStartingBalance.Mul(m.cfg.DailyLossLimit).Neg()
	if dailyPnL.LessThanOrEqual(limit) {
		m.breakers.trip(types.BreakerDailyLoss, "daily loss limit breached")
	} else {
		m.breakers.reset(types.BreakerDailyLoss)
	}
}

// Snapshot returns the current aggregate breaker state for the control
// surface.
func (m *Manager) Snapshot() types.CircuitBreakerState {
	return m.breakers.snapshot()
}

// ResetBreaker clears a specific breaker manually, used for the API error
// rate breaker's manual-reset-only policy.
func (m *Manager) ResetBreaker(kind types.BreakerKind) {
	m.breakers.reset(kind)
}

// ValidateSignal applies every pre-trade gate in order, returning the first
// violated reason. A nil return means the signal is admissible.
func (m *Manager) ValidateSignal(sig types.Signal, acct types.Account, openPositions int, bestAsk decimal.Decimal) error {
	if state := m.breakers.snapshot(); state.Active {
		return fmt.Errorf("circuit breaker active: %s (%s)", state.Kind, state.Reason)
	}
	if acct.AvailableBalance.LessThan(sig.Size) {
		return fmt.Errorf("insufficient available balance")
	}
	if openPositions >= m.cfg.MaxPositions {
		return fmt.Errorf("max open positions reached")
	}

	maxExposure := acct.CurrentBalance.Mul(m.cfg.MaxExposurePct)
	if acct.TotalExposure.Add(sig.Size).GreaterThan(maxExposure) {
		return fmt.Errorf("total exposure limit exceeded")
	}

	maxPosition := acct.CurrentBalance.Mul(m.cfg.MaxPositionPct)
	if sig.Size.GreaterThan(maxPosition) {
		return fmt.Errorf("position size exceeds max_position_pct")
	}
	if sig.Size.LessThan(m.cfg.MinPositionDollars) {
		return fmt.Errorf("position size below min_position_dollars")
	}

	if sig.EntryPrice.LessThan(minEntryPrice) || sig.EntryPrice.GreaterThan(maxEntryPrice) {
		return fmt.Errorf("entry price outside [0.01, 0.95]")
	}
	if sig.EntryPrice.GreaterThan(bestAsk.Mul(slippageFactor)) {
		return fmt.Errorf("entry price exceeds slippage cap")
	}

	if sig.RiskReward().LessThan(minRiskReward) {
		return fmt.Errorf("risk_reward below minimum")
	}

	return nil
}

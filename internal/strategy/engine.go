// Package strategy turns market updates into entry Signals and open
// positions into exit decisions. Engine has two triggers: an on-update
// check against Filter, and a periodic pass over open positions that
// detects timeouts and approaching market close. Price-based exits (stop
// loss / take profit) are resting venue orders and are never decided here
// — they surface as Fill events handled by the executor.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/internal/market"
	"predmarket-trader/pkg/types"
)

// OpenPositionView is the minimal read the engine needs from PositionTracker
// to evaluate periodic exit conditions, without importing that package
// directly (it would create an import cycle, since position references
// strategy-adjacent exit reasons).
type OpenPositionView struct {
	PositionID string
	Ticker     string
	EnteredAt  time.Time
}

// SizingFunc computes the dollar notional for a new entry, supplied by
// Account (half-Kelly sizing, §4.12).
type SizingFunc func(ticker string, entryPrice decimal.Decimal) decimal.Decimal

// HasOpenOrExposureFunc reports whether a ticker already has an open
// position or a pending entry order, so the engine never double-enters.
type HasOpenOrExposureFunc func(ticker string) bool

// Config tunes signal generation and periodic exit evaluation.
type Config struct {
	Filter       market.FilterConfig
	StopLossPct  decimal.Decimal
	ProfitTargetPct decimal.Decimal
	MaxHold      time.Duration
	CloseBuffer  time.Duration
	EvalInterval time.Duration
}

// Engine is the StrategyEngine: it reads MarketUpdate events and emits
// Signals, and on a fixed interval scans open positions for TIMEOUT and
// MARKET_CLOSED exits.
type Engine struct {
	store  *market.Store
	cfg    Config
	size   SizingFunc
	hasOpen HasOpenOrExposureFunc

	history *History

	signalCh chan types.Signal
	exitCh   chan types.ExitDecision

	openPositions func() []OpenPositionView

	logger *slog.Logger
}

// NewEngine creates a strategy engine bound to a market store and sizing
// function. openPositions is polled on every periodic tick to evaluate
// timeouts; it is supplied by the engine package's orchestrator, which owns
// PositionTracker.
func NewEngine(store *market.Store, cfg Config, size SizingFunc, hasOpen HasOpenOrExposureFunc, openPositions func() []OpenPositionView, logger *slog.Logger) *Engine {
	return &Engine{
		store:         store,
		cfg:           cfg,
		size:          size,
		hasOpen:       hasOpen,
		history:       NewHistory(200),
		signalCh:      make(chan types.Signal, 32),
		exitCh:        make(chan types.ExitDecision, 32),
		openPositions: openPositions,
		logger:        logger.With("component", "strategy"),
	}
}

// Signals returns the channel of generated entry signals.
func (e *Engine) Signals() <-chan types.Signal { return e.signalCh }

// ExitDecisions returns the channel of periodic exit decisions.
func (e *Engine) ExitDecisions() <-chan types.ExitDecision { return e.exitCh }

// History returns the recent-signal ring buffer, read by the control
// surface's "last N signals" endpoint.
func (e *Engine) History() *History { return e.history }

// Run drives both triggers. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	evalInterval := e.cfg.EvalInterval
	if evalInterval <= 0 {
		evalInterval = 3 * time.Second
	}
	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-e.store.Updates():
			e.onMarketUpdate(update)
		case <-ticker.C:
			e.evaluateExits()
		}
	}
}

func (e *Engine) onMarketUpdate(update types.MarketUpdate) {
	m, ok := e.store.Get(update.Ticker)
	if !ok {
		return
	}
	if e.hasOpen(update.Ticker) {
		return
	}
	if !market.Passes(m, e.cfg.Filter) {
		return
	}

	entry := m.BestAsk
	size := e.size(update.Ticker, entry)
	signal := types.Signal{
		Ticker:          update.Ticker,
		EntryPrice:      entry,
		Size:            size,
		StopLossPrice:   entry.Mul(decimal.NewFromInt(1).Sub(e.cfg.StopLossPct)),
		TakeProfitPrice: entry.Mul(decimal.NewFromInt(1).Add(e.cfg.ProfitTargetPct)),
		Confidence:      clip01(m.BestBid),
		CreatedAt:       update.At,
	}

	e.history.Record(signal)
	send(e.signalCh, signal, e.logger)
}

func (e *Engine) evaluateExits() {
	now := time.Now()
	for _, pos := range e.openPositions() {
		m, ok := e.store.Get(pos.Ticker)
		if !ok {
			continue
		}
		switch {
		case e.cfg.MaxHold > 0 && now.Sub(pos.EnteredAt) >= e.cfg.MaxHold:
			send(e.exitCh, types.ExitDecision{PositionID: pos.PositionID, Ticker: pos.Ticker, Reason: types.ExitTimeout, DecidedAt: now}, e.logger)
		case !m.EndTime.IsZero() && m.EndTime.Sub(now) <= e.cfg.CloseBuffer:
			send(e.exitCh, types.ExitDecision{PositionID: pos.PositionID, Ticker: pos.Ticker, Reason: types.ExitMarketClosed, DecidedAt: now}, e.logger)
		}
	}
}

func clip01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

func send[T any](ch chan T, v T, logger *slog.Logger) {
	select {
	case ch <- v:
	default:
		logger.Warn("strategy output channel full, dropping event")
	}
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predmarket-trader/internal/account"
	"predmarket-trader/internal/executor"
	"predmarket-trader/internal/market"
	"predmarket-trader/internal/notify"
	"predmarket-trader/internal/order"
	"predmarket-trader/internal/position"
	"predmarket-trader/internal/risk"
	"predmarket-trader/internal/strategy"
	"predmarket-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct{}

func (fakeVenue) SubmitOrder(ctx context.Context, clientID, ticker string, side types.Side, priceCents, count int64) (string, error) {
	return "venue-1", nil
}

func (fakeVenue) CancelOrder(ctx context.Context, venueID string) error { return nil }

// newTestEngine builds an Engine by hand, the way executor_test.go builds an
// Executor, so tests never dial the venue New() would hit.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := testLogger()

	marketStore := market.NewStore()
	orderMgr := order.NewManager(logger)
	positions := position.NewTracker()
	acct := account.NewAccount(decimal.NewFromInt(10000))

	riskCfg := risk.Config{
		MaxExposurePct:       decimal.NewFromFloat(0.5),
		MaxPositions:         5,
		MaxPositionPct:       decimal.NewFromFloat(0.1),
		MinPositionDollars:   decimal.NewFromInt(10),
		DailyLossLimit:       decimal.NewFromFloat(0.1),
		MaxConsecutiveLosses: 5,
		APIErrorRateLimit:    decimal.NewFromFloat(0.5),
		StreamSilenceS:       30 * time.Second,
		StreamForceExitS:     120 * time.Second,
	}
	riskMgr := risk.NewManager(riskCfg, nil, nil, logger)

	strategyCfg := strategy.Config{
		Filter: market.FilterConfig{
			EntryThreshold: decimal.NewFromFloat(0.5),
			MinLiquidity:   decimal.NewFromInt(100),
			MinVolume:      decimal.NewFromInt(100),
			MaxSpread:      decimal.NewFromFloat(0.05),
			ProfitTarget:   decimal.NewFromFloat(0.1),
		},
		StopLossPct:     decimal.NewFromFloat(0.02),
		ProfitTargetPct: decimal.NewFromFloat(0.1),
		MaxHold:         time.Hour,
		CloseBuffer:     5 * time.Minute,
		EvalInterval:    time.Second,
	}
	sizing := func(ticker string, entryPrice decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(100) }
	hasOpen := func(ticker string) bool { return positions.HasOpen(ticker) }
	openView := func() []strategy.OpenPositionView { return nil }
	strategyEng := strategy.NewEngine(marketStore, strategyCfg, sizing, hasOpen, openView, logger)

	venue := fakeVenue{}
	exec := executor.NewExecutor(venue, orderMgr, positions, acct, riskMgr, marketStore, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		marketStore: marketStore,
		strategyEng: strategyEng,
		riskMgr:     riskMgr,
		orderMgr:    orderMgr,
		positions:   positions,
		acct:        acct,
		exec:        exec,
		venue:       venue,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func TestPauseAndResumeToggleState(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if e.isPaused() {
		t.Fatal("new engine should not start paused")
	}
	e.Pause()
	if !e.isPaused() {
		t.Error("expected paused after Pause()")
	}
	e.Resume()
	if e.isPaused() {
		t.Error("expected not paused after Resume()")
	}
}

func TestGatedSignalsDropsWhenPaused(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	out := e.gatedSignals()
	e.Pause()

	select {
	case e.strategyEng.Signals() <- types.Signal{Ticker: "TICKER-1"}:
	case <-time.After(time.Second):
		t.Fatal("timed out sending to strategy signal channel")
	}

	select {
	case <-out:
		t.Fatal("signal should have been dropped while paused")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGatedSignalsForwardsWhenRunning(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	out := e.gatedSignals()

	select {
	case e.strategyEng.Signals() <- types.Signal{Ticker: "TICKER-1"}:
	case <-time.After(time.Second):
		t.Fatal("timed out sending to strategy signal channel")
	}

	select {
	case sig := <-out:
		if sig.Ticker != "TICKER-1" {
			t.Errorf("ticker = %q, want TICKER-1", sig.Ticker)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded signal")
	}
}

func TestAccountSnapshotDelegatesToAccount(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	snap := e.AccountSnapshot()
	if !snap.CurrentBalance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("current_balance = %s, want 10000", snap.CurrentBalance)
	}
}

func TestPositionsReflectsTracker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	if len(e.Positions()) != 0 {
		t.Errorf("expected no open positions, got %d", len(e.Positions()))
	}
}

func TestBreakerSnapshotReflectsRiskManager(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	state := e.BreakerSnapshot()
	if state.Active {
		t.Error("expected no breaker active on a fresh risk manager")
	}
}

func TestEmergencyStopForceExitsAllOpenPositions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()

	e.marketStore.SeedMarket("TICKER-1", true, time.Now().Add(time.Hour))
	posID := uuid.New()
	if err := e.positions.Open(types.Position{
		ID:         posID,
		Ticker:     "TICKER-1",
		EntryPrice: decimal.NewFromFloat(0.5),
		Size:       decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.positions.MarkEntered(posID, decimal.NewFromFloat(0.5), decimal.NewFromInt(100)); err != nil {
		t.Fatalf("MarkEntered: %v", err)
	}

	e.EmergencyStop()

	pos, ok := e.positions.GetByTicker("TICKER-1")
	if !ok {
		t.Fatal("expected position to still be tracked mid-exit")
	}
	if pos.Status != types.PositionExiting {
		t.Errorf("status = %v, want PositionExiting", pos.Status)
	}
}

func TestCheckBreakerTrippedTracksRisingEdge(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	defer e.cancel()
	e.notifier = notify.New(notify.Config{Enabled: false}, testLogger())

	if e.breakerWasOn {
		t.Fatal("fresh engine should start with breakerWasOn false")
	}

	e.checkBreakerTripped()
	if e.breakerWasOn {
		t.Fatal("breakerWasOn should stay false while no breaker is active")
	}

	for i := 0; i < 5; i++ {
		e.riskMgr.ReportTradeClose(false)
	}
	e.checkBreakerTripped()
	if !e.breakerWasOn {
		t.Error("expected breakerWasOn true after the consecutive-loss breaker trips")
	}
}

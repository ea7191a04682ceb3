package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testConfig() Config {
	return Config{
		MaxExposurePct:       dec("0.30"),
		MaxPositions:         5,
		MaxPositionPct:       dec("0.10"),
		MinPositionDollars:   dec("50"),
		DailyLossLimit:       dec("0.05"),
		MaxConsecutiveLosses: 5,
		APIErrorRateLimit:    dec("0.10"),
		StreamSilenceS:       15 * time.Second,
		StreamForceExitS:     30 * time.Second,
	}
}

func baseAccount() types.Account {
	return types.Account{
		CurrentBalance:       dec("10000"),
		AvailableBalance:     dec("10000"),
		TotalExposure:        dec("0"),
		DailyStartingBalance: dec("10000"),
	}
}

func baseSignal() types.Signal {
	return types.Signal{
		Ticker:          "TICKER-1",
		EntryPrice:      dec("0.60"),
		Size:            dec("500"),
		StopLossPrice:   dec("0.54"),
		TakeProfitPrice: dec("0.72"),
	}
}

func TestValidateSignalAdmitsWithinLimits(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	if err := m.ValidateSignal(baseSignal(), baseAccount(), 0, dec("0.60")); err != nil {
		t.Errorf("expected admission, got %v", err)
	}
}

func TestValidateSignalRejectsInsufficientBalance(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	acct := baseAccount()
	acct.AvailableBalance = dec("100")
	if err := m.ValidateSignal(baseSignal(), acct, 0, dec("0.60")); err == nil {
		t.Error("expected rejection for insufficient available balance")
	}
}

func TestValidateSignalRejectsMaxPositions(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	if err := m.ValidateSignal(baseSignal(), baseAccount(), 5, dec("0.60")); err == nil {
		t.Error("expected rejection at max_positions")
	}
}

func TestValidateSignalRejectsExposureLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	acct := baseAccount()
	acct.TotalExposure = dec("2900")
	if err := m.ValidateSignal(baseSignal(), acct, 0, dec("0.60")); err == nil {
		t.Error("expected rejection: 2900+500 > 0.30*10000")
	}
}

func TestValidateSignalRejectsOversizedPosition(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	sig := baseSignal()
	sig.Size = dec("1500") // > 0.10 * 10000
	if err := m.ValidateSignal(sig, baseAccount(), 0, dec("0.60")); err == nil {
		t.Error("expected rejection above max_position_pct")
	}
}

func TestValidateSignalRejectsBelowMinDollars(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	sig := baseSignal()
	sig.Size = dec("10")
	if err := m.ValidateSignal(sig, baseAccount(), 0, dec("0.60")); err == nil {
		t.Error("expected rejection below min_position_dollars")
	}
}

func TestValidateSignalRejectsEntryPriceOutOfBounds(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	sig := baseSignal()
	sig.EntryPrice = dec("0.97")
	sig.TakeProfitPrice = dec("0.99")
	if err := m.ValidateSignal(sig, baseAccount(), 0, dec("0.97")); err == nil {
		t.Error("expected rejection: entry above 0.95")
	}
}

func TestValidateSignalRejectsSlippageCap(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	sig := baseSignal()
	sig.EntryPrice = dec("0.70")
	if err := m.ValidateSignal(sig, baseAccount(), 0, dec("0.60")); err == nil {
		t.Error("expected rejection: entry 0.70 > 1.02*0.60")
	}
}

func TestValidateSignalRejectsLowRiskReward(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	sig := baseSignal()
	sig.TakeProfitPrice = dec("0.62") // rr = (0.62-0.60)/(0.60-0.54) = 0.33
	if err := m.ValidateSignal(sig, baseAccount(), 0, dec("0.60")); err == nil {
		t.Error("expected rejection: risk_reward below 2.0")
	}
}

func TestValidateSignalRejectsWhenBreakerActive(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())
	m.breakers.trip(types.BreakerDailyLoss, "test")
	if err := m.ValidateSignal(baseSignal(), baseAccount(), 0, dec("0.60")); err == nil {
		t.Error("expected rejection while a breaker is active")
	}
}

func TestUpdateDailyPnLTripsAndResets(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())

	m.UpdateDailyPnL(dec("-600"), dec("10000")) // -6% < -5%
	if !m.Snapshot().Active {
		t.Fatal("expected daily loss breaker to trip at -6%")
	}

	m.UpdateDailyPnL(dec("-100"), dec("10000")) // recovers above threshold
	if m.Snapshot().Active {
		t.Error("expected daily loss breaker to clear once pnl recovers")
	}
}

func TestReportTradeCloseTripsOnConsecutiveLosses(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())

	for i := 0; i < 4; i++ {
		m.ReportTradeClose(false)
	}
	if m.Snapshot().Active {
		t.Fatal("4 losses should not yet trip the 5-loss breaker")
	}
	m.ReportTradeClose(false)
	if !m.Snapshot().Active {
		t.Fatal("5th consecutive loss should trip the breaker")
	}

	m.ReportTradeClose(true)
	if m.Snapshot().Active {
		t.Error("a winning close should reset the consecutive-loss breaker")
	}
}

func TestReportAPIResultTripsAtErrorRate(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig(), nil, nil, testLogger())

	for i := 0; i < 9; i++ {
		m.ReportAPIResult(false)
	}
	m.ReportAPIResult(true) // 1/10 = 10% >= limit
	if !m.Snapshot().Active {
		t.Fatal("expected API error rate breaker to trip at 10%")
	}
}

func TestCheckStreamHealthTripsAndFiresForceExit(t *testing.T) {
	t.Parallel()
	age := 40 * time.Second
	m := NewManager(testConfig(), func() time.Duration { return age }, nil, testLogger())

	m.checkStreamHealth()
	if !m.Snapshot().Active {
		t.Fatal("expected stream disconnect breaker to trip past silence threshold")
	}

	select {
	case sig := <-m.ForceExitSignals():
		if sig.Reason == "" {
			t.Error("expected a non-empty force-exit reason")
		}
	default:
		t.Fatal("expected a force-exit signal past the force-exit threshold")
	}
}

func TestCheckStreamHealthClearsOnFreshMessage(t *testing.T) {
	t.Parallel()
	age := time.Duration(0)
	m := NewManager(testConfig(), func() time.Duration { return age }, nil, testLogger())
	m.breakers.trip(types.BreakerStreamDisconnect, "stale")

	m.checkStreamHealth()
	if m.Snapshot().Active {
		t.Error("expected stream disconnect breaker to clear with a fresh message")
	}
}

package market

import (
	"testing"

	"predmarket-trader/pkg/types"
)

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		EntryThreshold: dec("0.85"),
		MinLiquidity:   dec("500"),
		MinVolume:      dec("10000"),
		MaxSpread:      dec("0.02"),
		ProfitTarget:   dec("0.02"),
	}
}

func baseMarket() types.Market {
	return types.Market{
		Ticker:       "TICKER-1",
		Active:       true,
		BestBid:      dec("0.90"),
		BestAsk:      dec("0.91"),
		BidLiquidity: dec("600"),
		Volume24h:    dec("20000"),
	}
}

func TestFilterBoundaryEntryThreshold(t *testing.T) {
	t.Parallel()
	cfg := defaultFilterConfig()

	passing := baseMarket()
	passing.BestBid = dec("0.85")
	passing.BestAsk = dec("0.855")
	if !Passes(passing, cfg) {
		t.Error("best_bid = 0.85 should pass entry_threshold")
	}

	failing := baseMarket()
	failing.BestBid = dec("0.8499")
	failing.BestAsk = dec("0.855")
	if Passes(failing, cfg) {
		t.Error("best_bid = 0.8499 should fail entry_threshold")
	}
}

func TestFilterHeadroomRule(t *testing.T) {
	t.Parallel()
	cfg := defaultFilterConfig()

	admitted := baseMarket()
	admitted.BestBid = dec("0.93")
	admitted.BestAsk = dec("0.935")
	if !Passes(admitted, cfg) {
		t.Error("entry at 0.93 should be admitted: 0.93*1.02=0.9486 <= 0.95")
	}

	rejected := baseMarket()
	rejected.BestBid = dec("0.94")
	rejected.BestAsk = dec("0.945")
	if Passes(rejected, cfg) {
		t.Error("entry at 0.94 should be rejected: 0.94*1.02=0.9588 > 0.95")
	}
}

func TestFilterRejectsInactive(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.Active = false
	if Passes(m, defaultFilterConfig()) {
		t.Error("inactive market should never pass")
	}
}

func TestFilterRejectsInsufficientLiquidity(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.BidLiquidity = dec("499")
	if Passes(m, defaultFilterConfig()) {
		t.Error("liquidity below threshold should fail")
	}
}

func TestFilterRejectsInsufficientVolume(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.Volume24h = dec("9999")
	if Passes(m, defaultFilterConfig()) {
		t.Error("volume below threshold should fail")
	}
}

func TestFilterRejectsWideSpread(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.BestBid = dec("0.85")
	m.BestAsk = dec("0.89") // spread = 0.047 > 0.02
	if Passes(m, defaultFilterConfig()) {
		t.Error("spread above max_spread should fail")
	}
}

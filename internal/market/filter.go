package market

import (
	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

// FilterConfig carries the thresholds Filter evaluates against. Mirrors the
// relevant slice of strategy/risk config so this package has no dependency
// on internal/config.
type FilterConfig struct {
	EntryThreshold decimal.Decimal
	MinLiquidity   decimal.Decimal
	MinVolume      decimal.Decimal
	MaxSpread      decimal.Decimal
	ProfitTarget   decimal.Decimal
}

// headroomCeiling bounds the projected take-profit price. Contracts trade
// from 1 to 99 cents; a take-profit priced above 0.95 leaves too little
// room below the venue's 0.99 cap, so entries that would need it are
// rejected up front rather than left to rest near the ceiling.
var headroomCeiling = decimal.NewFromFloat(0.95)

// Passes is the pure entry-candidate predicate: active market, sufficient
// bid, liquidity, and volume, spread within bound, and enough headroom
// for the take-profit price to be admissible.
func Passes(m types.Market, cfg FilterConfig) bool {
	if !m.Active {
		return false
	}
	if m.BestBid.LessThan(cfg.EntryThreshold) {
		return false
	}
	if m.BidLiquidity.LessThan(cfg.MinLiquidity) {
		return false
	}
	if m.Volume24h.LessThan(cfg.MinVolume) {
		return false
	}
	if m.Spread().GreaterThan(cfg.MaxSpread) {
		return false
	}
	takeProfit := m.BestBid.Mul(decimal.NewFromInt(1).Add(cfg.ProfitTarget))
	if takeProfit.GreaterThan(headroomCeiling) {
		return false
	}
	return true
}

// Package account is the single source of truth for cash, exposure, and
// P&L. Every operation is serialized under one mutex so callers never
// observe a torn balance.
package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

var fixedFractionCeiling = decimal.NewFromFloat(0.10)

// Account wraps types.Account with the operations Executor and RiskManager
// call to move money between available and locked balances and to record
// the outcome of a closed position.
type Account struct {
	mu    sync.Mutex
	state types.Account
}

// NewAccount creates an account seeded with a starting cash balance.
func NewAccount(startingBalance decimal.Decimal) *Account {
	now := time.Now()
	return &Account{
		state: types.Account{
			StartingBalance:      startingBalance,
			CurrentBalance:       startingBalance,
			AvailableBalance:     startingBalance,
			DailyStartingBalance: startingBalance,
			DailyResetAt:         now,
		},
	}
}

// Snapshot returns a copy of the current account state.
func (a *Account) Snapshot() types.Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PositionSize computes the fixed-fraction entry size for a new signal:
// the lesser of max_position_pct · balance and the hard 0.10 · balance
// ceiling, capped by available_balance so a reservation never overdraws.
func (a *Account) PositionSize(maxPositionPct decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	byPct := a.state.CurrentBalance.Mul(maxPositionPct)
	byCeiling := a.state.CurrentBalance.Mul(fixedFractionCeiling)
	size := byPct
	if byCeiling.LessThan(size) {
		size = byCeiling
	}
	if a.state.AvailableBalance.LessThan(size) {
		size = a.state.AvailableBalance
	}
	if size.IsNegative() {
		return decimal.Zero
	}
	return size
}

// Reserve moves amount from available_balance to locked_balance ahead of an
// entry submission. Returns an error if available_balance is insufficient.
func (a *Account) Reserve(amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.AvailableBalance.LessThan(amount) {
		return fmt.Errorf("insufficient available balance: have %s, need %s", a.state.AvailableBalance, amount)
	}
	a.state.AvailableBalance = a.state.AvailableBalance.Sub(amount)
	a.state.LockedBalance = a.state.LockedBalance.Add(amount)
	return nil
}

// Release moves amount from locked_balance back to available_balance — an
// unfilled reservation, unused sizing dust, or a rejected entry.
func (a *Account) Release(amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.LockedBalance.LessThan(amount) {
		amount = a.state.LockedBalance
	}
	a.state.LockedBalance = a.state.LockedBalance.Sub(amount)
	a.state.AvailableBalance = a.state.AvailableBalance.Add(amount)
	return nil
}

// SetExposure records the dollar notional currently held across all open
// positions, read by RiskManager's exposure gate.
func (a *Account) SetExposure(totalExposure decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.TotalExposure = totalExposure
}

// SetUnrealizedPnL records the current mark-to-market P&L across all open
// positions.
func (a *Account) SetUnrealizedPnL(unrealized decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.UnrealizedPnL = unrealized
}

// OnPositionClose folds a closed position's realized P&L into the account:
// releases the position's locked notional, updates current_balance,
// realized/daily P&L, and the win/loss/consecutive-loss counters (reset on
// any win).
func (a *Account) OnPositionClose(lockedNotional, realizedPnL decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	released := lockedNotional
	if a.state.LockedBalance.LessThan(released) {
		released = a.state.LockedBalance
	}
	a.state.LockedBalance = a.state.LockedBalance.Sub(released)
	a.state.AvailableBalance = a.state.AvailableBalance.Add(released).Add(realizedPnL)
	a.state.CurrentBalance = a.state.CurrentBalance.Add(realizedPnL)

	a.state.RealizedPnL = a.state.RealizedPnL.Add(realizedPnL)
	a.state.DailyPnL = a.state.DailyPnL.Add(realizedPnL)
	a.state.DailyTrades++

	if realizedPnL.IsPositive() {
		a.state.DailyWins++
		a.state.ConsecutiveLosses = 0
	} else {
		a.state.DailyLosses++
		a.state.ConsecutiveLosses++
	}
}

// MaybeResetDaily rolls the daily counters over at UTC midnight. Called on
// the same periodic tick that drives snapshotting.
func (a *Account) MaybeResetDaily(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nowUTC := now.UTC()
	resetUTC := a.state.DailyResetAt.UTC()
	if nowUTC.Year() == resetUTC.Year() && nowUTC.YearDay() == resetUTC.YearDay() {
		return
	}

	a.state.DailyStartingBalance = a.state.CurrentBalance
	a.state.DailyPnL = decimal.Zero
	a.state.DailyTrades = 0
	a.state.DailyWins = 0
	a.state.DailyLosses = 0
	a.state.DailyResetAt = now
}

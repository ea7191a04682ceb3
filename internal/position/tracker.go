// Package position stores Position objects through entry, paired exits, and
// close, indexed by id and by ticker. There is at most one open position
// per ticker at a time; StrategyEngine's hasOpen check and RiskManager's
// per-ticker gating both depend on that invariant.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

// Tracker is the PositionTracker.
type Tracker struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*types.Position
	byTicker map[string]*types.Position
}

// NewTracker creates an empty position store.
func NewTracker() *Tracker {
	return &Tracker{
		byID:     make(map[uuid.UUID]*types.Position),
		byTicker: make(map[string]*types.Position),
	}
}

// Open inserts a new position in ENTERING status. Returns an error if the
// ticker already has an open position.
func (t *Tracker) Open(pos types.Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byTicker[pos.Ticker]; ok && existing.Status != types.PositionClosed {
		return fmt.Errorf("position already open for ticker %s", pos.Ticker)
	}

	pos.Status = types.PositionEntering
	stored := pos
	t.byID[pos.ID] = &stored
	t.byTicker[pos.Ticker] = &stored
	return nil
}

// MarkEntered transitions a position to ENTERED once its entry order fills,
// recording the actual fill price and size.
func (t *Tracker) MarkEntered(id uuid.UUID, fillPrice, fillSize decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("position %s not found", id)
	}
	pos.EntryPrice = fillPrice
	pos.Size = fillSize
	pos.Status = types.PositionEntered
	pos.EnteredAt = time.Now()
	return nil
}

// AttachExits records the venue order ids of a position's resting stop-loss
// and take-profit orders.
func (t *Tracker) AttachExits(id uuid.UUID, stopLossOrderID, takeProfitOrderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("position %s not found", id)
	}
	pos.StopLossOrderID = stopLossOrderID
	pos.TakeProfitOrderID = takeProfitOrderID
	return nil
}

// MarkExiting transitions a position to EXITING ahead of a strategy or
// emergency exit, so a fill/cancel race on its resting exits is never
// mistaken for a second close.
func (t *Tracker) MarkExiting(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("position %s not found", id)
	}
	pos.Status = types.PositionExiting
	return nil
}

// Close transitions a position to CLOSED, records the exit price and
// reason, and computes realized P&L. Returns the final position state.
// Idempotent: closing an already-closed position is a no-op error, so a
// fill/cancel race never double-closes or double-counts P&L.
func (t *Tracker) Close(id uuid.UUID, exitPrice decimal.Decimal, reason types.ExitReason) (types.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return types.Position{}, fmt.Errorf("position %s not found", id)
	}
	if pos.Status == types.PositionClosed {
		return types.Position{}, fmt.Errorf("position %s already closed", id)
	}

	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.ClosedAt = time.Now()
	pos.Status = types.PositionClosed
	pos.RealizedPnL = pos.UnrealizedPnL(exitPrice)

	delete(t.byTicker, pos.Ticker)
	return *pos, nil
}

// Discard removes a position that never reached ENTERED — an entry that
// timed out unfilled or was cancelled/rejected. Unlike Close, it records no
// P&L and frees the ticker immediately.
func (t *Tracker) Discard(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byTicker, pos.Ticker)
	delete(t.byID, id)
}

// Get returns a position by id.
func (t *Tracker) Get(id uuid.UUID) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.byID[id]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// GetByTicker returns the open position for a ticker, if any.
func (t *Tracker) GetByTicker(ticker string) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.byTicker[ticker]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// HasOpen reports whether a ticker currently has a non-closed position.
func (t *Tracker) HasOpen(ticker string) bool {
	_, ok := t.GetByTicker(ticker)
	return ok
}

// OpenPositions returns every position not yet CLOSED, for risk exposure
// aggregation and the periodic timeout/close-buffer exit scan.
func (t *Tracker) OpenPositions() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Position, 0, len(t.byTicker))
	for _, pos := range t.byTicker {
		out = append(out, *pos)
	}
	return out
}

// TotalExposure sums the dollar notional of every open position.
func (t *Tracker) TotalExposure() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range t.byTicker {
		total = total.Add(pos.Size)
	}
	return total
}

// Package executor is the central order-lifecycle state machine: it reacts
// to approved Signals, OrderManager terminal deliveries, periodic exit
// decisions, and RiskManager force-exit signals, driving Account,
// PositionTracker, and OrderManager through entry, paired exits, and close.
// It holds handles to those components; none of them refer back, and every
// event arrives over a channel rather than a callback, so there is no
// ownership cycle.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predmarket-trader/internal/account"
	"predmarket-trader/internal/market"
	"predmarket-trader/internal/notify"
	"predmarket-trader/internal/order"
	"predmarket-trader/internal/position"
	"predmarket-trader/internal/risk"
	tradestore "predmarket-trader/internal/store"
	"predmarket-trader/pkg/money"
	"predmarket-trader/pkg/types"
)

const (
	entryTimeout  = 60 * time.Second
	sweepInterval = 5 * time.Second
)

// VenueClient is the capability both the real RestClient and PaperExecutor's
// simulated matching engine implement, so this state machine runs unchanged
// against either — the primary testability lever.
type VenueClient interface {
	SubmitOrder(ctx context.Context, clientID, ticker string, side types.Side, priceCents, count int64) (string, error)
	CancelOrder(ctx context.Context, venueID string) error
}

// pendingEntry tracks an ENTRY order awaiting its first fill, partial-fill
// timeout, or outright rejection.
type pendingEntry struct {
	positionID uuid.UUID
	venueID    string
	ticker     string
	size       decimal.Decimal // reserved dollar notional
	deadline   time.Time
}

// exitingState marks a position mid strategy-or-emergency exit, so a fill
// of its resting SL/TP that arrives mid-transition is recognized as the
// aggressive exit fill rather than a normal paired-exit fill.
type exitingState struct {
	aggressiveVenueID string
	reason            types.ExitReason
}

// Executor drives the state machine described in §4.11.
type Executor struct {
	venue      VenueClient
	orders     *order.Manager
	positions  *position.Tracker
	acct       *account.Account
	riskMgr    *risk.Manager
	store      *market.Store
	db         *tradestore.Store
	notifier   *notify.Notifier

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingEntry
	exiting map[uuid.UUID]*exitingState

	logger *slog.Logger
}

// NewExecutor wires an Executor to its venue and the shared components it
// observes and mutates. db and notifier may be nil in tests that don't
// exercise persistence or email.
func NewExecutor(venue VenueClient, orders *order.Manager, positions *position.Tracker, acct *account.Account, riskMgr *risk.Manager, store *market.Store, db *tradestore.Store, notifier *notify.Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		venue:     venue,
		orders:    orders,
		positions: positions,
		acct:      acct,
		riskMgr:   riskMgr,
		store:     store,
		db:        db,
		notifier:  notifier,
		pending:   make(map[uuid.UUID]*pendingEntry),
		exiting:   make(map[uuid.UUID]*exitingState),
		logger:    logger.With("component", "executor"),
	}
}

// Run drains every event source Executor reacts to and periodically sweeps
// pending entries for the 60s entry timeout. Blocks until ctx is cancelled.
func (e *Executor) Run(ctx context.Context, signals <-chan types.Signal, exits <-chan types.ExitDecision, forceExits <-chan risk.ForceExitSignal) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			e.HandleSignal(ctx, sig)
		case decision := <-exits:
			e.HandleExitDecision(ctx, decision)
		case <-forceExits:
			e.HandleForceExit(ctx)
		case term := <-e.orders.Terminal():
			e.HandleOrderTerminal(ctx, term)
		case <-sweep.C:
			e.sweepPendingEntries(ctx)
		}
	}
}

// HandleSignal applies the approved-signal path: reserve, submit ENTRY,
// open the position in ENTERING, and start the entry-timeout clock.
func (e *Executor) HandleSignal(ctx context.Context, sig types.Signal) {
	m, ok := e.store.Get(sig.Ticker)
	if !ok {
		return
	}

	if err := e.riskMgr.ValidateSignal(sig, e.acct.Snapshot(), len(e.positions.OpenPositions()), m.BestAsk); err != nil {
		e.logger.Info("signal rejected", "ticker", sig.Ticker, "reason", err)
		return
	}

	if err := e.acct.Reserve(sig.Size); err != nil {
		e.logger.Warn("reserve failed", "ticker", sig.Ticker, "error", err)
		return
	}

	pos := types.Position{
		ID:              uuid.New(),
		Ticker:          sig.Ticker,
		StopLossPrice:   sig.StopLossPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
	}
	if err := e.positions.Open(pos); err != nil {
		e.acct.Release(sig.Size)
		e.logger.Warn("open position failed", "ticker", sig.Ticker, "error", err)
		return
	}

	count := money.DollarsToCount(sig.Size, sig.EntryPrice)
	if count <= 0 {
		e.acct.Release(sig.Size)
		e.positions.Discard(pos.ID)
		e.logger.Warn("signal size too small to produce a contract", "ticker", sig.Ticker)
		return
	}

	clientID := pos.ID.String() + "-entry"
	venueID, err := e.venue.SubmitOrder(ctx, clientID, sig.Ticker, types.Buy, money.DollarsToCents(sig.EntryPrice), count)
	if err != nil {
		e.acct.Release(sig.Size)
		e.positions.Discard(pos.ID)
		e.logger.Error("submit entry order failed", "ticker", sig.Ticker, "error", err)
		return
	}

	e.orders.Register(types.Order{
		ClientID:    clientID,
		VenueID:     venueID,
		Ticker:      sig.Ticker,
		Side:        types.Buy,
		Price:       sig.EntryPrice,
		Size:        money.CountToDollars(count, sig.EntryPrice),
		Status:      types.OrderOpen,
		Purpose:     types.PurposeEntry,
		PositionID:  pos.ID.String(),
		CreatedAt:   time.Now(),
		SubmittedAt: time.Now(),
	})

	e.mu.Lock()
	e.pending[pos.ID] = &pendingEntry{
		positionID: pos.ID,
		venueID:    venueID,
		ticker:     sig.Ticker,
		size:       sig.Size,
		deadline:   time.Now().Add(entryTimeout),
	}
	e.mu.Unlock()
}

// HandleOrderTerminal routes a terminal order to the entry or exit path by
// its recorded purpose.
func (e *Executor) HandleOrderTerminal(ctx context.Context, ord types.Order) {
	posID, err := uuid.Parse(ord.PositionID)
	if err != nil {
		return
	}

	switch ord.Purpose {
	case types.PurposeEntry:
		e.handleEntryTerminal(ctx, posID, ord)
	case types.PurposeStopLoss, types.PurposeTakeProfit:
		e.handleExitTerminal(ctx, posID, ord)
	}
}

func (e *Executor) handleEntryTerminal(ctx context.Context, posID uuid.UUID, ord types.Order) {
	e.mu.Lock()
	pend, ok := e.pending[posID]
	if ok {
		delete(e.pending, posID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	switch ord.Status {
	case types.OrderFilled, types.OrderPartiallyFilled:
		if ord.FilledSize.IsZero() {
			e.acct.Release(pend.size)
			e.positions.Discard(posID)
			return
		}
		if unused := pend.size.Sub(ord.FilledSize); unused.IsPositive() {
			e.acct.Release(unused)
		}
		e.positions.MarkEntered(posID, ord.Price, ord.FilledSize)
		e.submitPairedExits(ctx, posID, ord.Ticker, ord.Price, ord.FilledSize)
		if e.notifier != nil {
			if pos, ok := e.positions.Get(posID); ok {
				e.notifier.PositionOpened(pos)
			}
		}

	case types.OrderCancelled, types.OrderRejected:
		e.acct.Release(pend.size)
		e.positions.Discard(posID)
	}
}

// submitPairedExits submits the resting SL and TP orders for a just-entered
// position's actual filled size.
func (e *Executor) submitPairedExits(ctx context.Context, posID uuid.UUID, ticker string, entryPrice, filledSize decimal.Decimal) {
	pos, ok := e.positions.Get(posID)
	if !ok {
		return
	}
	count := money.DollarsToCount(filledSize, entryPrice)
	if count <= 0 {
		return
	}

	slClientID := posID.String() + "-sl"
	slVenueID, err := e.venue.SubmitOrder(ctx, slClientID, ticker, types.Sell, money.DollarsToCents(pos.StopLossPrice), count)
	if err != nil {
		e.logger.Error("submit stop-loss order failed", "position_id", posID, "error", err)
	} else {
		e.orders.Register(types.Order{
			ClientID: slClientID, VenueID: slVenueID, Ticker: ticker, Side: types.Sell,
			Price: pos.StopLossPrice, Size: filledSize, Status: types.OrderOpen,
			Purpose: types.PurposeStopLoss, PositionID: posID.String(),
			CreatedAt: time.Now(), SubmittedAt: time.Now(),
		})
	}

	tpClientID := posID.String() + "-tp"
	tpVenueID, err := e.venue.SubmitOrder(ctx, tpClientID, ticker, types.Sell, money.DollarsToCents(pos.TakeProfitPrice), count)
	if err != nil {
		e.logger.Error("submit take-profit order failed", "position_id", posID, "error", err)
	} else {
		e.orders.Register(types.Order{
			ClientID: tpClientID, VenueID: tpVenueID, Ticker: ticker, Side: types.Sell,
			Price: pos.TakeProfitPrice, Size: filledSize, Status: types.OrderOpen,
			Purpose: types.PurposeTakeProfit, PositionID: posID.String(),
			CreatedAt: time.Now(), SubmittedAt: time.Now(),
		})
	}

	if slVenueID != "" && tpVenueID != "" {
		e.positions.AttachExits(posID, slVenueID, tpVenueID)
	}
}

func (e *Executor) handleExitTerminal(ctx context.Context, posID uuid.UUID, ord types.Order) {
	if ord.Status != types.OrderFilled {
		return // cancellation acks, including an expected 404-as-success, need no action
	}

	e.mu.Lock()
	state, isExiting := e.exiting[posID]
	if isExiting {
		delete(e.exiting, posID)
	}
	e.mu.Unlock()

	reason := types.ExitStopLoss
	if ord.Purpose == types.PurposeTakeProfit {
		reason = types.ExitTakeProfit
	}

	if isExiting {
		reason = state.reason
	} else if pos, ok := e.positions.Get(posID); ok {
		// Normal SL/TP fill: cancel the sibling. Arrival order decides which
		// fill wins if both land before either cancel completes; the loser's
		// cancel response is expected to 404 and RestClient already treats
		// that as success.
		sibling := pos.TakeProfitOrderID
		if ord.Purpose == types.PurposeTakeProfit {
			sibling = pos.StopLossOrderID
		}
		if sibling != "" && sibling != ord.VenueID {
			if err := e.venue.CancelOrder(ctx, sibling); err != nil {
				e.logger.Error("cancel sibling exit failed", "position_id", posID, "error", err)
			}
		}
	}

	closed, err := e.positions.Close(posID, ord.Price, reason)
	if err != nil {
		// Already closed by the sibling fill that arrived first — never
		// double-close or double-count P&L.
		return
	}

	e.acct.OnPositionClose(closed.Size, closed.RealizedPnL)
	e.riskMgr.ReportTradeClose(closed.RealizedPnL.IsPositive())
	if e.db != nil {
		e.db.RecordTrade(closed)
	}
	if e.notifier != nil {
		e.notifier.PositionClosed(closed)
	}
}

// HandleExitDecision applies a strategy-driven TIMEOUT or MARKET_CLOSED
// exit.
func (e *Executor) HandleExitDecision(ctx context.Context, decision types.ExitDecision) {
	posID, err := uuid.Parse(decision.PositionID)
	if err != nil {
		e.logger.Error("invalid position id in exit decision", "position_id", decision.PositionID)
		return
	}
	e.beginExit(ctx, posID, decision.Ticker, decision.Reason)
}

// HandleForceExit emergency-exits every ENTERED position, triggered by
// RiskManager's stream force-exit threshold.
func (e *Executor) HandleForceExit(ctx context.Context) {
	for _, pos := range e.positions.OpenPositions() {
		if pos.Status != types.PositionEntered {
			continue
		}
		e.beginExit(ctx, pos.ID, pos.Ticker, types.ExitEmergency)
	}
}

// beginExit cancels both resting exits and submits an aggressive limit
// SELL for the position's full filled size. It acts only on a position that
// is ENTERED and not already exiting; for any other position it does
// nothing. It cancels the SL/TP ids recorded at the moment it reads the
// position, so a stop-loss or take-profit submitted after MarkExiting is
// not cancelled by this function.
func (e *Executor) beginExit(ctx context.Context, posID uuid.UUID, ticker string, reason types.ExitReason) {
	e.mu.Lock()
	if _, already := e.exiting[posID]; already {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	pos, ok := e.positions.Get(posID)
	if !ok || pos.Status != types.PositionEntered {
		return
	}
	e.positions.MarkExiting(posID)

	if pos.StopLossOrderID != "" {
		if err := e.venue.CancelOrder(ctx, pos.StopLossOrderID); err != nil {
			e.logger.Error("cancel stop-loss during exit failed", "position_id", posID, "error", err)
		}
	}
	if pos.TakeProfitOrderID != "" {
		if err := e.venue.CancelOrder(ctx, pos.TakeProfitOrderID); err != nil {
			e.logger.Error("cancel take-profit during exit failed", "position_id", posID, "error", err)
		}
	}

	aggressivePrice := decimal.NewFromFloat(0.01)
	if m, ok := e.store.Get(ticker); ok {
		candidate := m.BestBid.Mul(decimal.NewFromFloat(0.95))
		if candidate.GreaterThan(aggressivePrice) {
			aggressivePrice = candidate
		}
	}

	count := money.DollarsToCount(pos.Size, pos.EntryPrice)
	if count <= 0 {
		return
	}

	clientID := posID.String() + "-exit"
	venueID, err := e.venue.SubmitOrder(ctx, clientID, ticker, types.Sell, money.DollarsToCents(aggressivePrice), count)
	if err != nil {
		e.logger.Error("submit aggressive exit order failed", "position_id", posID, "error", err)
		return
	}

	e.orders.Register(types.Order{
		ClientID: clientID, VenueID: venueID, Ticker: ticker, Side: types.Sell,
		Price: aggressivePrice, Size: pos.Size, Status: types.OrderOpen,
		Purpose: types.PurposeStopLoss, PositionID: posID.String(),
		CreatedAt: time.Now(), SubmittedAt: time.Now(),
	})

	e.mu.Lock()
	e.exiting[posID] = &exitingState{aggressiveVenueID: venueID, reason: reason}
	e.mu.Unlock()
}

// sweepPendingEntries enforces the 60s entry timeout: an unfilled entry is
// cancelled and its reservation released; a partially-filled entry is
// cancelled for its remainder and proceeds as if the partial amount is the
// fill.
func (e *Executor) sweepPendingEntries(ctx context.Context) {
	now := time.Now()
	var expired []*pendingEntry
	e.mu.Lock()
	for id, p := range e.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	for _, p := range expired {
		ord, hasOrder := e.orders.Get(p.venueID)
		if err := e.venue.CancelOrder(ctx, p.venueID); err != nil {
			e.logger.Error("cancel timed-out entry failed", "position_id", p.positionID, "error", err)
		}

		if hasOrder && ord.FilledSize.IsPositive() {
			if unused := p.size.Sub(ord.FilledSize); unused.IsPositive() {
				e.acct.Release(unused)
			}
			e.positions.MarkEntered(p.positionID, ord.Price, ord.FilledSize)
			e.submitPairedExits(ctx, p.positionID, p.ticker, ord.Price, ord.FilledSize)
			continue
		}

		e.acct.Release(p.size)
		e.positions.Discard(p.positionID)
	}
}

// Package types defines the shared data structures used across the trading
// agent. It has no dependency on any internal package, so it can be
// imported by every layer — the common vocabulary of the system.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderPurpose identifies an order's role in a position's lifecycle.
type OrderPurpose string

const (
	PurposeEntry      OrderPurpose = "ENTRY"
	PurposeStopLoss   OrderPurpose = "STOP_LOSS"
	PurposeTakeProfit OrderPurpose = "TAKE_PROFIT"
)

// OrderStatus is the normalized lifecycle state of an Order.
type OrderStatus string

const (
	OrderCreated         OrderStatus = "CREATED"
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether status is an absorbing state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionEntering PositionStatus = "ENTERING"
	PositionEntered  PositionStatus = "ENTERED"
	PositionExiting  PositionStatus = "EXITING"
	PositionClosed   PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitTakeProfit    ExitReason = "TAKE_PROFIT"
	ExitStopLoss      ExitReason = "STOP_LOSS"
	ExitTimeout       ExitReason = "TIMEOUT"
	ExitMarketClosed  ExitReason = "MARKET_CLOSED"
	ExitEmergency     ExitReason = "EMERGENCY"
)

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single price/size pair in an order book ladder.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Market is the per-ticker state fed by the stream's ticker,
// orderbook-delta, and trade events.
type Market struct {
	Ticker       string
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	LastPrice    decimal.Decimal
	BidLiquidity decimal.Decimal
	AskLiquidity decimal.Decimal
	Volume24h    decimal.Decimal
	BidLadder    []PriceLevel // top-N, descending by price
	AskLadder    []PriceLevel // top-N, ascending by price
	Active       bool
	EndTime      time.Time
	LastUpdateTs time.Time
}

// Spread returns (ask - bid) / bid. Returns zero if bid is zero.
func (m Market) Spread() decimal.Decimal {
	if m.BestBid.IsZero() {
		return decimal.Zero
	}
	return m.BestAsk.Sub(m.BestBid).Div(m.BestBid)
}

// Mid returns (bid + ask) / 2.
func (m Market) Mid() decimal.Decimal {
	return m.BestBid.Add(m.BestAsk).Div(decimal.NewFromInt(2))
}

// ————————————————————————————————————————————————————————————————————————
// Order
// ————————————————————————————————————————————————————————————————————————

// Order is a single venue order tracked by OrderManager.
type Order struct {
	ClientID    string
	VenueID     string
	Ticker      string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal // dollar notional requested
	FilledSize  decimal.Decimal
	Status      OrderStatus
	Purpose     OrderPurpose
	PositionID  string // empty until attached to a position
	Fee         decimal.Decimal
	CreatedAt   time.Time
	SubmittedAt time.Time
	FilledAt    time.Time
}

// Remaining returns the unfilled portion of the order's size.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// Position is a single long holding in one ticker, managed through entry,
// paired exits, and close.
type Position struct {
	ID                 uuid.UUID
	Ticker             string
	EntryPrice         decimal.Decimal
	Size               decimal.Decimal // actual filled dollar notional
	Status             PositionStatus
	EntryOrderID       string
	StopLossOrderID    string
	TakeProfitOrderID  string
	StopLossPrice      decimal.Decimal
	TakeProfitPrice    decimal.Decimal
	MaxHold            time.Duration
	EnteredAt          time.Time
	ClosedAt           time.Time
	ExitPrice          decimal.Decimal
	ExitReason         ExitReason
	RealizedPnL        decimal.Decimal
}

// UnrealizedPnL returns mark-to-market P&L at the given current price.
func (p Position) UnrealizedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p.Size.IsZero() || p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	contracts := p.Size.Div(p.EntryPrice)
	return currentPrice.Sub(p.EntryPrice).Mul(contracts)
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// Account is the single source of truth for cash, exposure, and P&L.
type Account struct {
	StartingBalance      decimal.Decimal
	CurrentBalance       decimal.Decimal
	AvailableBalance     decimal.Decimal
	LockedBalance        decimal.Decimal
	TotalExposure        decimal.Decimal
	RealizedPnL          decimal.Decimal
	UnrealizedPnL        decimal.Decimal
	DailyPnL             decimal.Decimal
	DailyTrades          int
	DailyWins            int
	DailyLosses          int
	ConsecutiveLosses    int
	DailyStartingBalance decimal.Decimal
	DailyResetAt         time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signal
// ————————————————————————————————————————————————————————————————————————

// Signal is a candidate entry emitted by StrategyEngine.
type Signal struct {
	Ticker          string
	EntryPrice      decimal.Decimal
	Size            decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Confidence      decimal.Decimal
	CreatedAt       time.Time
}

// RiskReward returns (tp - entry) / (entry - sl).
func (s Signal) RiskReward() decimal.Decimal {
	denom := s.EntryPrice.Sub(s.StopLossPrice)
	if denom.IsZero() {
		return decimal.Zero
	}
	return s.TakeProfitPrice.Sub(s.EntryPrice).Div(denom)
}

// ExitDecision is emitted by StrategyEngine's periodic timeout/close check.
type ExitDecision struct {
	PositionID string
	Ticker     string
	Reason     ExitReason
	DecidedAt  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Circuit breakers
// ————————————————————————————————————————————————————————————————————————

// BreakerKind identifies one of the four independent circuit breakers.
type BreakerKind string

const (
	BreakerDailyLoss         BreakerKind = "daily_loss"
	BreakerConsecutiveLosses BreakerKind = "consecutive_losses"
	BreakerAPIErrorRate      BreakerKind = "api_error_rate"
	BreakerStreamDisconnect  BreakerKind = "stream_disconnect"
)

// CircuitBreakerState is the aggregate state exposed to RiskManager callers.
type CircuitBreakerState struct {
	Active    bool
	Reason    string
	Kind      BreakerKind
	TrippedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Stream events
// ————————————————————————————————————————————————————————————————————————
// These map to the venue's server-originated stream messages (§6). Price
// fields have already been converted from cents to dollars by the
// StreamClient boundary.

// TickerUpdate is a top-of-book snapshot update for one ticker.
type TickerUpdate struct {
	Ticker    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastPrice decimal.Decimal
	Volume24h decimal.Decimal
	Ts        time.Time
}

// OrderBookDelta conveys sparse price-level changes on one or both sides.
type OrderBookDelta struct {
	Ticker string
	Bids   []PriceLevel // size 0 means remove the level
	Asks   []PriceLevel
	Ts     time.Time
}

// Trade is a public trade print.
type Trade struct {
	Ticker string
	Price  decimal.Decimal
	Size   decimal.Decimal
	Ts     time.Time
}

// Fill is an owner-channel execution notification.
type Fill struct {
	VenueOrderID string
	Ticker       string
	Count        int64
	Price        decimal.Decimal
	Ts           time.Time
}

// OrderUpdate is an owner-channel order lifecycle notification.
type OrderUpdate struct {
	VenueOrderID string
	Status       string // venue's raw status string; normalized by OrderManager
	Remaining    int64
	Ts           time.Time
}

// MarketUpdate is the normalized event MarketStore emits after applying one
// or more deltas for a ticker.
type MarketUpdate struct {
	Ticker string
	At     time.Time
}

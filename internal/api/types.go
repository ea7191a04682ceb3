// Package api exposes the control surface: start/stop/emergency-stop,
// account/positions/breakers/stream/signals status reads, and a WebSocket
// hub that relays events passed to Hub.Broadcast, plus the /healthz probe.
// No component in this module calls Broadcast, so connected clients
// receive no events.
package api

import (
	"time"

	"predmarket-trader/pkg/types"
)

// Event is the envelope for everything pushed over the WebSocket hub.
type Event struct {
	Type      string      `json:"type"` // "signal", "order", "position", "breaker"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AccountStatus is the JSON shape of GET /status/account.
type AccountStatus struct {
	CurrentBalance    string `json:"current_balance"`
	AvailableBalance  string `json:"available_balance"`
	LockedBalance     string `json:"locked_balance"`
	TotalExposure     string `json:"total_exposure"`
	RealizedPnL       string `json:"realized_pnl"`
	UnrealizedPnL     string `json:"unrealized_pnl"`
	DailyPnL          string `json:"daily_pnl"`
	DailyTrades       int    `json:"daily_trades"`
	DailyWins         int    `json:"daily_wins"`
	DailyLosses       int    `json:"daily_losses"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
}

// NewAccountStatus converts an account snapshot to its JSON shape.
func NewAccountStatus(acct types.Account) AccountStatus {
	return AccountStatus{
		CurrentBalance:    acct.CurrentBalance.String(),
		AvailableBalance:  acct.AvailableBalance.String(),
		LockedBalance:     acct.LockedBalance.String(),
		TotalExposure:     acct.TotalExposure.String(),
		RealizedPnL:       acct.RealizedPnL.String(),
		UnrealizedPnL:     acct.UnrealizedPnL.String(),
		DailyPnL:          acct.DailyPnL.String(),
		DailyTrades:       acct.DailyTrades,
		DailyWins:         acct.DailyWins,
		DailyLosses:       acct.DailyLosses,
		ConsecutiveLosses: acct.ConsecutiveLosses,
	}
}

// PositionStatus is the JSON shape of one entry in GET /status/positions.
type PositionStatus struct {
	ID         string `json:"id"`
	Ticker     string `json:"ticker"`
	Status     string `json:"status"`
	EntryPrice string `json:"entry_price"`
	Size       string `json:"size"`
}

// NewPositionStatus converts a position to its JSON shape.
func NewPositionStatus(pos types.Position) PositionStatus {
	return PositionStatus{
		ID:         pos.ID.String(),
		Ticker:     pos.Ticker,
		Status:     string(pos.Status),
		EntryPrice: pos.EntryPrice.String(),
		Size:       pos.Size.String(),
	}
}

// BreakerStatus is the JSON shape of GET /status/breakers.
type BreakerStatus struct {
	Active    bool      `json:"active"`
	Kind      string    `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// NewBreakerStatus converts a circuit breaker snapshot to its JSON shape.
func NewBreakerStatus(snap types.CircuitBreakerState) BreakerStatus {
	return BreakerStatus{
		Active:    snap.Active,
		Kind:      string(snap.Kind),
		Reason:    snap.Reason,
		TrippedAt: snap.TrippedAt,
	}
}

// StreamStatus is the JSON shape of GET /status/stream.
type StreamStatus struct {
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}

// SignalStatus is the JSON shape of one entry in GET /status/signals.
type SignalStatus struct {
	Ticker          string `json:"ticker"`
	EntryPrice      string `json:"entry_price"`
	StopLossPrice   string `json:"stop_loss_price"`
	TakeProfitPrice string `json:"take_profit_price"`
	CreatedAt       string `json:"created_at"`
}

// NewSignalStatus converts a signal to its JSON shape.
func NewSignalStatus(sig types.Signal) SignalStatus {
	return SignalStatus{
		Ticker:          sig.Ticker,
		EntryPrice:      sig.EntryPrice.String(),
		StopLossPrice:   sig.StopLossPrice.String(),
		TakeProfitPrice: sig.TakeProfitPrice.String(),
		CreatedAt:       sig.CreatedAt.UTC().Format(time.RFC3339),
	}
}

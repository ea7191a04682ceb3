// Package order is the observe-only in-memory store of venue orders. It
// normalizes stream order-lifecycle events and never initiates a
// submission or cancel itself, so fill/cancel races are resolved in one
// place: Executor.
package order

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

// clientIDSuffixes maps the suffix Executor appends to a position id when
// building a client_order_id back to the order's purpose, so a venue order
// recovered from GetActiveOrders (rather than submitted this process) can
// still be classified without any other side channel.
var clientIDSuffixes = map[string]types.OrderPurpose{
	"-entry": types.PurposeEntry,
	"-sl":    types.PurposeStopLoss,
	"-tp":    types.PurposeTakeProfit,
	"-exit":  types.PurposeStopLoss, // aggressive exit reuses the stop-loss purpose tag
}

// ParseClientID recovers the position id and purpose Executor encoded into
// a client_order_id at submission time. ok is false for a client_order_id
// that doesn't match the convention (e.g. placed outside this process).
func ParseClientID(clientID string) (positionID string, purpose types.OrderPurpose, ok bool) {
	for suffix, p := range clientIDSuffixes {
		if strings.HasSuffix(clientID, suffix) {
			return strings.TrimSuffix(clientID, suffix), p, true
		}
	}
	return "", "", false
}

// Manager is the OrderManager: a store keyed by both client_id and
// venue_id, kept current by stream OrderUpdate and Fill events.
type Manager struct {
	mu         sync.RWMutex
	byClientID map[string]*types.Order
	byVenueID  map[string]*types.Order

	terminalCh chan types.Order
	logger     *slog.Logger
}

// NewManager creates an empty order store.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		byClientID: make(map[string]*types.Order),
		byVenueID:  make(map[string]*types.Order),
		terminalCh: make(chan types.Order, 64),
		logger:     logger.With("component", "order"),
	}
}

// Terminal returns the channel of orders as soon as their status becomes
// terminal (FILLED, CANCELLED, REJECTED).
func (m *Manager) Terminal() <-chan types.Order { return m.terminalCh }

// Register records a newly submitted order, keyed by both identifiers.
// Called by Executor immediately after a successful SubmitOrder response.
func (m *Manager) Register(o types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := o
	m.byClientID[o.ClientID] = &stored
	if o.VenueID != "" {
		m.byVenueID[o.VenueID] = &stored
	}
}

// Get returns the current state of an order by venue_id.
func (m *Manager) Get(venueID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byVenueID[venueID]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// GetByClientID returns the current state of an order by client_id.
func (m *Manager) GetByClientID(clientID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byClientID[clientID]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// HandleOrderUpdate applies a stream OrderUpdate event: normalizes venue
// status and delivers OrderTerminal once the status becomes absorbing.
// It never touches filled_size — HandleFill is the sole accumulator, so a
// Fill and an OrderUpdate for the same execution can never double-count.
func (m *Manager) HandleOrderUpdate(u types.OrderUpdate) {
	m.mu.Lock()
	o, ok := m.byVenueID[u.VenueOrderID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("order update for unknown venue order", "venue_id", u.VenueOrderID)
		return
	}

	o.Status = normalizeStatus(u.Status)
	snapshot := *o
	m.mu.Unlock()

	m.deliverIfTerminal(snapshot)
}

// HandleFill applies a stream Fill event: accumulates filled_size, marks the
// fill time, and sets the status to FILLED once filled_size reaches size
// (PARTIALLY_FILLED before that), delivering the order on Terminal() when
// it becomes FILLED.
func (m *Manager) HandleFill(f types.Fill) {
	m.mu.Lock()
	o, ok := m.byVenueID[f.VenueOrderID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("fill for unknown venue order", "venue_id", f.VenueOrderID)
		return
	}

	o.FilledSize = o.FilledSize.Add(f.Price.Mul(decimal.NewFromInt(f.Count)))
	o.FilledAt = f.Ts
	if o.FilledSize.GreaterThanOrEqual(o.Size) {
		o.Status = types.OrderFilled
	} else {
		o.Status = types.OrderPartiallyFilled
	}
	snapshot := *o
	m.mu.Unlock()

	m.deliverIfTerminal(snapshot)
}

func (m *Manager) deliverIfTerminal(o types.Order) {
	if !o.Status.Terminal() {
		return
	}
	select {
	case m.terminalCh <- o:
	default:
		m.logger.Warn("order terminal channel full, dropping event", "venue_id", o.VenueID)
	}
}

func normalizeStatus(raw string) types.OrderStatus {
	switch raw {
	case "resting", "open":
		return types.OrderOpen
	case "executed", "filled":
		return types.OrderFilled
	case "canceled", "cancelled":
		return types.OrderCancelled
	case "pending":
		return types.OrderPending
	default:
		return types.OrderRejected
	}
}

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/internal/market"
	"predmarket-trader/pkg/money"
	"predmarket-trader/pkg/types"
)

const (
	paperEntryTimeout = 60 * time.Second
	paperExitTimeout  = 300 * time.Second
)

// simOrder is a single resting paper order awaiting simulated fill,
// timeout, or explicit cancel.
type simOrder struct {
	venueID   string
	ticker    string
	side      types.Side
	price     decimal.Decimal
	count     int64
	createdAt time.Time
	cancelled bool
}

// PaperExecutor implements VenueClient against a simulated matching engine
// driven by MarketStore updates instead of a live venue, so Executor's
// state machine runs unchanged in paper-trading mode.
type PaperExecutor struct {
	store  *market.Store
	orders chan<- types.OrderUpdate
	fills  chan<- types.Fill
	logger *slog.Logger

	mu      sync.Mutex
	resting map[string]*simOrder
	seq     int64
}

// NewPaperExecutor creates a simulated venue. ordersOut and fillsOut should
// feed the same OrderManager the real StreamClient's owner-channel events
// would — PaperExecutor never talks to OrderManager directly.
func NewPaperExecutor(store *market.Store, ordersOut chan<- types.OrderUpdate, fillsOut chan<- types.Fill, logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		store:   store,
		orders:  ordersOut,
		fills:   fillsOut,
		logger:  logger.With("component", "paper_executor"),
		resting: make(map[string]*simOrder),
	}
}

// SubmitOrder records a resting limit order and returns a synthetic venue
// id. It does not fill immediately even if marketable; the first
// EvaluateFills call (driven by the next MarketUpdate) performs the match,
// mirroring the venue's own async ack-then-fill sequencing.
func (p *PaperExecutor) SubmitOrder(ctx context.Context, clientID, ticker string, side types.Side, priceCents, count int64) (string, error) {
	if count <= 0 {
		return "", fmt.Errorf("submit order: count must be > 0, got %d", count)
	}

	p.mu.Lock()
	p.seq++
	venueID := fmt.Sprintf("paper-%d", p.seq)
	p.resting[venueID] = &simOrder{
		venueID:   venueID,
		ticker:    ticker,
		side:      side,
		price:     money.CentsToDollars(priceCents),
		count:     count,
		createdAt: time.Now(),
	}
	p.mu.Unlock()
	return venueID, nil
}

// CancelOrder marks a resting order cancelled. Cancelling an order that was
// never registered, or one already resolved, is success — matches the real
// client's 404-as-success idempotence.
func (p *PaperExecutor) CancelOrder(ctx context.Context, venueID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.resting[venueID]
	if !ok {
		return nil
	}
	o.cancelled = true
	delete(p.resting, venueID)
	p.send(types.OrderUpdate{VenueOrderID: venueID, Status: "cancelled", Remaining: o.count, Ts: time.Now()})
	return nil
}

// EvaluateFills checks every resting order against the current market and
// fills, times out, or leaves it resting. Call on every MarketUpdate for
// the order's ticker.
func (p *PaperExecutor) EvaluateFills(ticker string) {
	m, ok := p.store.Get(ticker)
	if !ok {
		return
	}

	p.mu.Lock()
	var toFill []*simOrder
	var toExpire []*simOrder
	now := time.Now()
	for id, o := range p.resting {
		if o.ticker != ticker || o.cancelled {
			continue
		}
		if p.marketable(o, m) {
			toFill = append(toFill, o)
			delete(p.resting, id)
			continue
		}
		if p.expired(o, now) {
			toExpire = append(toExpire, o)
			delete(p.resting, id)
		}
	}
	p.mu.Unlock()

	for _, o := range toFill {
		p.send(types.OrderUpdate{VenueOrderID: o.venueID, Status: "filled", Remaining: 0, Ts: now})
		if p.fills != nil {
			select {
			case p.fills <- types.Fill{VenueOrderID: o.venueID, Ticker: o.ticker, Count: o.count, Price: o.price, Ts: now}:
			default:
				p.logger.Warn("fill channel full, dropping simulated fill", "venue_id", o.venueID)
			}
		}
	}
	for _, o := range toExpire {
		p.send(types.OrderUpdate{VenueOrderID: o.venueID, Status: "cancelled", Remaining: o.count, Ts: now})
	}
}

func (p *PaperExecutor) marketable(o *simOrder, m types.Market) bool {
	switch o.side {
	case types.Buy:
		return !m.BestAsk.IsZero() && m.BestAsk.LessThanOrEqual(o.price)
	case types.Sell:
		return !m.BestBid.IsZero() && m.BestBid.GreaterThanOrEqual(o.price)
	default:
		return false
	}
}

// expired applies the entry timeout to BUY orders and the exit timeout to
// SELL orders. In this system every SELL is a stop-loss, take-profit, or
// aggressive exit and every BUY is an entry, so side alone distinguishes
// them without needing a purpose field the VenueClient interface doesn't
// carry.
func (p *PaperExecutor) expired(o *simOrder, now time.Time) bool {
	timeout := paperEntryTimeout
	if o.side == types.Sell {
		timeout = paperExitTimeout
	}
	return now.Sub(o.createdAt) > timeout
}

func (p *PaperExecutor) send(u types.OrderUpdate) {
	if p.orders == nil {
		return
	}
	select {
	case p.orders <- u:
	default:
		p.logger.Warn("order update channel full, dropping simulated update", "venue_id", u.VenueOrderID)
	}
}

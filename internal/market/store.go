// Package market maintains the local view of venue markets: MarketStore
// mirrors per-ticker book/ticker/trade state from the stream, and Filter is
// the pure entry-candidate predicate evaluated against that state.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

// Store is a concurrency-safe mapping from ticker to Market, fed by
// StreamClient events applied strictly in arrival order. Out-of-order
// updates (older ts than currently stored) are dropped and counted.
type Store struct {
	mu      sync.RWMutex
	markets map[string]types.Market
	dropped int64

	updatesMu sync.Mutex
	updates   chan types.MarketUpdate
}

// NewStore creates an empty market store.
func NewStore() *Store {
	return &Store{
		markets: make(map[string]types.Market),
		updates: make(chan types.MarketUpdate, 256),
	}
}

// Updates returns the channel of normalized MarketUpdate events.
func (s *Store) Updates() <-chan types.MarketUpdate {
	return s.updates
}

// Get returns a copy of the current state for ticker, or false if unknown.
func (s *Store) Get(ticker string) (types.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[ticker]
	return m, ok
}

// All returns a snapshot copy of every tracked market.
func (s *Store) All() []types.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out
}

// DroppedCount returns how many updates were rejected for stale timestamps.
func (s *Store) DroppedCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// ApplyTickerUpdate overwrites best_bid/ask, last_price, volume_24h, and
// last_update_ts for one ticker.
func (s *Store) ApplyTickerUpdate(u types.TickerUpdate) {
	s.mu.Lock()
	m, ok := s.markets[u.Ticker]
	if !ok {
		m = types.Market{Ticker: u.Ticker, Active: true}
	}
	if ok && u.Ts.Before(m.LastUpdateTs) {
		s.dropped++
		s.mu.Unlock()
		return
	}
	m.BestBid = u.BestBid
	m.BestAsk = u.BestAsk
	m.LastPrice = u.LastPrice
	m.Volume24h = u.Volume24h
	m.LastUpdateTs = u.Ts
	s.markets[u.Ticker] = m
	s.mu.Unlock()

	s.emit(u.Ticker, u.Ts)
}

// ApplyOrderBookDelta replaces the provided price levels; a level with zero
// size is removed. bid_liquidity/ask_liquidity are rebuilt as the sum of
// the top-3 remaining levels on each side.
func (s *Store) ApplyOrderBookDelta(d types.OrderBookDelta) {
	s.mu.Lock()
	m, ok := s.markets[d.Ticker]
	if !ok {
		m = types.Market{Ticker: d.Ticker, Active: true}
	}
	if ok && d.Ts.Before(m.LastUpdateTs) {
		s.dropped++
		s.mu.Unlock()
		return
	}

	m.BidLadder = mergeLevels(m.BidLadder, d.Bids)
	m.AskLadder = mergeLevels(m.AskLadder, d.Asks)
	sort.SliceStable(m.BidLadder, func(i, j int) bool { return m.BidLadder[i].Price.GreaterThan(m.BidLadder[j].Price) })
	sort.SliceStable(m.AskLadder, func(i, j int) bool { return m.AskLadder[i].Price.LessThan(m.AskLadder[j].Price) })
	m.BidLiquidity = sumTop3(m.BidLadder)
	m.AskLiquidity = sumTop3(m.AskLadder)
	if len(m.BidLadder) > 0 {
		m.BestBid = m.BidLadder[0].Price
	}
	if len(m.AskLadder) > 0 {
		m.BestAsk = m.AskLadder[0].Price
	}
	m.LastUpdateTs = d.Ts
	s.markets[d.Ticker] = m
	s.mu.Unlock()

	s.emit(d.Ticker, d.Ts)
}

// ApplyTrade updates last_price from a public trade print.
func (s *Store) ApplyTrade(tr types.Trade) {
	s.mu.Lock()
	m, ok := s.markets[tr.Ticker]
	if !ok {
		m = types.Market{Ticker: tr.Ticker, Active: true}
	}
	if ok && tr.Ts.Before(m.LastUpdateTs) {
		s.dropped++
		s.mu.Unlock()
		return
	}
	m.LastPrice = tr.Price
	m.LastUpdateTs = tr.Ts
	s.markets[tr.Ticker] = m
	s.mu.Unlock()

	s.emit(tr.Ticker, tr.Ts)
}

// SeedMarket installs metadata (active/end_time) fetched from RestClient's
// ListMarkets, without touching any stream-derived pricing field.
func (s *Store) SeedMarket(ticker string, active bool, endTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[ticker]
	if !ok {
		m = types.Market{Ticker: ticker}
	}
	m.Active = active
	m.EndTime = endTime
	s.markets[ticker] = m
}

// emit delivers one MarketUpdate for ticker per applied update,
// non-blocking. Updates are not coalesced per ticker: several updates to the
// same ticker queue several notifications.
func (s *Store) emit(ticker string, at time.Time) {
	select {
	case s.updates <- types.MarketUpdate{Ticker: ticker, At: at}:
	default:
		// consumer is behind; the next periodic read of Store.Get will still
		// see the latest state, so dropping the notification is safe.
	}
}

// mergeLevels applies sparse delta levels onto an existing ladder: a delta
// at a price already present replaces that level; size 0 removes it; a new
// price is appended after the existing levels. ApplyOrderBookDelta sorts
// the result afterwards (bids descending, asks ascending).
func mergeLevels(existing, deltas []types.PriceLevel) []types.PriceLevel {
	byPrice := make(map[string]types.PriceLevel, len(existing))
	order := make([]string, 0, len(existing))
	for _, lvl := range existing {
		key := lvl.Price.String()
		byPrice[key] = lvl
		order = append(order, key)
	}

	for _, d := range deltas {
		key := d.Price.String()
		if d.Size.IsZero() {
			delete(byPrice, key)
			continue
		}
		if _, exists := byPrice[key]; !exists {
			order = append(order, key)
		}
		byPrice[key] = d
	}

	out := make([]types.PriceLevel, 0, len(order))
	for _, key := range order {
		if lvl, ok := byPrice[key]; ok {
			out = append(out, lvl)
		}
	}
	return out
}

func sumTop3(levels []types.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	n := len(levels)
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		sum = sum.Add(levels[i].Size)
	}
	return sum
}

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/money"
	"predmarket-trader/pkg/types"
)

const (
	streamReadBuffer  = 256
	streamWriteDeadline = 10 * time.Second
	maxReconnectWait    = 30 * time.Second
)

var streamChannels = []string{"orderbook_delta", "ticker", "trade", "fill", "order_update"}

// StreamClient maintains a single authenticated, bidirectional stream to
// the venue: it subscribes to market and owner channels for a configurable
// set of tickers, reconnects with backoff on any socket error, and detects
// silent failures with a watchdog.
type StreamClient struct {
	url    string
	signer *Signer

	conn   *websocket.Conn
	connMu sync.Mutex

	tickersMu sync.RWMutex
	tickers   map[string]bool

	msgID atomic.Int64

	silenceTimeout time.Duration
	lastMessageMu  sync.Mutex
	lastMessage    time.Time

	tickerCh  chan types.TickerUpdate
	deltaCh   chan types.OrderBookDelta
	tradeCh   chan types.Trade
	fillCh    chan types.Fill
	orderCh   chan types.OrderUpdate

	onReconnect func(ctx context.Context) // invoked after resubscribe, to reconcile via RestClient

	logger *slog.Logger
}

// NewStreamClient creates a stream client. silenceTimeout is the watchdog
// threshold (default 30s per spec) after which a connection with no
// traffic is treated as disconnected.
func NewStreamClient(url string, signer *Signer, silenceTimeout time.Duration, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		url:            url,
		signer:         signer,
		tickers:        make(map[string]bool),
		silenceTimeout: silenceTimeout,
		tickerCh:       make(chan types.TickerUpdate, streamReadBuffer),
		deltaCh:        make(chan types.OrderBookDelta, streamReadBuffer),
		tradeCh:        make(chan types.Trade, streamReadBuffer),
		fillCh:         make(chan types.Fill, streamReadBuffer),
		orderCh:        make(chan types.OrderUpdate, streamReadBuffer),
		logger:         logger.With("component", "stream"),
	}
}

func (s *StreamClient) TickerEvents() <-chan types.TickerUpdate       { return s.tickerCh }
func (s *StreamClient) OrderBookDeltaEvents() <-chan types.OrderBookDelta { return s.deltaCh }
func (s *StreamClient) TradeEvents() <-chan types.Trade               { return s.tradeCh }
func (s *StreamClient) FillEvents() <-chan types.Fill                 { return s.fillCh }
func (s *StreamClient) OrderUpdateEvents() <-chan types.OrderUpdate   { return s.orderCh }

// OnReconnect registers a callback invoked after every successful
// reconnect+resubscribe, intended to reconcile order state via
// RestClient.GetActiveOrders.
func (s *StreamClient) OnReconnect(fn func(ctx context.Context)) {
	s.onReconnect = fn
}

// SetTickers replaces the subscribed ticker set.
func (s *StreamClient) SetTickers(tickers []string) {
	s.tickersMu.Lock()
	defer s.tickersMu.Unlock()
	s.tickers = make(map[string]bool, len(tickers))
	for _, t := range tickers {
		s.tickers[t] = true
	}
}

// Silent reports whether no message has arrived within silenceTimeout.
func (s *StreamClient) Silent() bool {
	s.lastMessageMu.Lock()
	defer s.lastMessageMu.Unlock()
	if s.lastMessage.IsZero() {
		return false
	}
	return time.Since(s.lastMessage) > s.silenceTimeout
}

// LastMessageAge returns how long it has been since the last message was
// received, so callers (RiskManager's disconnect breaker) can apply their
// own thresholds independent of this client's reconnect watchdog. Returns 0
// if no message has ever been received.
func (s *StreamClient) LastMessageAge() time.Duration {
	s.lastMessageMu.Lock()
	defer s.lastMessageMu.Unlock()
	if s.lastMessage.IsZero() {
		return 0
	}
	return time.Since(s.lastMessage)
}

// Run connects and maintains the stream with auto-reconnect. Blocks until
// ctx is cancelled.
func (s *StreamClient) Run(ctx context.Context) error {
	n := 0
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "attempt", n)

		wait := maxReconnectWait
		if n < 5 {
			wait = time.Duration(1<<n) * time.Second
		}
		n++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *StreamClient) connectAndRead(ctx context.Context) error {
	headers, err := s.signer.Headers("GET", "/trade-api/ws/v2")
	if err != nil {
		return fmt.Errorf("sign handshake: %w", err)
	}
	httpHeaders := make(map[string][]string, len(headers))
	for k, v := range headers {
		httpHeaders[k] = []string{v}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, httpHeaders)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.touchLastMessage()

	if err := s.resubscribe(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	if s.onReconnect != nil {
		s.onReconnect(ctx)
	}

	s.logger.Info("stream connected")

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go s.watchdog(watchdogCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.touchLastMessage()
		s.dispatchMessage(msg)
	}
}

// watchdog forces the given connection closed once it has gone silent past
// silenceTimeout, unblocking conn.ReadMessage in connectAndRead's loop so
// Run's reconnect path takes over. A closed socket that keeps reading
// nothing would otherwise never surface as a disconnect on its own.
func (s *StreamClient) watchdog(ctx context.Context, conn *websocket.Conn) {
	if s.silenceTimeout <= 0 {
		return
	}
	interval := s.silenceTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Silent() {
				continue
			}
			s.logger.Warn("stream watchdog: no message within silence timeout, forcing reconnect",
				"silence_timeout", s.silenceTimeout, "age", s.LastMessageAge())
			s.connMu.Lock()
			if s.conn == conn {
				conn.Close()
			}
			s.connMu.Unlock()
			return
		}
	}
}

func (s *StreamClient) touchLastMessage() {
	s.lastMessageMu.Lock()
	s.lastMessage = time.Now()
	s.lastMessageMu.Unlock()
}

// resubscribe sends a subscribe command with a monotonically increasing
// message id for every configured channel, scoped to the current ticker
// set. Duplicate/non-increasing ids are never reused across reconnects.
func (s *StreamClient) resubscribe() error {
	s.tickersMu.RLock()
	tickers := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		tickers = append(tickers, t)
	}
	s.tickersMu.RUnlock()

	msg := subscribeCommand{
		ID:  s.nextMsgID(),
		Cmd: "subscribe",
	}
	msg.Params.Channels = streamChannels
	msg.Params.MarketTickers = tickers

	return s.writeJSON(msg)
}

func (s *StreamClient) nextMsgID() int64 {
	return s.msgID.Add(1)
}

func (s *StreamClient) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
	return s.conn.WriteJSON(v)
}

type subscribeCommand struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params struct {
		Channels      []string `json:"channels"`
		MarketTickers []string `json:"market_tickers"`
	} `json:"params"`
}

func (s *StreamClient) dispatchMessage(data []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Msg  json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "ticker":
		var w tickerWire
		if err := json.Unmarshal(envelope.Msg, &w); err != nil {
			s.logger.Error("unmarshal ticker", "error", err)
			return
		}
		send(s.tickerCh, types.TickerUpdate{
			Ticker:    w.Ticker,
			BestBid:   money.CentsToDollars(w.YesBid),
			BestAsk:   money.CentsToDollars(w.YesAsk),
			LastPrice: money.CentsToDollars(w.LastPrice),
			Volume24h: money.CentsToDollars(w.Volume),
			Ts:        time.Now(),
		}, s.logger, "ticker")

	case "orderbook_delta":
		var w orderbookDeltaWire
		if err := json.Unmarshal(envelope.Msg, &w); err != nil {
			s.logger.Error("unmarshal orderbook_delta", "error", err)
			return
		}
		send(s.deltaCh, types.OrderBookDelta{
			Ticker: w.Ticker,
			Bids:   levelsFromPairs(w.Yes),
			Asks:   levelsFromPairs(w.No),
			Ts:     time.Now(),
		}, s.logger, "orderbook_delta")

	case "trade":
		var w tradeWire
		if err := json.Unmarshal(envelope.Msg, &w); err != nil {
			s.logger.Error("unmarshal trade", "error", err)
			return
		}
		send(s.tradeCh, types.Trade{
			Ticker: w.Ticker,
			Price:  money.CentsToDollars(w.Price),
			Size:   decimal.NewFromInt(w.Count),
			Ts:     time.Now(),
		}, s.logger, "trade")

	case "fill":
		var w fillWire
		if err := json.Unmarshal(envelope.Msg, &w); err != nil {
			s.logger.Error("unmarshal fill", "error", err)
			return
		}
		send(s.fillCh, types.Fill{
			VenueOrderID: w.OrderID,
			Ticker:       w.Ticker,
			Count:        w.Count,
			Price:        money.CentsToDollars(w.Price),
			Ts:           time.Now(),
		}, s.logger, "fill")

	case "order_update":
		var w orderUpdateWire
		if err := json.Unmarshal(envelope.Msg, &w); err != nil {
			s.logger.Error("unmarshal order_update", "error", err)
			return
		}
		send(s.orderCh, types.OrderUpdate{
			VenueOrderID: w.OrderID,
			Status:       w.Status,
			Remaining:    w.RemainingCount,
			Ts:           time.Now(),
		}, s.logger, "order_update")

	default:
		s.logger.Debug("unknown stream event type", "type", envelope.Type)
	}
}

// send delivers an event to ch without blocking, dropping it (with a log
// line) if the consumer hasn't kept up.
func send[T any](ch chan T, evt T, logger *slog.Logger, kind string) {
	select {
	case ch <- evt:
	default:
		logger.Warn("stream channel full, dropping event", "kind", kind)
	}
}

type tickerWire struct {
	Ticker    string `json:"market_ticker"`
	YesBid    int64  `json:"yes_bid"`
	YesAsk    int64  `json:"yes_ask"`
	LastPrice int64  `json:"price"`
	Volume    int64  `json:"volume"`
}

type orderbookDeltaWire struct {
	Ticker string     `json:"market_ticker"`
	Yes    [][2]int64 `json:"yes"`
	No     [][2]int64 `json:"no"`
}

type tradeWire struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"yes_price"`
	Count  int64  `json:"count"`
}

type fillWire struct {
	OrderID string `json:"order_id"`
	Ticker  string `json:"market_ticker"`
	Count   int64  `json:"count"`
	Price   int64  `json:"yes_price"`
}

type orderUpdateWire struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	RemainingCount int64  `json:"remaining_count"`
}

// Package exchange implements the venue's REST and WebSocket clients: RSA-PSS
// request signing (auth.go), dual token-bucket rate limiting (ratelimit.go),
// the REST entry point (client.go), and the authenticated streaming feed
// (stream.go).
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/money"
	"predmarket-trader/pkg/types"
)

var retryBackoffs = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// RestClient is the single entry point for venue REST calls. Every call
// passes through RateLimiter then Signer, and increments success/error
// counters RiskManager reads for the API-error-rate breaker.
type RestClient struct {
	http    *resty.Client
	signer  *Signer
	rl      *RateLimiter
	logger  *slog.Logger
	success atomic.Int64
	errors  atomic.Int64
}

// NewRestClient creates a REST client bound to the given base URL, signer,
// and rate limiter.
func NewRestClient(baseURL string, signer *Signer, rl *RateLimiter, logger *slog.Logger) *RestClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &RestClient{
		http:   httpClient,
		signer: signer,
		rl:     rl,
		logger: logger,
	}
}

// Counters returns the (success, error) call counts accumulated so far.
func (c *RestClient) Counters() (success, errorCount int64) {
	return c.success.Load(), c.errors.Load()
}

// ListMarkets fetches one page of open markets.
func (c *RestClient) ListMarkets(ctx context.Context, cursor string) ([]types.Market, string, error) {
	var result listMarketsResponse
	req := func(r *resty.Request) (*resty.Response, error) {
		if cursor != "" {
			r.SetQueryParam("cursor", cursor)
		}
		return r.SetResult(&result).Get("/markets")
	}
	if _, err := c.do(ctx, Read, http.MethodGet, "/markets", req); err != nil {
		return nil, "", err
	}

	markets := make([]types.Market, 0, len(result.Markets))
	for _, m := range result.Markets {
		endTime, _ := time.Parse(time.RFC3339, m.CloseTime)
		markets = append(markets, types.Market{
			Ticker:  m.Ticker,
			Active:  m.Status == "active",
			EndTime: endTime,
		})
	}
	return markets, result.Cursor, nil
}

// GetOrderBook fetches the top-depth order book for one ticker.
func (c *RestClient) GetOrderBook(ctx context.Context, ticker string) (types.Market, error) {
	var result orderBookResponse
	path := fmt.Sprintf("/markets/%s/orderbook", ticker)
	req := func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&result).Get(path)
	}
	if _, err := c.do(ctx, Read, http.MethodGet, path, req); err != nil {
		return types.Market{}, err
	}

	m := types.Market{Ticker: ticker}
	m.BidLadder = levelsFromPairs(result.Yes)
	m.AskLadder = levelsFromPairs(result.No)
	if len(m.BidLadder) > 0 {
		m.BestBid = m.BidLadder[0].Price
	}
	if len(m.AskLadder) > 0 {
		m.BestAsk = m.AskLadder[0].Price
	}
	return m, nil
}

func levelsFromPairs(pairs [][2]int64) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if p[1] <= 0 {
			continue
		}
		levels = append(levels, types.PriceLevel{
			Price: money.CentsToDollars(p[0]),
			Size:  decimal.NewFromInt(p[1]),
		})
	}
	return levels
}

// SubmitOrder places a single order. price is clamped to [1,99] cents;
// count ≤ 0 is rejected locally without a network call.
func (c *RestClient) SubmitOrder(ctx context.Context, clientID, ticker string, side types.Side, priceCents, count int64) (string, error) {
	if count <= 0 {
		return "", fmt.Errorf("submit order: count must be > 0, got %d", count)
	}
	if priceCents < 1 {
		priceCents = 1
	}
	if priceCents > 99 {
		priceCents = 99
	}

	body := submitOrderRequest{
		Ticker:   ticker,
		ClientID: clientID,
		Side:     string(side),
		Action:   "buy",
		Type:     "limit",
		Price:    priceCents,
		Count:    count,
	}
	var result submitOrderResponse
	req := func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).SetResult(&result).Post("/portfolio/orders")
	}
	if _, err := c.do(ctx, Write, http.MethodPost, "/portfolio/orders", req); err != nil {
		return "", err
	}
	return result.Order.OrderID, nil
}

// CancelOrder cancels a resting order. A 404 is treated as success
// (idempotent — the order is already gone).
func (c *RestClient) CancelOrder(ctx context.Context, venueID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", venueID)
	req := func(r *resty.Request) (*resty.Response, error) {
		return r.Delete(path)
	}
	_, err := c.do(ctx, Write, http.MethodDelete, path, req)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusNotFound {
		return nil
	}
	return err
}

// GetOrder fetches the current status of one order.
func (c *RestClient) GetOrder(ctx context.Context, venueID string) (types.Order, error) {
	var result getOrderResponse
	path := fmt.Sprintf("/portfolio/orders/%s", venueID)
	req := func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&result).Get(path)
	}
	if _, err := c.do(ctx, Read, http.MethodGet, path, req); err != nil {
		return types.Order{}, err
	}
	return orderFromWire(result.Order), nil
}

// GetActiveOrders fetches all currently open orders, used at startup to
// reconcile OrderManager state.
func (c *RestClient) GetActiveOrders(ctx context.Context) ([]types.Order, error) {
	var orders []types.Order
	cursor := ""
	for {
		var result getActiveOrdersResponse
		req := func(r *resty.Request) (*resty.Response, error) {
			if cursor != "" {
				r.SetQueryParam("cursor", cursor)
			}
			return r.SetQueryParam("status", "resting").SetResult(&result).Get("/portfolio/orders")
		}
		if _, err := c.do(ctx, Read, http.MethodGet, "/portfolio/orders", req); err != nil {
			return nil, err
		}
		for _, w := range result.Orders {
			orders = append(orders, orderFromWire(w))
		}
		if result.Cursor == "" {
			break
		}
		cursor = result.Cursor
	}
	return orders, nil
}

// GetBalance fetches the account's current cash balance in dollars.
func (c *RestClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var result getBalanceResponse
	req := func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&result).Get("/portfolio/balance")
	}
	if _, err := c.do(ctx, Read, http.MethodGet, "/portfolio/balance", req); err != nil {
		return decimal.Decimal{}, err
	}
	return money.CentsToDollars(result.BalanceCents), nil
}

func orderFromWire(w orderWire) types.Order {
	o := types.Order{
		ClientID: w.ClientOrderID,
		VenueID:  w.OrderID,
		Ticker:   w.Ticker,
		Price:    money.CentsToDollars(w.YesPrice),
	}
	switch w.Side {
	case "yes":
		o.Side = types.Buy
	default:
		o.Side = types.Sell
	}
	o.Status = normalizeStatus(w.Status)
	o.FilledSize = money.CentsToDollars(w.YesPrice).Mul(decimal.NewFromInt(w.FilledCount))
	return o
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

// statusError wraps a non-2xx HTTP response so callers can branch on status.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// do runs a signed, rate-limited request with retry on transient failure.
// fn must set method-specific options on the request and invoke it.
func (c *RestClient) do(ctx context.Context, kind BucketKind, method, path string, fn func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.rl.Acquire(ctx, kind); err != nil {
			return nil, err
		}

		headers, err := c.signer.Headers(method, path)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}

		resp, err := fn(c.http.R().SetContext(ctx).SetHeaders(headers))

		if err == nil && resp.StatusCode() == http.StatusTooManyRequests {
			c.rl.Report(kind, true)
			err = &statusError{status: resp.StatusCode(), body: resp.String()}
		} else if err == nil && resp.StatusCode() >= 400 {
			c.rl.Report(kind, false)
			err = &statusError{status: resp.StatusCode(), body: resp.String()}
		} else if err == nil {
			c.rl.Report(kind, false)
		}

		if err == nil {
			c.success.Add(1)
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt >= len(retryBackoffs) {
			c.errors.Add(1)
			return resp, lastErr
		}

		wait := retryBackoffs[attempt]
		jittered := wait/2 + time.Duration(rand.Int63n(int64(wait)/2+1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}
	}
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusNotImplemented {
			return false
		}
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// network-level errors (timeouts, connection reset) are transient
	return true
}

package exchange

// Wire-format types exchanged with the venue's REST API. Prices and
// balances are integer cents/dollars on the wire; RestClient converts to
// decimal dollars at the boundary via pkg/money. These never leak past
// internal/exchange.

type marketWire struct {
	Ticker    string `json:"ticker"`
	Status    string `json:"status"`
	CloseTime string `json:"close_time"`
}

type listMarketsResponse struct {
	Markets []marketWire `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type orderBookResponse struct {
	Yes [][2]int64 `json:"yes"` // [price_cents, size]
	No  [][2]int64 `json:"no"`
}

type submitOrderRequest struct {
	Ticker     string `json:"ticker"`
	ClientID   string `json:"client_order_id"`
	Side       string `json:"side"`
	Action     string `json:"action"`
	Type       string `json:"type"`
	Price      int64  `json:"yes_price"`
	Count      int64  `json:"count"`
}

type orderWire struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	RemainingCount int64  `json:"remaining_count"`
	FilledCount    int64  `json:"filled_count"`
}

type submitOrderResponse struct {
	Order orderWire `json:"order"`
}

type getOrderResponse struct {
	Order orderWire `json:"order"`
}

type getActiveOrdersResponse struct {
	Orders []orderWire `json:"orders"`
	Cursor string      `json:"cursor"`
}

type getBalanceResponse struct {
	BalanceCents int64 `json:"balance"`
}

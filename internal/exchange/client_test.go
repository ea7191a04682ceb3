package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"predmarket-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RestClient, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	signer := testSigner(t)
	rl := NewRateLimiter(1000, 1000)
	c := NewRestClient(srv.URL, signer, rl, testLogger())
	return c, srv.Close
}

func TestSubmitOrderRejectsNonPositiveCount(t *testing.T) {
	t.Parallel()
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected HTTP call for a locally-rejected order")
	})
	defer closeSrv()

	_, err := c.SubmitOrder(context.Background(), "cid-1", "TICKER-1", types.Buy, 50, 0)
	if err == nil {
		t.Fatal("expected error for count <= 0")
	}
}

func TestSubmitOrderClampsPrice(t *testing.T) {
	t.Parallel()

	var gotPrice int64
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body submitOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrice = body.Price
		_ = json.NewEncoder(w).Encode(submitOrderResponse{Order: orderWire{OrderID: "v1"}})
	})
	defer closeSrv()

	if _, err := c.SubmitOrder(context.Background(), "cid-1", "TICKER-1", types.Buy, 150, 10); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if gotPrice != 99 {
		t.Errorf("price = %d, want clamped to 99", gotPrice)
	}
}

func TestCancelOrderTreats404AsSuccess(t *testing.T) {
	t.Parallel()
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeSrv()

	if err := c.CancelOrder(context.Background(), "missing-order"); err != nil {
		t.Errorf("CancelOrder on 404 = %v, want nil (idempotent)", err)
	}
}

func TestGetBalanceConvertsCentsToDollars(t *testing.T) {
	t.Parallel()
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(getBalanceResponse{BalanceCents: 123456})
	})
	defer closeSrv()

	bal, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := bal.StringFixed(2); got != "1234.56" {
		t.Errorf("balance = %s, want 1234.56", got)
	}
}

func TestRetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()
	attempts := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(getBalanceResponse{BalanceCents: 100})
	})
	defer closeSrv()

	if _, err := c.GetBalance(context.Background()); err != nil {
		t.Fatalf("GetBalance after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDoesNotRetryOn4xx(t *testing.T) {
	t.Parallel()
	attempts := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	})
	defer closeSrv()

	if _, err := c.GetBalance(context.Background()); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestGetActiveOrdersFollowsCursor(t *testing.T) {
	t.Parallel()
	page := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			_ = json.NewEncoder(w).Encode(getActiveOrdersResponse{
				Orders: []orderWire{{OrderID: "a", Status: "resting"}},
				Cursor: "next",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(getActiveOrdersResponse{
			Orders: []orderWire{{OrderID: "b", Status: "resting"}},
		})
	})
	defer closeSrv()

	orders, err := c.GetActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("GetActiveOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders across pages, got %d", len(orders))
	}
}

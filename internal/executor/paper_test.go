package executor

import (
	"context"
	"testing"
	"time"

	"predmarket-trader/internal/market"
	"predmarket-trader/pkg/types"
)

func newTestPaperExecutor() (*PaperExecutor, *market.Store, chan types.OrderUpdate, chan types.Fill) {
	store := market.NewStore()
	store.SeedMarket("TICKER-1", true, time.Now().Add(time.Hour))
	store.ApplyTickerUpdate(types.TickerUpdate{
		Ticker: "TICKER-1", BestBid: dec("0.58"), BestAsk: dec("0.60"), Ts: time.Now(),
	})

	updates := make(chan types.OrderUpdate, 8)
	fills := make(chan types.Fill, 8)
	p := NewPaperExecutor(store, updates, fills, testLogger())
	return p, store, updates, fills
}

func TestPaperSubmitOrderDoesNotFillImmediately(t *testing.T) {
	t.Parallel()
	p, _, updates, fills := newTestPaperExecutor()

	if _, err := p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Buy, 60, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case u := <-updates:
		t.Fatalf("expected no immediate update, got %+v", u)
	case f := <-fills:
		t.Fatalf("expected no immediate fill, got %+v", f)
	default:
	}
}

func TestPaperEvaluateFillsMarketableBuy(t *testing.T) {
	t.Parallel()
	p, store, updates, fills := newTestPaperExecutor()

	venueID, _ := p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Buy, 60, 100)
	store.ApplyTickerUpdate(types.TickerUpdate{
		Ticker: "TICKER-1", BestBid: dec("0.58"), BestAsk: dec("0.59"), Ts: time.Now(),
	})

	p.EvaluateFills("TICKER-1")

	select {
	case u := <-updates:
		if u.VenueOrderID != venueID || u.Status != "filled" {
			t.Errorf("update = %+v, want filled for %s", u, venueID)
		}
	default:
		t.Fatal("expected an order update after a marketable buy")
	}

	select {
	case f := <-fills:
		if f.VenueOrderID != venueID || f.Count != 100 {
			t.Errorf("fill = %+v, want count 100 for %s", f, venueID)
		}
	default:
		t.Fatal("expected a fill after a marketable buy")
	}
}

func TestPaperEvaluateFillsLeavesNonMarketableResting(t *testing.T) {
	t.Parallel()
	p, store, updates, _ := newTestPaperExecutor()

	p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Buy, 50, 100) // wants ask <= 0.50, ask is 0.60
	store.ApplyTickerUpdate(types.TickerUpdate{
		Ticker: "TICKER-1", BestBid: dec("0.58"), BestAsk: dec("0.60"), Ts: time.Now(),
	})

	p.EvaluateFills("TICKER-1")

	select {
	case u := <-updates:
		t.Fatalf("expected order to remain resting, got %+v", u)
	default:
	}
}

func TestPaperEvaluateFillsMarketableSell(t *testing.T) {
	t.Parallel()
	p, store, updates, fills := newTestPaperExecutor()

	venueID, _ := p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Sell, 55, 50)
	store.ApplyTickerUpdate(types.TickerUpdate{
		Ticker: "TICKER-1", BestBid: dec("0.56"), BestAsk: dec("0.60"), Ts: time.Now(),
	})

	p.EvaluateFills("TICKER-1")

	select {
	case u := <-updates:
		if u.VenueOrderID != venueID || u.Status != "filled" {
			t.Errorf("update = %+v, want filled", u)
		}
	default:
		t.Fatal("expected a fill when best_bid clears the sell limit price")
	}
	select {
	case <-fills:
	default:
		t.Fatal("expected a fill event")
	}
}

func TestPaperCancelOrderRemovesRestingOrder(t *testing.T) {
	t.Parallel()
	p, store, updates, _ := newTestPaperExecutor()

	venueID, _ := p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Buy, 50, 100)
	if err := p.CancelOrder(context.Background(), venueID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case u := <-updates:
		if u.Status != "cancelled" {
			t.Errorf("status = %s, want cancelled", u.Status)
		}
	default:
		t.Fatal("expected a cancellation update")
	}

	// a fill-worthy market update after cancellation must not resurrect it
	store.ApplyTickerUpdate(types.TickerUpdate{
		Ticker: "TICKER-1", BestBid: dec("0.58"), BestAsk: dec("0.40"), Ts: time.Now(),
	})
	p.EvaluateFills("TICKER-1")
	select {
	case u := <-updates:
		t.Fatalf("expected no further updates for a cancelled order, got %+v", u)
	default:
	}
}

func TestPaperCancelUnknownOrderIsSuccess(t *testing.T) {
	t.Parallel()
	p, _, _, _ := newTestPaperExecutor()
	if err := p.CancelOrder(context.Background(), "nonexistent"); err != nil {
		t.Errorf("expected nil error cancelling an unknown order, got %v", err)
	}
}

func TestPaperEntryTimeoutExpiresUnfilledOrder(t *testing.T) {
	t.Parallel()
	p, _, updates, _ := newTestPaperExecutor()

	venueID, _ := p.SubmitOrder(context.Background(), "c1", "TICKER-1", types.Buy, 50, 100)

	p.mu.Lock()
	p.resting[venueID].createdAt = time.Now().Add(-2 * paperEntryTimeout)
	p.mu.Unlock()

	p.EvaluateFills("TICKER-1")

	select {
	case u := <-updates:
		if u.Status != "cancelled" {
			t.Errorf("status = %s, want cancelled after entry timeout", u.Status)
		}
	default:
		t.Fatal("expected the stale entry to expire")
	}
}

package order

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predmarket-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRegisterIndexesByBothIDs(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	if _, ok := m.Get("v1"); !ok {
		t.Error("expected order to be indexed by venue_id")
	}
	if _, ok := m.GetByClientID("c1"); !ok {
		t.Error("expected order to be indexed by client_id")
	}
}

func TestHandleOrderUpdateNormalizesStatusWithoutTouchingFilledSize(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	m.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v1", Status: "resting", Remaining: 200})
	o, _ := m.Get("v1")
	if o.Status != types.OrderOpen {
		t.Errorf("status = %s, want OPEN", o.Status)
	}
	if !o.FilledSize.IsZero() {
		t.Errorf("filled_size = %s, want 0, HandleOrderUpdate must never set it", o.FilledSize)
	}

	m.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v1", Status: "executed", Remaining: 0})
	o, _ = m.Get("v1")
	if o.Status != types.OrderFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
	if !o.FilledSize.IsZero() {
		t.Errorf("filled_size = %s, want 0, HandleOrderUpdate must never set it", o.FilledSize)
	}
}

// TestFillIsSoleFilledSizeAuthority locks in the fix for a double-accounting
// bug: a real execution delivers both a Fill and an OrderUpdate over the
// stream for the same contracts. HandleOrderUpdate used to recompute
// filled_size from (total-remaining)*price independently of HandleFill's
// running total, so the two handlers disagreed and filled_size could end up
// above size. Now only HandleFill may advance filled_size, in either
// delivery order.
func TestFillIsSoleFilledSizeAuthority(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	m.HandleFill(types.Fill{VenueOrderID: "v1", Count: 200, Price: dec("0.50"), Ts: time.Now()})
	m.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v1", Status: "executed", Remaining: 0})

	o, _ := m.Get("v1")
	if !o.FilledSize.Equal(dec("100")) {
		t.Errorf("filled_size = %s, want 100", o.FilledSize)
	}
	if o.FilledSize.GreaterThan(o.Size) {
		t.Errorf("filled_size %s exceeds size %s", o.FilledSize, o.Size)
	}

	m2 := NewManager(testLogger())
	m2.Register(types.Order{ClientID: "c2", VenueID: "v2", Size: dec("100"), Price: dec("0.50")})

	m2.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v2", Status: "executed", Remaining: 0})
	m2.HandleFill(types.Fill{VenueOrderID: "v2", Count: 200, Price: dec("0.50"), Ts: time.Now()})

	o2, _ := m2.Get("v2")
	if !o2.FilledSize.Equal(dec("100")) {
		t.Errorf("filled_size = %s, want 100", o2.FilledSize)
	}
	if o2.FilledSize.GreaterThan(o2.Size) {
		t.Errorf("filled_size %s exceeds size %s", o2.FilledSize, o2.Size)
	}
}

func TestHandleOrderUpdateDeliversTerminal(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	m.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v1", Status: "canceled", Remaining: 50})

	select {
	case o := <-m.Terminal():
		if o.Status != types.OrderCancelled {
			t.Errorf("status = %s, want CANCELLED", o.Status)
		}
	default:
		t.Fatal("expected a terminal delivery for a cancelled order")
	}
}

func TestHandleOrderUpdateIgnoresNonTerminalDelivery(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	m.HandleOrderUpdate(types.OrderUpdate{VenueOrderID: "v1", Status: "resting", Remaining: 100})

	select {
	case <-m.Terminal():
		t.Fatal("expected no terminal delivery for an open order")
	default:
	}
}

func TestHandleFillAccumulatesAndMarksPartial(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.Register(types.Order{ClientID: "c1", VenueID: "v1", Size: dec("100"), Price: dec("0.50")})

	m.HandleFill(types.Fill{VenueOrderID: "v1", Count: 100, Price: dec("0.50"), Ts: time.Now()})
	o, _ := m.Get("v1")
	if o.Status != types.OrderPartiallyFilled {
		t.Errorf("status = %s, want PARTIALLY_FILLED", o.Status)
	}
	if !o.FilledSize.Equal(dec("50")) {
		t.Errorf("filled_size = %s, want 50", o.FilledSize)
	}

	m.HandleFill(types.Fill{VenueOrderID: "v1", Count: 100, Price: dec("0.50"), Ts: time.Now()})
	o, _ = m.Get("v1")
	if o.Status != types.OrderFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
}

func TestHandleFillUnknownOrderIsNoop(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	m.HandleFill(types.Fill{VenueOrderID: "missing", Count: 1, Price: dec("0.5"), Ts: time.Now()})
	select {
	case <-m.Terminal():
		t.Fatal("expected no terminal delivery for an unknown order")
	default:
	}
}

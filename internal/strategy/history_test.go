package strategy

import (
	"testing"

	"predmarket-trader/pkg/types"
)

func TestHistoryRecordAndLast(t *testing.T) {
	t.Parallel()
	h := NewHistory(3)

	for i := 0; i < 5; i++ {
		h.Record(types.Signal{Ticker: string(rune('A' + i))})
	}

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (capacity enforced)", h.Len())
	}

	last := h.Last(10)
	if len(last) != 3 {
		t.Fatalf("Last(10) returned %d entries, want 3", len(last))
	}
	// oldest two (A, B) should have been evicted; C, D, E remain in order
	want := []string{"C", "D", "E"}
	for i, s := range last {
		if s.Ticker != want[i] {
			t.Errorf("last[%d] = %s, want %s", i, s.Ticker, want[i])
		}
	}
}

func TestHistoryLastCapsAtAvailable(t *testing.T) {
	t.Parallel()
	h := NewHistory(5)
	h.Record(types.Signal{Ticker: "A"})

	if got := h.Last(10); len(got) != 1 {
		t.Errorf("Last(10) with 1 recorded = %d entries, want 1", len(got))
	}
}

package risk

import (
	"sync"
	"time"

	"predmarket-trader/pkg/types"
)

// breakerState is the per-breaker trip/reset bookkeeping held under the
// Breakers mutex.
type breakerState struct {
	active    bool
	reason    string
	trippedAt time.Time
}

// apiErrorWindow is a fixed-size ring of the trailing REST call outcomes,
// used to derive the API error rate breaker's trip condition.
type apiErrorWindow struct {
	results [100]bool // true = error
	filled  bool
	pos     int
}

func (w *apiErrorWindow) record(isError bool) {
	w.results[w.pos] = isError
	w.pos++
	if w.pos >= len(w.results) {
		w.pos = 0
		w.filled = true
	}
}

// errorRate returns the fraction of recorded calls that errored. Returns 0
// until the window has at least one sample.
func (w *apiErrorWindow) errorRate() float64 {
	n := len(w.results)
	if !w.filled {
		n = w.pos
	}
	if n == 0 {
		return 0
	}
	errs := 0
	for i := 0; i < n; i++ {
		if w.results[i] {
			errs++
		}
	}
	return float64(errs) / float64(n)
}

// Breakers holds the state of the four independent circuit breakers. Any
// one active sets the manager's global active=true and rejects new entries;
// existing positions keep their resting exits regardless of breaker state.
type Breakers struct {
	mu     sync.RWMutex
	states map[types.BreakerKind]*breakerState

	apiErrors       apiErrorWindow
	consecutiveLoss int
}

// breakerKindOrder fixes the precedence used to pick a single reported
// breaker when more than one is tripped at once. Without a declared order,
// ranging over the states map would make /status/breakers and notification
// content flap between calls for the same underlying state.
var breakerKindOrder = []types.BreakerKind{
	types.BreakerDailyLoss,
	types.BreakerConsecutiveLosses,
	types.BreakerAPIErrorRate,
	types.BreakerStreamDisconnect,
}

func newBreakers() *Breakers {
	b := &Breakers{
		states: make(map[types.BreakerKind]*breakerState, 4),
	}
	for _, kind := range []types.BreakerKind{
		types.BreakerDailyLoss,
		types.BreakerConsecutiveLosses,
		types.BreakerAPIErrorRate,
		types.BreakerStreamDisconnect,
	} {
		b.states[kind] = &breakerState{}
	}
	return b
}

func (b *Breakers) trip(kind types.BreakerKind, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.states[kind]
	if s.active {
		return
	}
	s.active = true
	s.reason = reason
	s.trippedAt = time.Now()
}

func (b *Breakers) reset(kind types.BreakerKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.states[kind]
	s.active = false
	s.reason = ""
}

// snapshot returns the aggregate CircuitBreakerState: active if any breaker
// is tripped, reporting the highest-precedence tripped breaker's reason and
// kind per breakerKindOrder. Iterating the map directly would make the
// reported kind/reason flap between calls when multiple breakers trip at
// once, since Go randomizes map iteration order.
func (b *Breakers) snapshot() types.CircuitBreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, kind := range breakerKindOrder {
		s := b.states[kind]
		if s.active {
			return types.CircuitBreakerState{
				Active:    true,
				Reason:    s.reason,
				Kind:      kind,
				TrippedAt: s.trippedAt,
			}
		}
	}
	return types.CircuitBreakerState{Active: false}
}

// recordAPIResult folds one REST call outcome into the trailing-100 window
// and trips the API error rate breaker once the error rate reaches limit.
// It never resets the breaker; only Manager.ResetBreaker clears it.
func (b *Breakers) recordAPIResult(isError bool, limit float64) {
	b.mu.Lock()
	b.apiErrors.record(isError)
	rate := b.apiErrors.errorRate()
	b.mu.Unlock()

	if rate >= limit {
		b.trip(types.BreakerAPIErrorRate, "api error rate above threshold")
	}
}

// recordTradeClose folds one closed trade's outcome into the consecutive
// loss counter, tripping the breaker on the Nth loss in a row and resetting
// it on the next win.
func (b *Breakers) recordTradeClose(won bool, maxConsecutiveLosses int) {
	b.mu.Lock()
	if won {
		b.consecutiveLoss = 0
	} else {
		b.consecutiveLoss++
	}
	trip := b.consecutiveLoss >= maxConsecutiveLosses
	b.mu.Unlock()

	if won {
		b.reset(types.BreakerConsecutiveLosses)
	} else if trip {
		b.trip(types.BreakerConsecutiveLosses, "consecutive losing closures")
	}
}

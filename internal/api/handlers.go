package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"predmarket-trader/pkg/types"
)

// StateProvider is the read/control surface the engine orchestrator
// implements so Handlers never imports internal/engine directly.
type StateProvider interface {
	AccountSnapshot() types.Account
	Positions() []types.Position
	BreakerSnapshot() types.CircuitBreakerState
	StreamAge() time.Duration
	RecentSignals(n int) []types.Signal

	Pause()
	Resume()
	EmergencyStop()
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	provider       StateProvider
	allowedOrigins []string
	hub            *Hub
	logger         *slog.Logger
}

// NewHandlers creates a handler set bound to the engine's state provider.
func NewHandlers(provider StateProvider, allowedOrigins []string, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider:       provider,
		allowedOrigins: allowedOrigins,
		hub:            hub,
		logger:         logger.With("component", "api_handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleHealth answers the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleAccountStatus answers GET /status/account.
func (h *Handlers) HandleAccountStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, NewAccountStatus(h.provider.AccountSnapshot()))
}

// HandlePositionsStatus answers GET /status/positions.
func (h *Handlers) HandlePositionsStatus(w http.ResponseWriter, r *http.Request) {
	positions := h.provider.Positions()
	out := make([]PositionStatus, 0, len(positions))
	for _, p := range positions {
		out = append(out, NewPositionStatus(p))
	}
	h.writeJSON(w, out)
}

// HandleBreakersStatus answers GET /status/breakers.
func (h *Handlers) HandleBreakersStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, NewBreakerStatus(h.provider.BreakerSnapshot()))
}

// HandleStreamStatus answers GET /status/stream.
func (h *Handlers) HandleStreamStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, StreamStatus{LastMessageAgeMs: h.provider.StreamAge().Milliseconds()})
}

// HandleSignalsStatus answers GET /status/signals?n=20.
func (h *Handlers) HandleSignalsStatus(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	signals := h.provider.RecentSignals(n)
	out := make([]SignalStatus, 0, len(signals))
	for _, s := range signals {
		out = append(out, NewSignalStatus(s))
	}
	h.writeJSON(w, out)
}

// HandleControlStart resumes trading after a pause.
func (h *Handlers) HandleControlStart(w http.ResponseWriter, r *http.Request) {
	h.provider.Resume()
	h.writeJSON(w, map[string]string{"status": "resumed"})
}

// HandleControlStop pauses new entries gracefully; open positions continue
// to be managed by their resting exits.
func (h *Handlers) HandleControlStop(w http.ResponseWriter, r *http.Request) {
	h.provider.Pause()
	h.writeJSON(w, map[string]string{"status": "paused"})
}

// HandleControlEmergencyStop force-exits every open position immediately.
func (h *Handlers) HandleControlEmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.provider.EmergencyStop()
	h.writeJSON(w, map[string]string{"status": "emergency_stop"})
}

// HandleWebSocket upgrades the connection and registers a new Client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return h.isOriginAllowed(req.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func (h *Handlers) isOriginAllowed(origin string) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

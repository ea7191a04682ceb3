package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the control-surface HTTP server.
type Config struct {
	Enabled        bool
	Port           int
	AllowedOrigins []string
}

// Server runs the control-surface HTTP/WebSocket API.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the control surface to provider, the engine's read/control
// implementation.
func NewServer(cfg Config, provider StateProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg.AllowedOrigins, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/status/account", handlers.HandleAccountStatus)
	mux.HandleFunc("/status/positions", handlers.HandlePositionsStatus)
	mux.HandleFunc("/status/breakers", handlers.HandleBreakersStatus)
	mux.HandleFunc("/status/stream", handlers.HandleStreamStatus)
	mux.HandleFunc("/status/signals", handlers.HandleSignalsStatus)
	mux.HandleFunc("/control/start", handlers.HandleControlStart)
	mux.HandleFunc("/control/stop", handlers.HandleControlStop)
	mux.HandleFunc("/control/emergency-stop", handlers.HandleControlEmergencyStop)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "api_server"),
	}
}

// Hub exposes the event hub so the engine orchestrator can push live events.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and the HTTP server. Blocks until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("control surface starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

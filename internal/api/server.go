// Package api exposes the HTTP surface: health and stats endpoints
// plus the websocket voice bridge the telephony gateway connects to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/buildinfo"
	"github.com/hlibko/vika-voice-agent/internal/events"
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/memory"
)

// TurnProcessor runs one conversational turn. *agent.Orchestrator
// satisfies it; tests substitute a fake.
type TurnProcessor interface {
	Process(ctx context.Context, userText string, history []llm.Message) (string, []llm.Message)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP server hosting the voice bridge.
type Server struct {
	address   string
	port      int
	processor TurnProcessor
	archive   *memory.Archive
	bus       *events.Bus
	logger    *slog.Logger
	server    *http.Server

	active atomic.Int64
}

// NewServer creates the server. The archive and bus may be nil.
func NewServer(address string, port int, processor TurnProcessor, archive *memory.Archive, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		processor: processor,
		archive:   archive,
		bus:       bus,
		logger:    logger,
	}
}

// Start runs the server. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/calls/{id}", s.handleCallGet)
	mux.HandleFunc("GET /ws/call", s.handleCall)
	mux.HandleFunc("GET /", s.handleRoot)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(mux),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket calls stay open for minutes.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ActiveCalls returns the number of websocket calls in progress.
func (s *Server) ActiveCalls() int {
	return int(s.active.Load())
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Vika",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"active_calls": s.ActiveCalls(),
		"uptime":       buildinfo.Uptime().Truncate(time.Second).String(),
	}

	if s.archive != nil {
		st, err := s.archive.Stats()
		if err != nil {
			s.logger.Error("archive stats failed", "error", err)
			http.Error(w, "archive unavailable", http.StatusInternalServerError)
			return
		}
		resp["archive"] = st
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleCallGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	callID := r.PathValue("id")
	rec, err := s.archive.Call(callID)
	if err != nil {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}
	transcript, err := s.archive.Transcript(callID)
	if err != nil {
		s.logger.Error("transcript load failed", "call_id", callID, "error", err)
		http.Error(w, "archive unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"call":       rec,
		"transcript": transcript,
	}, s.logger)
}

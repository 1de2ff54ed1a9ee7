// Package api is the panel's HTTP surface: a small REST API for health and
// one-shot state reads, and the websocket endpoint subscribers stream from.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/session"
	"github.com/sebas/opdesk/internal/panel/state"
)

// Server provides the HTTP API and the subscriber websocket endpoint.
type Server struct {
	addr       string
	httpServer *http.Server
	hub        *session.Manager
	store      *state.Store
	startTime  time.Time
}

// NewServer wires the routes. Operators maps token to identity.
func NewServer(addr string, hub *session.Manager, store *state.Store, operators map[string]scope.Identity) *Server {
	s := &Server{
		addr:      addr,
		hub:       hub,
		store:     store,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(RecoverMiddleware)
	r.Use(LoggingMiddleware)

	r.Get("/api/v1/health", s.handleHealth)

	auth := TokenAuth(operators)
	r.With(auth).Get("/api/v1/status", s.handleStatus)
	r.With(auth).Get("/api/v1/state", s.handleState)
	r.With(auth).Get("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start begins serving in the background. A fatal listen error arrives on
// the returned channel.
func (s *Server) Start() <-chan error {
	logger.Info("[API] Starting HTTP server", "addr", s.addr)
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	s.writeJSON(w, map[string]any{
		"uptime":       int64(time.Since(s.startTime).Seconds()),
		"revision":     snap.Revision,
		"stale":        snap.Stale,
		"sessions":     s.hub.Count(),
		"extensions":   len(snap.Extensions),
		"active_calls": len(snap.Calls),
		"queues":       len(snap.Queues),
	})
}

// handleState serves the caller's current view without a subscription, for
// integrations that poll instead of streaming.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, v1.NewStateMessage(*s.hub.View(id)))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[API] Failed to encode JSON", "error", err)
	}
}

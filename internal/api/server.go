package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
)

// Deps are the pipeline surfaces the monitoring API exposes.
type Deps struct {
	// Counters is the pipeline counter set.
	Counters *dataflow.Counters

	// Recent returns buffered data-flow events, oldest first.
	Recent func(limit int) []dataflow.Event

	// Hub serves the WebSocket stream.
	Hub *Hub

	// FlushCache invalidates the resolver's identity cache.
	FlushCache func()

	// Health reports per-listener connection state.
	Health func() map[string]any
}

// Server is the read-only monitoring HTTP server. It never touches
// medical data; it exposes pipeline state and the event stream.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	logger     *logging.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg *config.Config, deps Deps, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{hub: deps.Hub, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth(deps))
		r.Get("/metrics", s.handleMetrics(deps))
		r.Get("/dataflow/events", s.handleEvents(deps))
		r.Post("/cache/flush", s.handleCacheFlush(deps))
	})
	if deps.Hub != nil {
		r.Get(cfg.WebSocket.Path, deps.Hub.ServeWS)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      r,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	return s
}

// Start serves until the listener is closed. It returns nil on a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("monitoring api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitoring api: %w", err)
	}
	return nil
}

// Shutdown closes subscriber connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close(ctx)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(deps Deps) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"status":    "ok",
			"uptime_s":  int(time.Since(started).Seconds()),
			"server_ts": time.Now().UTC(),
		}
		if deps.Health != nil {
			body["listeners"] = deps.Health()
		}
		if s.hub != nil {
			body["ws_clients"] = s.hub.ClientCount()
		}
		s.writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, deps.Counters.Snapshot())
	}
}

func (s *Server) handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		events := deps.Recent(limit)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(events),
			"events": events,
		})
	}
}

// handleCacheFlush is the out-of-band admin signal that invalidates the
// resolver cache after device reassignment.
func (s *Server) handleCacheFlush(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if deps.FlushCache != nil {
			deps.FlushCache()
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding api response", "error", err)
	}
}

// Package opshttp hosts the poller's operator-facing HTTP surface:
// /healthz, /metrics, and the live tick feed at /ws. Grounded on the
// teacher's internal/ws.Server (a thin net/http handler wired to a
// Broadcaster) routed through chi, with rate limiting via
// github.com/go-chi/httprate the way ManuGH-xg2g wires it.
package opshttp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/opsfeed"
)

// HealthChecker reports whether the poller is currently healthy,
// e.g. the watchdog checking its own resource usage.
type HealthChecker interface {
	Healthy() (bool, string)
}

// Server is the ops HTTP surface.
type Server struct {
	feed    *opsfeed.Feed
	health  HealthChecker
	logger  zerolog.Logger
	rpsRate int
}

// New builds the ops router. rps configures the sliding-window rate
// limit applied to every route.
func New(feed *opsfeed.Feed, health HealthChecker, rps int, logger zerolog.Logger) *Server {
	return &Server{feed: feed, health: health, logger: logger, rpsRate: rps}
}

// Handler returns the composed http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.rpsRate > 0 {
		r.Use(httprate.LimitByIP(s.rpsRate, time.Second))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	ok, reason := s.health.Healthy()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"` + reason + `"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("opshttp: websocket upgrade failed")
		return
	}

	c, err := s.feed.AddClient(conn)
	if err != nil {
		return
	}

	go func() {
		defer s.feed.RemoveClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ListenAndServe starts the ops HTTP server and blocks until ctx is
// canceled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("ops http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

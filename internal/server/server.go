// Package server exposes FlowTalk over HTTP.
//
// Routes:
//
//	GET /healthz, /readyz   liveness and readiness probes
//	GET /metrics            Prometheus exposition
//	GET /api/catalog        personas, topics and difficulty modes
//	GET /api/sessions       open sessions
//	GET /ws                 one learner session per WebSocket connection
//
// The WebSocket speaks JSON text frames in both directions; binary frames
// from the client carry microphone audio.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/flowtalk/internal/app"
	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/internal/health"
	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/session"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Sessions opens and closes learner sessions. *app.SessionManager
// implements it.
type Sessions interface {
	Open(ctx context.Context, opts app.OpenOptions) (*session.Controller, error)
	Close(id string) error
	List() []app.SessionInfo
}

// Config holds the server's dependencies.
type Config struct {
	// Sessions and Catalog are required.
	Sessions Sessions
	Catalog  *catalog.Catalog

	// Checkers back /readyz.
	Checkers []health.Checker

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Gatherer backs /metrics. Nil uses the default Prometheus gatherer.
	Gatherer prometheus.Gatherer

	// AllowedOrigins are host patterns accepted for WebSocket upgrades in
	// addition to same-origin requests.
	AllowedOrigins []string
}

// Server routes HTTP requests.
type Server struct {
	cfg    Config
	router chi.Router
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("server: sessions are required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("server: catalog is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg}
	r := chi.NewRouter()
	r.Use(observe.Middleware(cfg.Metrics))
	health.New(cfg.Checkers...).Mount(r)
	r.Method(http.MethodGet, "/metrics", observe.MetricsHandler(cfg.Gatherer))
	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)
		r.Get("/sessions", s.handleSessions)
	})
	r.Get("/ws", s.handleWS)
	s.router = r
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe listens on addr and serves until ctx is cancelled, then
// shuts down gracefully. With tls set, it serves HTTPS.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tls *config.TLSConfig) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, tls)
}

// Serve serves on ln until ctx is cancelled. Request contexts derive from
// ctx, so open WebSocket sessions end when it is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tls *config.TLSConfig) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		slog.Info("http server stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	resp := catalogResponse{
		Personas: s.cfg.Catalog.ListPersonas(),
		Topics:   s.cfg.Catalog.ListTopics(),
		ByGroup:  s.cfg.Catalog.TopicsByCategory(),
	}
	for _, m := range prompt.Modes() {
		resp.Modes = append(resp.Modes, modeInfo{Mode: m, Name: m.DisplayName()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.cfg.Sessions.List()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

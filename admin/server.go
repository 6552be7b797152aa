// Package admin serves the runtime's operational HTTP surface: health, the
// deployed units and their contexts, Prometheus metrics, and controls to
// undeploy a unit or stop the process.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/unitrt"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
)

// Admin server errors
var (
	ErrServerStarted    = errors.New("admin server already started")
	ErrServerNotStarted = errors.New("admin server not started")
)

// Runtime is the part of an application the admin server reads.
// *unitrt.Application implements it.
type Runtime interface {
	Orchestrator() *unitrt.Orchestrator
	Contexts() *unitrt.ContextRegistry
	Metrics() *metrics.Metrics
	Bootstrap() *unitrt.Context
}

// Server is the admin HTTP server.
type Server struct {
	runtime Runtime
	cfg     config.AdminConfig
	logger  unitrt.Logger
	router  *chi.Mux

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates an admin server for rt listening on cfg.Addr.
func NewServer(rt Runtime, cfg config.AdminConfig, logger unitrt.Logger) *Server {
	s := &Server{runtime: rt, cfg: cfg, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Get("/units", s.units)
	r.Get("/contexts", s.contexts)
	r.Post("/units/{tag}/undeploy", s.undeploy)
	r.Post("/shutdown", s.shutdown)
	r.Handle("/metrics", s.metricsHandler())
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrServerStarted
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	go func() {
		s.logger.Info("Starting admin server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return ErrServerNotStarted
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down admin server: %w", err)
	}
	s.logger.Info("Admin server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Units  int    `json:"units"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	orch := s.runtime.Orchestrator()
	resp := healthResponse{Status: "down", State: unitrt.StateIdle.String()}
	code := http.StatusServiceUnavailable
	if orch != nil {
		state := orch.State()
		resp.State = state.String()
		resp.Units = len(orch.Units())
		if state == unitrt.StateRunning {
			resp.Status, code = "up", http.StatusOK
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) units(w http.ResponseWriter, _ *http.Request) {
	orch := s.runtime.Orchestrator()
	if orch == nil {
		s.writeJSON(w, http.StatusOK, []unitrt.UnitRuntimeInfo{})
		return
	}
	s.writeJSON(w, http.StatusOK, orch.Units())
}

type contextInfo struct {
	Tag         string    `json:"tag"`
	DisplayName string    `json:"displayName"`
	InstanceID  string    `json:"instanceId"`
	StartedAt   time.Time `json:"startedAt"`
}

func (s *Server) contexts(w http.ResponseWriter, _ *http.Request) {
	registry := s.runtime.Contexts()
	out := []contextInfo{}
	if registry != nil {
		for _, tag := range registry.Tags() {
			for _, c := range registry.Lookup(tag) {
				out = append(out, contextInfo{
					Tag:         tag,
					DisplayName: c.DisplayName(),
					InstanceID:  c.InstanceID(),
					StartedAt:   c.StartedAt(),
				})
			}
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) undeploy(w http.ResponseWriter, r *http.Request) {
	orch := s.runtime.Orchestrator()
	if orch == nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrServerNotStarted)
		return
	}
	tag := chi.URLParam(r, "tag")
	if err := orch.Undeploy(r.Context(), tag); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, unitrt.ErrUnitNotFound) {
			code = http.StatusNotFound
		}
		s.writeError(w, code, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) {
	boot := s.runtime.Bootstrap()
	if boot == nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrServerNotStarted)
		return
	}
	if err := boot.RequestShutdown(r.Context(), "admin request"); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := s.runtime.Metrics()
		if m == nil {
			http.NotFound(w, r)
			return
		}
		m.Handler().ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode admin response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// Package server exposes renderers and the launch configuration over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/entrhq/shutter/pkg/browser"
	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/logging"
	"github.com/entrhq/shutter/pkg/render"
	"github.com/entrhq/shutter/pkg/screenshot"
)

// DefaultRenderer handles POST /v1/render when no renderer is named.
const DefaultRenderer = "html"

// SourceFs returns the read-only view of base that .html sources named in
// HTTP requests are read through. An empty root exposes no files.
func SourceFs(base afero.Fs, root string) afero.Fs {
	if root == "" {
		return afero.NewReadOnlyFs(afero.NewMemMapFs())
	}
	return afero.NewReadOnlyFs(afero.NewBasePathFs(base, root))
}

// StatsSource reports pool counters. *browser.Manager implements it.
type StatsSource interface {
	Stats() (browser.PoolStats, bool)
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	renderers *render.Registry
	store     config.Store
	stats     StatsSource
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
}

// New creates a server. gatherer may be nil, which disables /metrics.
func New(renderers *render.Registry, store config.Store, stats StatsSource, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Server{
		renderers: renderers,
		store:     store,
		stats:     stats,
		gatherer:  gatherer,
		logger:    logger.With("server"),
	}
}

// Routes configures all HTTP routes.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/render", s.Render).Methods("POST", "OPTIONS")
	api.HandleFunc("/render/{renderer}", s.Render).Methods("POST", "OPTIONS")
	api.HandleFunc("/config", s.GetConfig).Methods("GET")
	api.HandleFunc("/config", s.UpdateConfig).Methods("PUT", "OPTIONS")

	r.HandleFunc("/healthz", s.Health).Methods("GET")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	r.Use(corsMiddleware)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Render handles POST /v1/render and /v1/render/{renderer}.
func (s *Server) Render(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["renderer"]
	if name == "" {
		name = DefaultRenderer
	}

	var req screenshot.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path != "" {
		writeError(w, http.StatusBadRequest, "path is not accepted over HTTP")
		return
	}

	if _, ok := s.renderers.Get(name); !ok {
		writeError(w, http.StatusNotFound, "renderer "+name+" not found")
		return
	}

	res, err := s.renderers.Render(r.Context(), name, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, screenshot.ErrInvalidRequest) || errors.Is(err, screenshot.ErrUnsupportedContent) {
			status = http.StatusBadRequest
		}
		s.logger.Debugf("render %s failed: %v", name, err)
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetConfig handles GET /v1/config.
func (s *Server) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get())
}

// UpdateConfig handles PUT /v1/config. The body is merged over the current
// configuration, saved, and announced to the session manager.
func (s *Server) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var partial config.LaunchOptions
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := partial.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	merged, err := s.store.Update(r.Context(), partial)
	if err != nil {
		s.logger.Errorf("config update failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

type healthResponse struct {
	Status string             `json:"status"`
	Pool   *browser.PoolStats `json:"pool,omitempty"`
}

// Health handles GET /healthz. Without a live session the service is
// reported unavailable.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.stats.Stats()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "no session"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pool: &stats})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"status": false, "data": map[string]string{"message": msg}})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP API for the daemon.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/gantry/internal/daemon/httputil"
	"github.com/tombee/gantry/internal/log"
)

// writeJSON and writeError are package-level aliases for the shared
// response helpers.
var (
	writeJSON  = httputil.WriteJSON
	writeError = httputil.WriteError
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// EngineProber reports whether the playbook engine binary is usable.
type EngineProber interface {
	Probe(ctx context.Context) bool
}

// MetricsHandler provides a Prometheus metrics endpoint
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with additional functionality.
type Router struct {
	mux            *http.ServeMux
	config         RouterConfig
	prober         EngineProber
	metricsHandler MetricsHandler
	logger         *slog.Logger
}

// NewRouter creates a new HTTP router with the service endpoints.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.New(log.FromEnv()),
	}

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /version", r.handleVersion)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetEngineProber sets the engine availability probe used by the health
// endpoint.
func (r *Router) SetEngineProber(prober EngineProber) {
	r.prober = prober
}

// SetMetricsHandler sets the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	r.metricsHandler = handler
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Request logging wraps the mux so every endpoint is covered.
	handler := http.Handler(r.mux)

	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		defer func() {
			r.logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "gantryd",
		"version": r.config.Version,
	})
}

// handleVersion handles GET /version.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}

// handleHealth handles GET /health. The service reports healthy
// regardless of in-flight jobs; engine availability is advisory.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	engineAvailable := false
	if r.prober != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		engineAvailable = r.prober.Probe(ctx)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"engine_available": engineAvailable,
	})
}

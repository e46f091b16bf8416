// Copyright 2025 The Amelia Authors
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

// Package api implements the REST surface.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/tracing"
)

// Router wires the REST routes and their middleware.
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger

	store      *store.Store
	supervisor *engine.Supervisor

	startedAt time.Time
	ready     func() bool
	version   string

	limiter        *rate.Limiter
	requestTimeout time.Duration

	metricsHandler http.Handler
	wsHandler      http.Handler
}

// Config assembles a router.
type Config struct {
	Store      *store.Store
	Supervisor *engine.Supervisor
	Logger     *slog.Logger

	// Ready reports whether the lifecycle coordinator finished startup.
	Ready func() bool

	// Version string reported by GET /version.
	Version string

	// RateLimit is the sustained mutations-per-second budget; zero
	// disables limiting.
	RateLimit float64

	// RequestTimeout bounds each non-WebSocket request; zero disables
	// the per-request timeout.
	RequestTimeout time.Duration

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// WSHandler serves GET /ws when set.
	WSHandler http.Handler
}

// NewRouter builds the route table.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         log.WithComponent(logger, "api"),
		store:          cfg.Store,
		supervisor:     cfg.Supervisor,
		startedAt:      time.Now(),
		ready:          cfg.Ready,
		version:        cfg.Version,
		metricsHandler: cfg.MetricsHandler,
		wsHandler:      cfg.WSHandler,
		requestTimeout: cfg.RequestTimeout,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit*2))
	}
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("POST /workflows", r.handleStartWorkflow)
	r.mux.HandleFunc("GET /workflows", r.handleListWorkflows)
	r.mux.HandleFunc("GET /workflows/active", r.handleActiveWorkflows)
	r.mux.HandleFunc("GET /workflows/{id}", r.handleGetWorkflow)
	r.mux.HandleFunc("POST /workflows/{id}/approve", r.handleApprove)
	r.mux.HandleFunc("POST /workflows/{id}/reject", r.handleReject)
	r.mux.HandleFunc("POST /workflows/{id}/cancel", r.handleCancel)
	r.mux.HandleFunc("POST /workflows/{id}/plan", r.handleSetPlan)
	r.mux.HandleFunc("GET /workflows/{id}/events", r.handleGetEvents)
	r.mux.HandleFunc("GET /workflows/{id}/tokens", r.handleGetTokens)

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /health/live", r.handleLive)
	r.mux.HandleFunc("GET /health/ready", r.handleReady)
	r.mux.HandleFunc("GET /version", r.handleVersion)

	if r.metricsHandler != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler)
	}
	if r.wsHandler != nil {
		r.mux.Handle("GET /ws", r.wsHandler)
	}
}

// Handler returns the router wrapped in its middleware chain. Outermost
// first: correlation, tracing, request logging, drain guard, rate limit,
// request timeout.
func (r *Router) Handler() http.Handler {
	var h http.Handler = r.mux
	h = r.timeoutGuard(h)
	h = r.rateLimit(h)
	h = r.drainGuard(h)
	h = r.requestLog(h)
	h = tracing.HTTPMiddleware(h)
	h = tracing.Middleware(h)
	return h
}

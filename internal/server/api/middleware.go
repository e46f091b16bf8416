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

package api

import (
	"net/http"
	"time"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/tracing"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLog logs one line per request with method, path, status, duration
// and correlation id.
func (r *Router) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.logger.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			log.CorrelationIDKey, tracing.FromContext(req.Context()).String(),
		)
	})
}

// drainGuard rejects new workflow starts while the daemon is shutting
// down. Reads and mutations of existing workflows stay available so
// clients can observe the drain.
func (r *Router) drainGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost && req.URL.Path == "/workflows" && r.supervisor.IsDraining() {
			w.Header().Set("Retry-After", "5")
			writeError(w, r.logger, workflow.NewShuttingDown())
			return
		}
		next.ServeHTTP(w, req)
	})
}

// timeoutGuard cuts off handlers that exceed the configured request
// budget with a 503. The WebSocket endpoint is exempt: its connections
// outlive any single request.
func (r *Router) timeoutGuard(next http.Handler) http.Handler {
	if r.requestTimeout <= 0 {
		return next
	}
	body := `{"error":{"code":"INTERNAL_ERROR","message":"request timed out"}}`
	limited := http.TimeoutHandler(next, r.requestTimeout, body)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			next.ServeHTTP(w, req)
			return
		}
		limited.ServeHTTP(w, req)
	})
}

// rateLimit applies the shared token bucket to mutating requests.
func (r *Router) rateLimit(next http.Handler) http.Handler {
	if r.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && !r.limiter.Allow() {
			err := &workflow.Error{
				Kind:       workflow.KindRateLimited,
				Message:    "too many requests",
				RetryAfter: time.Second,
			}
			writeError(w, r.logger, err)
			return
		}
		next.ServeHTTP(w, req)
	})
}

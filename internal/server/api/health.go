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
	"github.com/existential-birds/amelia-sub002/internal/server/httputil"
)

// handleHealth is the full health report: uptime, active counts, and
// database probes.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	checks := map[string]string{
		"database_read":  "ok",
		"database_write": "ok",
	}

	if err := r.store.CheckRead(req.Context()); err != nil {
		status = "degraded"
		checks["database_read"] = err.Error()
		r.logger.Error("database read probe failed", log.Error(err))
	}
	if err := r.store.CheckWrite(req.Context()); err != nil {
		status = "degraded"
		checks["database_write"] = err.Error()
		r.logger.Error("database write probe failed", log.Error(err))
	}

	counts, err := r.store.CountByStatus(req.Context())
	if err != nil {
		status = "degraded"
		counts = map[string]int64{}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status":           status,
		"uptime_seconds":   int64(time.Since(r.startedAt).Seconds()),
		"active_workflows": r.supervisor.ActiveCount(),
		"workflow_counts":  counts,
		"draining":         r.supervisor.IsDraining(),
		"checks":           checks,
	})
}

// handleLive reports process liveness only.
func (r *Router) handleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady reports whether startup finished and the daemon accepts work.
func (r *Router) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready != nil && !r.ready() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if r.supervisor.IsDraining() {
		w.Header().Set("Retry-After", "5")
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVersion reports the build version.
func (r *Router) handleVersion(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"version": r.version})
}

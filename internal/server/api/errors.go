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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/server/httputil"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// errorBody is the machine-readable error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    workflow.ErrorKind `json:"code"`
	Message string             `json:"message"`
	Details map[string]any     `json:"details,omitempty"`
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(kind workflow.ErrorKind) int {
	switch kind {
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindConflict:
		return http.StatusConflict
	case workflow.KindConcurrencyLimit, workflow.KindRateLimited:
		return http.StatusTooManyRequests
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindInvalidState:
		return http.StatusUnprocessableEntity
	case workflow.KindShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error onto the response: status code, optional
// Retry-After header, and the error envelope. Internal errors are logged
// with their cause but surface a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	domErr := workflow.AsError(err)
	status := statusFor(domErr.Kind)

	if domErr.RetryAfter > 0 {
		seconds := int(domErr.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	message := domErr.Message
	if domErr.Kind == workflow.KindInternal {
		logger.Error("request failed", log.Error(err))
		message = "internal error"
	}

	httputil.WriteJSON(w, status, errorBody{Error: errorDetail{
		Code:    domErr.Kind,
		Message: message,
		Details: domErr.Details,
	}})
}

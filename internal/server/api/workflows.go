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
	"os"
	"strconv"

	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/server/httputil"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/tracing"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// recentEventCount is how many trailing events a workflow detail includes.
const recentEventCount = 20

type startWorkflowRequest struct {
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	WorktreeName string `json:"worktree_name,omitempty"`
	Pipeline     string `json:"pipeline,omitempty"`
	Profile      string `json:"profile,omitempty"`
	PlanFile     string `json:"plan_file,omitempty"`
	PlanContent  string `json:"plan_content,omitempty"`
}

// resolvePlan applies the plan_file XOR plan_content rule and loads the
// file variant from disk.
func resolvePlan(planFile, planContent string) (string, error) {
	if planFile != "" && planContent != "" {
		return "", workflow.NewValidation("plan_file and plan_content are mutually exclusive")
	}
	if planFile == "" {
		return planContent, nil
	}
	data, err := os.ReadFile(planFile)
	if err != nil {
		return "", workflow.NewValidation("cannot read plan_file %s", planFile).WithCause(err)
	}
	return string(data), nil
}

func (r *Router) handleStartWorkflow(w http.ResponseWriter, req *http.Request) {
	var body startWorkflowRequest
	if err := httputil.DecodeJSON(req, &body); err != nil {
		writeError(w, r.logger, workflow.NewValidation("malformed request body").WithCause(err))
		return
	}

	plan, err := resolvePlan(body.PlanFile, body.PlanContent)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}

	wf, err := r.supervisor.Start(req.Context(), engine.StartRequest{
		IssueID:       body.IssueID,
		WorktreePath:  body.WorktreePath,
		WorktreeName:  body.WorktreeName,
		Pipeline:      body.Pipeline,
		Profile:       body.Profile,
		ExternalPlan:  plan,
		CorrelationID: tracing.FromContext(req.Context()).String(),
	})
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, wf)
}

func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	opts := store.ListOptions{
		Status:   workflow.Status(q.Get("status")),
		Worktree: q.Get("worktree"),
		Cursor:   q.Get("cursor"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, r.logger, workflow.NewValidation("limit must be a positive integer"))
			return
		}
		opts.Limit = n
	}

	result, err := r.store.ListWorkflows(req.Context(), opts)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if result.Workflows == nil {
		result.Workflows = []workflow.Workflow{}
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (r *Router) handleActiveWorkflows(w http.ResponseWriter, req *http.Request) {
	active, err := r.store.ActiveWorkflows(req.Context())
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if active == nil {
		active = []workflow.Workflow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflows": active,
		"count":     len(active),
	})
}

// workflowDetail is the GET /workflows/{id} response.
type workflowDetail struct {
	*workflow.Workflow
	RecentEvents []workflow.Event   `json:"recent_events"`
	Tokens       *store.TokenTotals `json:"tokens"`
}

func (r *Router) handleGetWorkflow(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	wf, err := r.store.GetWorkflow(req.Context(), id)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}

	maxSeq, err := r.store.MaxSequence(req.Context(), id)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	since := maxSeq - recentEventCount
	if since < 0 {
		since = 0
	}
	events, err := r.store.GetEvents(req.Context(), id, since)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if events == nil {
		events = []workflow.Event{}
	}

	tokens, err := r.store.GetTokenTotals(req.Context(), id)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, workflowDetail{
		Workflow:     wf,
		RecentEvents: events,
		Tokens:       tokens,
	})
}

func (r *Router) handleApprove(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	corrID := tracing.FromContext(req.Context()).String()
	if err := r.supervisor.Approve(req.Context(), id, corrID); err != nil {
		writeError(w, r.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"workflow_id": id,
		"result":      "approved",
	})
}

type rejectRequest struct {
	Feedback string `json:"feedback"`
}

func (r *Router) handleReject(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	var body rejectRequest
	if err := httputil.DecodeJSON(req, &body); err != nil {
		writeError(w, r.logger, workflow.NewValidation("malformed request body").WithCause(err))
		return
	}
	corrID := tracing.FromContext(req.Context()).String()
	if err := r.supervisor.Reject(req.Context(), id, body.Feedback, corrID); err != nil {
		writeError(w, r.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"workflow_id": id,
		"result":      "rejected",
	})
}

func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	wf, err := r.supervisor.Cancel(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

type setPlanRequest struct {
	PlanFile    string `json:"plan_file,omitempty"`
	PlanContent string `json:"plan_content,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

func (r *Router) handleSetPlan(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	var body setPlanRequest
	if err := httputil.DecodeJSON(req, &body); err != nil {
		writeError(w, r.logger, workflow.NewValidation("malformed request body").WithCause(err))
		return
	}

	plan, err := resolvePlan(body.PlanFile, body.PlanContent)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if plan == "" {
		writeError(w, r.logger, workflow.NewValidation("plan_file or plan_content is required"))
		return
	}

	wf, err := r.supervisor.SetPlan(req.Context(), id, plan, body.Force)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

func (r *Router) handleGetEvents(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.store.GetWorkflow(req.Context(), id); err != nil {
		writeError(w, r.logger, err)
		return
	}

	var since int64
	if s := req.URL.Query().Get("since"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r.logger, workflow.NewValidation("since must be a non-negative integer"))
			return
		}
		since = n
	}

	events, err := r.store.GetEvents(req.Context(), id, since)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if events == nil {
		events = []workflow.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"events":      events,
		"count":       len(events),
	})
}

func (r *Router) handleGetTokens(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if _, err := r.store.GetWorkflow(req.Context(), id); err != nil {
		writeError(w, r.logger, err)
		return
	}

	totals, err := r.store.GetTokenTotals(req.Context(), id)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	records, err := r.store.GetTokenUsage(req.Context(), id)
	if err != nil {
		writeError(w, r.logger, err)
		return
	}
	if records == nil {
		records = []workflow.TokenUsage{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"totals":  totals,
		"records": records,
	})
}

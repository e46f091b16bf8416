package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// detailResponse mirrors the GET /workflows/{id} body.
type detailResponse struct {
	workflow.Workflow
	RecentEvents []workflow.Event   `json:"recent_events"`
	Tokens       *store.TokenTotals `json:"tokens"`
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	wf := a.start(t, makeWorktree(t))
	assert.Equal(t, "PROJ-1", wf.IssueID)
	a.waitForGate(t, wf.ID)

	res := a.do(t, http.MethodGet, "/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var detail detailResponse
	decodeBody(t, res, &detail)
	assert.Equal(t, workflow.StatusBlocked, detail.Status)
	assert.NotEmpty(t, detail.RecentEvents)
	require.NotNil(t, detail.Tokens)

	res = a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/approve", map[string]string{})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var ack map[string]string
	decodeBody(t, res, &ack)
	assert.Equal(t, "approved", ack["result"])
	assert.Equal(t, wf.ID, ack["workflow_id"])

	a.waitForStatus(t, wf.ID, workflow.StatusCompleted)

	res = a.do(t, http.MethodGet, "/workflows/"+wf.ID+"/events", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var evs struct {
		WorkflowID string           `json:"workflow_id"`
		Events     []workflow.Event `json:"events"`
		Count      int              `json:"count"`
	}
	decodeBody(t, res, &evs)
	assert.Equal(t, wf.ID, evs.WorkflowID)
	require.Equal(t, len(evs.Events), evs.Count)
	require.NotEmpty(t, evs.Events)
	assert.Equal(t, workflow.EventWorkflowStarted, evs.Events[0].Type)
	assert.Equal(t, workflow.EventWorkflowCompleted, evs.Events[len(evs.Events)-1].Type)
	for i, ev := range evs.Events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}

	res = a.do(t, http.MethodGet, "/workflows/"+wf.ID+"/tokens", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var tok struct {
		Totals  store.TokenTotals     `json:"totals"`
		Records []workflow.TokenUsage `json:"records"`
	}
	decodeBody(t, res, &tok)
	assert.NotEmpty(t, tok.Records)
	assert.Positive(t, tok.Totals.InputTokens)
}

func TestStartWorkflowValidation(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)
	worktree := makeWorktree(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{
			name: "missing issue id",
			body: map[string]string{"worktree_path": worktree},
		},
		{
			name: "relative worktree path",
			body: map[string]string{"issue_id": "PROJ-1", "worktree_path": "relative/path"},
		},
		{
			name: "plan file and content together",
			body: map[string]string{
				"issue_id":      "PROJ-1",
				"worktree_path": worktree,
				"plan_file":     "/tmp/plan.md",
				"plan_content":  "- step\n",
			},
		},
		{
			name: "unknown field",
			body: map[string]string{
				"issue_id":      "PROJ-1",
				"worktree_path": worktree,
				"driver":        "scripted",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.do(t, http.MethodPost, "/workflows", tt.body)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, workflow.KindValidation, decodeError(t, res).Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, a.server.URL+"/workflows", strings.NewReader("{not json"))
		require.NoError(t, err)
		res, err := a.server.Client().Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, workflow.KindValidation, decodeError(t, res).Code)
	})
}

func TestStartWorkflowWorktreeConflict(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)
	worktree := makeWorktree(t)

	first := a.start(t, worktree)
	a.waitForGate(t, first.ID)

	res := a.do(t, http.MethodPost, "/workflows", map[string]string{
		"issue_id":      "PROJ-2",
		"worktree_path": worktree,
	})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	detail := decodeError(t, res)
	assert.Equal(t, workflow.KindConflict, detail.Code)
	assert.Equal(t, first.ID, detail.Details["existing_workflow_id"])
}

func TestStartWorkflowConcurrencyLimit(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{MaxConcurrent: 1}, nil)

	first := a.start(t, makeWorktree(t))
	a.waitForGate(t, first.ID)

	res := a.do(t, http.MethodPost, "/workflows", map[string]string{
		"issue_id":      "PROJ-2",
		"worktree_path": makeWorktree(t),
	})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
	assert.Equal(t, workflow.KindConcurrencyLimit, decodeError(t, res).Code)
}

func TestGetWorkflowNotFound(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	for _, path := range []string{
		"/workflows/no-such-id",
		"/workflows/no-such-id/events",
		"/workflows/no-such-id/tokens",
	} {
		res := a.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, res.StatusCode, path)
		assert.Equal(t, workflow.KindNotFound, decodeError(t, res).Code)
	}
}

func TestRejectWorkflow(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	wf := a.start(t, makeWorktree(t))
	a.waitForGate(t, wf.ID)

	res := a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/reject", map[string]string{
		"feedback": "plan misses the migration",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var ack map[string]string
	decodeBody(t, res, &ack)
	assert.Equal(t, "rejected", ack["result"])

	failed := a.waitForStatus(t, wf.ID, workflow.StatusFailed)
	assert.Contains(t, failed.FailureReason, "plan misses the migration")
}

func TestApproveWithoutGate(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	res := a.do(t, http.MethodPost, "/workflows/no-such-id/approve", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, workflow.KindInvalidState, decodeError(t, res).Code)
}

func TestCancelWorkflowIsIdempotent(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	wf := a.start(t, makeWorktree(t))
	a.waitForGate(t, wf.ID)

	res := a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	a.waitForStatus(t, wf.ID, workflow.StatusCancelled)

	// A second cancel reports the terminal state instead of erroring.
	res = a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var got workflow.Workflow
	decodeBody(t, res, &got)
	assert.Equal(t, workflow.StatusCancelled, got.Status)
}

func TestSetPlan(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	wf := a.start(t, makeWorktree(t))
	a.waitForGate(t, wf.ID)

	// The architect already produced a plan, so replacing it needs force.
	res := a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/plan", map[string]any{
		"plan_content": "- replacement step\n",
	})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, workflow.KindConflict, decodeError(t, res).Code)

	res = a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/plan", map[string]any{
		"plan_content": "- replacement step\n",
		"force":        true,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res = a.do(t, http.MethodPost, "/workflows/"+wf.ID+"/plan", map[string]any{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, workflow.KindValidation, decodeError(t, res).Code)
}

func TestListWorkflows(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	first := a.start(t, makeWorktree(t))
	second := a.start(t, makeWorktree(t))
	a.waitForGate(t, first.ID)
	a.waitForGate(t, second.ID)

	res := a.do(t, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list store.ListResult
	decodeBody(t, res, &list)
	require.Len(t, list.Workflows, 2)

	res = a.do(t, http.MethodGet, "/workflows?status=completed", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	decodeBody(t, res, &list)
	assert.Empty(t, list.Workflows)

	res = a.do(t, http.MethodGet, "/workflows/active", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var active struct {
		Workflows []workflow.Workflow `json:"workflows"`
		Count     int                 `json:"count"`
	}
	decodeBody(t, res, &active)
	assert.Equal(t, 2, active.Count)
	assert.Len(t, active.Workflows, 2)

	for _, q := range []string{"?limit=abc", "?limit=0", "?status=bogus"} {
		res := a.do(t, http.MethodGet, "/workflows"+q, nil)
		require.Equal(t, http.StatusBadRequest, res.StatusCode, q)
		assert.Equal(t, workflow.KindValidation, decodeError(t, res).Code)
	}
}

func TestGetEventsSinceValidation(t *testing.T) {
	a := newTestAPI(t, engine.SupervisorConfig{}, nil)

	wf := a.start(t, makeWorktree(t))
	a.waitForGate(t, wf.ID)

	for _, q := range []string{"?since=abc", "?since=-1"} {
		res := a.do(t, http.MethodGet, "/workflows/"+wf.ID+"/events"+q, nil)
		require.Equal(t, http.StatusBadRequest, res.StatusCode, q)
		assert.Equal(t, workflow.KindValidation, decodeError(t, res).Code)
	}

	res := a.do(t, http.MethodGet, "/workflows/"+wf.ID+"/events?since=2", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var evs struct {
		Events []workflow.Event `json:"events"`
	}
	decodeBody(t, res, &evs)
	for _, ev := range evs.Events {
		assert.Greater(t, ev.Sequence, int64(2))
	}
}

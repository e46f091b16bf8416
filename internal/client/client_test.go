package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(WithBaseURL(server.URL))
	require.NoError(t, err)
	return c
}

func TestStartWorkflowRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workflows", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PROJ-1", body["issue_id"])
		assert.Equal(t, "/work/a", body["worktree_path"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(workflow.Workflow{
			ID:      "wf-1",
			IssueID: "PROJ-1",
			Status:  workflow.StatusPending,
		})
	})

	wf, err := c.StartWorkflow(context.Background(), StartWorkflowRequest{
		IssueID:      "PROJ-1",
		WorktreePath: "/work/a",
	})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", wf.ID)
	assert.Equal(t, workflow.StatusPending, wf.Status)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    "WORKFLOW_CONFLICT",
				"message": "worktree already has an active workflow",
				"details": map[string]any{"existing_workflow_id": "wf-9"},
			},
		})
	})

	_, err := c.StartWorkflow(context.Background(), StartWorkflowRequest{
		IssueID:      "PROJ-1",
		WorktreePath: "/work/a",
	})
	require.Error(t, err)

	domErr := workflow.AsError(err)
	assert.Equal(t, workflow.KindConflict, domErr.Kind)
	assert.Equal(t, "worktree already has an active workflow", domErr.Message)
	assert.Equal(t, "wf-9", domErr.Details["existing_workflow_id"])
}

func TestClientRejectsNonEnvelopeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nginx is sad", http.StatusBadGateway)
	})

	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestListWorkflowsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workflows", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "completed", q.Get("status"))
		assert.Equal(t, "abc", q.Get("cursor"))
		assert.Equal(t, "10", q.Get("limit"))

		json.NewEncoder(w).Encode(map[string]any{"workflows": []any{}, "has_more": false})
	})

	result, err := c.ListWorkflows(context.Background(), "completed", "abc", 10)
	require.NoError(t, err)
	assert.Empty(t, result.Workflows)
	assert.False(t, result.HasMore)
}

func TestVersion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3"})
	})

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)
}

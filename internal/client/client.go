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

// Package client is the REST client the CLI uses to talk to the daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/tracing"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// DefaultBaseURL is where a locally started daemon listens.
const DefaultBaseURL = "http://127.0.0.1:8421"

// Client talks to the daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at a non-default daemon address.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if _, err := url.Parse(baseURL); err != nil {
			return fmt.Errorf("client: invalid base url %q: %w", baseURL, err)
		}
		c.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a client with the given options. Correlation IDs from the
// context propagate onto every request.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &tracing.RoundTripper{},
		},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Error struct {
		Code    workflow.ErrorKind `json:"code"`
		Message string             `json:"message"`
		Details map[string]any     `json:"details,omitempty"`
	} `json:"error"`
}

// do issues one request and decodes the response into out (when non-nil).
// Non-2xx responses decode into a domain error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope apiError
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
			return fmt.Errorf("client: %s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		domErr := &workflow.Error{
			Kind:    envelope.Error.Code,
			Message: envelope.Error.Message,
			Details: envelope.Error.Details,
		}
		return domErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// StartWorkflowRequest starts a workflow.
type StartWorkflowRequest struct {
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	WorktreeName string `json:"worktree_name,omitempty"`
	Pipeline     string `json:"pipeline,omitempty"`
	Profile      string `json:"profile,omitempty"`
	PlanFile     string `json:"plan_file,omitempty"`
	PlanContent  string `json:"plan_content,omitempty"`
}

// StartWorkflow creates and starts a new workflow.
func (c *Client) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows", req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows returns one page of workflows.
func (c *Client) ListWorkflows(ctx context.Context, status, cursor string, limit int) (*store.ListResult, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/workflows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result store.ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ActiveWorkflowsResponse lists currently active workflows.
type ActiveWorkflowsResponse struct {
	Workflows []workflow.Workflow `json:"workflows"`
	Count     int                 `json:"count"`
}

// ActiveWorkflows returns all non-terminal workflows.
func (c *Client) ActiveWorkflows(ctx context.Context) (*ActiveWorkflowsResponse, error) {
	var resp ActiveWorkflowsResponse
	if err := c.do(ctx, http.MethodGet, "/workflows/active", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowDetail is a workflow with its recent events and token totals.
type WorkflowDetail struct {
	workflow.Workflow
	RecentEvents []workflow.Event   `json:"recent_events"`
	Tokens       *store.TokenTotals `json:"tokens"`
}

// GetWorkflow fetches one workflow's detail.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*WorkflowDetail, error) {
	var detail WorkflowDetail
	if err := c.do(ctx, http.MethodGet, "/workflows/"+id, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Approve resolves the workflow's pending approval gate.
func (c *Client) Approve(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/workflows/"+id+"/approve", struct{}{}, nil)
}

// Reject resolves the gate with feedback, terminating the workflow.
func (c *Client) Reject(ctx context.Context, id, feedback string) error {
	body := map[string]string{"feedback": feedback}
	return c.do(ctx, http.MethodPost, "/workflows/"+id+"/reject", body, nil)
}

// Cancel cancels a workflow. Idempotent.
func (c *Client) Cancel(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows/"+id+"/cancel", struct{}{}, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// SetPlan attaches an external plan to a workflow.
func (c *Client) SetPlan(ctx context.Context, id, planContent string, force bool) (*workflow.Workflow, error) {
	body := map[string]any{"plan_content": planContent, "force": force}
	var wf workflow.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows/"+id+"/plan", body, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// EventsResponse is a workflow's event log page.
type EventsResponse struct {
	WorkflowID string           `json:"workflow_id"`
	Events     []workflow.Event `json:"events"`
	Count      int              `json:"count"`
}

// Events returns a workflow's events after the given sequence.
func (c *Client) Events(ctx context.Context, id string, since int64) (*EventsResponse, error) {
	path := fmt.Sprintf("/workflows/%s/events?since=%d", id, since)
	var resp EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TokensResponse is a workflow's token usage.
type TokensResponse struct {
	Totals  *store.TokenTotals    `json:"totals"`
	Records []workflow.TokenUsage `json:"records"`
}

// Tokens returns a workflow's token totals and records.
func (c *Client) Tokens(ctx context.Context, id string) (*TokensResponse, error) {
	var resp TokensResponse
	if err := c.do(ctx, http.MethodGet, "/workflows/"+id+"/tokens", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the daemon's health report.
type HealthResponse struct {
	Status          string            `json:"status"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	ActiveWorkflows int               `json:"active_workflows"`
	WorkflowCounts  map[string]int64  `json:"workflow_counts"`
	Draining        bool              `json:"draining"`
	Checks          map[string]string `json:"checks"`
}

// Health returns the daemon's health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the daemon's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

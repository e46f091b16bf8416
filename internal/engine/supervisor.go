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

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/pipeline"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// SupervisorConfig tunes the supervisor.
type SupervisorConfig struct {
	// MaxConcurrent caps active workflows across all worktrees. Default 3.
	MaxConcurrent int

	// RetryAfter is the retry hint returned with CONCURRENCY_LIMIT errors.
	// Default 5s.
	RetryAfter time.Duration

	// MaxReviewIterations bounds per-task review cycles. Zero uses the
	// pipeline default.
	MaxReviewIterations int
}

// StartRequest is a validated request to begin a workflow.
type StartRequest struct {
	IssueID       string
	WorktreePath  string
	WorktreeName  string
	Pipeline      string
	Profile       string
	ExternalPlan  string
	CorrelationID string
}

// executorTask is the supervisor's handle on one running workflow.
type executorTask struct {
	workflowID   string
	worktreePath string
	cancel       context.CancelCauseFunc
	done         chan struct{}
}

// Supervisor owns the map of active executor tasks keyed by worktree path.
// It enforces at most one active workflow per worktree and the global
// concurrency cap, and is the only component that starts or cancels
// executors.
type Supervisor struct {
	cfg      SupervisorConfig
	store    *store.Store
	emitter  *Emitter
	gates    *GateRegistry
	runner   *Runner
	registry *pipeline.Registry
	driver   pipeline.StageDriver
	logger   *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	tasks      map[string]*executorTask // worktree_path -> task
	byWorkflow map[string]string        // workflow_id -> worktree_path

	draining atomic.Bool
}

// NewSupervisor wires a supervisor. Executor contexts descend from the
// supervisor's own context, not from request contexts, so an HTTP client
// disconnecting never kills a workflow.
func NewSupervisor(cfg SupervisorConfig, st *store.Store, em *Emitter, gates *GateRegistry,
	runner *Runner, registry *pipeline.Registry, driver pipeline.StageDriver, logger *slog.Logger) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		store:      st,
		emitter:    em,
		gates:      gates,
		runner:     runner,
		registry:   registry,
		driver:     driver,
		logger:     log.WithComponent(logger, "supervisor"),
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[string]*executorTask),
		byWorkflow: make(map[string]string),
	}
}

// validateWorktree checks that the path is an existing directory carrying a
// .git marker. The marker may be a directory (main repository) or a file
// (linked worktree).
func validateWorktree(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return workflow.NewValidation("worktree_path does not exist: %s", path)
	}
	if !info.IsDir() {
		return workflow.NewValidation("worktree_path is not a directory: %s", path)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return workflow.NewValidation("worktree_path is not a git worktree: %s", path)
	}
	return nil
}

// Start validates the request, creates the workflow record, and spawns its
// executor. Returns WORKFLOW_CONFLICT when the worktree already has an
// active workflow, CONCURRENCY_LIMIT at the global cap, and SHUTTING_DOWN
// while draining.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*workflow.Workflow, error) {
	if s.draining.Load() {
		return nil, workflow.NewShuttingDown()
	}
	if err := workflow.ValidateIssueID(req.IssueID); err != nil {
		return nil, err
	}
	path, err := workflow.ValidateWorktreePath(req.WorktreePath)
	if err != nil {
		return nil, err
	}
	if err := validateWorktree(path); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(req.Pipeline)
	if err != nil {
		return nil, err
	}

	name := req.WorktreeName
	if name == "" {
		name = filepath.Base(path)
	}

	now := time.Now()
	wf := &workflow.Workflow{
		ID:           uuid.NewString(),
		IssueID:      req.IssueID,
		WorktreePath: path,
		WorktreeName: name,
		Pipeline:     p.Name(),
		Profile:      req.Profile,
		Status:       workflow.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	if existing, ok := s.tasks[path]; ok {
		s.mu.Unlock()
		return nil, workflow.NewConflict(path, existing.workflowID)
	}
	if len(s.tasks) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return nil, workflow.NewConcurrencyLimit(s.cfg.MaxConcurrent, s.cfg.RetryAfter)
	}

	// The partial unique index is the authoritative conflict guard; the
	// task map check above is the fast path.
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	taskCtx, cancel := context.WithCancelCause(s.baseCtx)
	task := &executorTask{
		workflowID:   wf.ID,
		worktreePath: path,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.tasks[path] = task
	s.byWorkflow[wf.ID] = path
	s.mu.Unlock()

	workflowsStarted.Inc()
	activeWorkflows.Inc()
	s.logger.Info("workflow starting",
		log.WorkflowIDKey, wf.ID, log.WorktreeKey, path, "issue_id", req.IssueID)

	st := p.InitialState(pipeline.StartInputs{
		IssueID:             req.IssueID,
		WorktreePath:        path,
		Profile:             req.Profile,
		ExternalPlan:        req.ExternalPlan,
		MaxReviewIterations: s.cfg.MaxReviewIterations,
	})

	go s.execute(taskCtx, task, wf, p, st)
	return wf, nil
}

// execute runs the workflow and cleans up the supervisor's bookkeeping
// when it exits for any reason.
func (s *Supervisor) execute(ctx context.Context, task *executorTask, wf *workflow.Workflow, p pipeline.Pipeline, st *pipeline.State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor panicked", log.WorkflowIDKey, wf.ID, "panic", r)
			s.runner.fail(context.WithoutCancel(ctx), wf, fmt.Errorf("executor panic: %v", r))
		}
		s.gates.ResolveCancel(wf.ID)
		s.emitter.Forget(wf.ID)
		s.mu.Lock()
		delete(s.tasks, task.worktreePath)
		delete(s.byWorkflow, wf.ID)
		s.mu.Unlock()
		activeWorkflows.Dec()
		close(task.done)
	}()

	if err := s.runner.Run(ctx, wf, p, s.driver, st); err != nil {
		s.logger.Error("workflow failed", log.WorkflowIDKey, wf.ID, log.Error(err))
	}
}

// Approve resolves the workflow's pending approval gate.
func (s *Supervisor) Approve(ctx context.Context, workflowID, correlationID string) error {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	return s.gates.ResolveApprove(ctx, workflowID, correlationID)
}

// Reject resolves the gate with feedback and cancels the executor. The
// rejection itself already terminates the workflow; the cancel only makes
// sure a wedged executor does not linger.
func (s *Supervisor) Reject(ctx context.Context, workflowID, feedback, correlationID string) error {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	if err := s.gates.ResolveReject(ctx, workflowID, feedback, correlationID); err != nil {
		return err
	}
	s.mu.Lock()
	path, ok := s.byWorkflow[workflowID]
	var task *executorTask
	if ok {
		task = s.tasks[path]
	}
	s.mu.Unlock()
	if task != nil {
		task.cancel(errors.New("approval rejected"))
	}
	return nil
}

// Cancel cancels a workflow's executor. Idempotent: cancelling a terminal
// workflow returns its current state without error.
func (s *Supervisor) Cancel(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	return s.CancelWithReason(ctx, workflowID, "cancelled by user")
}

// CancelWithReason cancels with an explicit reason recorded in the
// WORKFLOW_CANCELLED event.
func (s *Supervisor) CancelWithReason(ctx context.Context, workflowID, reason string) (*workflow.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return wf, nil
	}

	s.mu.Lock()
	path, ok := s.byWorkflow[workflowID]
	var task *executorTask
	if ok {
		task = s.tasks[path]
	}
	s.mu.Unlock()

	if task != nil {
		// Set the cause before waking a gate-blocked executor so the
		// WORKFLOW_CANCELLED event carries the reason.
		task.cancel(errors.New(reason))
		s.gates.ResolveCancel(workflowID)
		return wf, nil
	}

	// Active row without an executor (should not happen after startup
	// recovery): terminate it directly.
	ev := &workflow.Event{
		WorkflowID: workflowID,
		Agent:      "system",
		Type:       workflow.EventWorkflowCancelled,
		Message:    reason,
	}
	if err := s.emitter.Emit(ctx, ev); err != nil {
		return nil, err
	}
	return s.store.GetWorkflow(ctx, workflowID)
}

// SetPlan attaches an external plan to a workflow that has not moved past
// its planning stage. Refuses to overwrite an existing plan unless force
// is set.
func (s *Supervisor) SetPlan(ctx context.Context, workflowID, plan string, force bool) (*workflow.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, workflow.NewInvalidState("cannot set a plan on a %s workflow", wf.Status)
	}
	if wf.CurrentStage != "" && wf.CurrentStage != pipeline.StagePlanning {
		return nil, workflow.NewInvalidState("workflow %s has moved past planning", workflowID)
	}

	st := &pipeline.State{IssueID: wf.IssueID, WorktreePath: wf.WorktreePath}
	if len(wf.StateBlob) > 0 {
		if st, err = pipeline.UnmarshalState(wf.StateBlob); err != nil {
			return nil, workflow.NewInternal(err)
		}
	}
	if st.Plan != "" && !force {
		e := &workflow.Error{
			Kind:    workflow.KindConflict,
			Message: fmt.Sprintf("workflow %s already has a plan", workflowID),
		}
		return nil, e.WithDetail("workflow_id", workflowID)
	}

	st.Plan = plan
	st.ExternalPlan = true
	st.Tasks = nil
	blob, err := st.Marshal()
	if err != nil {
		return nil, workflow.NewInternal(err)
	}
	if err := s.store.UpdateState(ctx, workflowID, blob); err != nil {
		return nil, err
	}
	return s.store.GetWorkflow(ctx, workflowID)
}

// ActiveWorktrees returns the worktree paths with a running executor.
func (s *Supervisor) ActiveWorktrees() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.tasks))
	for path := range s.tasks {
		paths = append(paths, path)
	}
	return paths
}

// WorkflowByWorktree resolves the active workflow id on a worktree.
func (s *Supervisor) WorkflowByWorktree(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[path]
	if !ok {
		return "", false
	}
	return task.workflowID, true
}

// ActiveCount returns the number of running executors.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// StartDraining makes subsequent Start calls fail with SHUTTING_DOWN.
func (s *Supervisor) StartDraining() {
	s.draining.Store(true)
}

// IsDraining reports whether the supervisor is refusing new workflows.
func (s *Supervisor) IsDraining() bool {
	return s.draining.Load()
}

// Shutdown drains the supervisor: it waits up to timeout for executors to
// finish or park at a gate, then cancels the stragglers with grace each.
func (s *Supervisor) Shutdown(timeout, grace time.Duration) {
	s.StartDraining()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if s.drained() {
			break
		}
		<-ticker.C
	}

	s.mu.Lock()
	remaining := make([]*executorTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		remaining = append(remaining, task)
	}
	s.mu.Unlock()

	// Gate-parked executors are cancelled along with running ones: a
	// blocked workflow left open would be failed by startup recovery
	// anyway, and a cancelled close releases its worktree immediately.
	for _, task := range remaining {
		task.cancel(errors.New("server shutting down"))
		s.gates.ResolveCancel(task.workflowID)
		select {
		case <-task.done:
		case <-time.After(grace):
			s.logger.Warn("executor did not exit within grace period",
				log.WorkflowIDKey, task.workflowID)
		}
	}
	s.baseCancel()
}

// drained reports whether every remaining executor is parked at a gate.
func (s *Supervisor) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if !s.gates.Pending(task.workflowID) {
			return false
		}
	}
	return true
}

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
	"log/slog"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/pipeline"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// Runner executes a pipeline graph for one workflow: it emits the stage
// and terminal events, persists state between node steps, and parks at
// approval gates.
type Runner struct {
	store   *store.Store
	emitter *Emitter
	gates   *GateRegistry
	logger  *slog.Logger
}

// NewRunner wires a runner over the engine's store, emitter and gates.
func NewRunner(st *store.Store, em *Emitter, gates *GateRegistry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   st,
		emitter: em,
		gates:   gates,
		logger:  log.WithComponent(logger, "runner"),
	}
}

// recordingDriver records token usage reported by the wrapped driver.
type recordingDriver struct {
	inner  pipeline.StageDriver
	store  *store.Store
	logger *slog.Logger
}

func (d *recordingDriver) Name() string { return d.inner.Name() }

func (d *recordingDriver) Execute(ctx context.Context, req *pipeline.StageRequest) (*pipeline.StageResult, error) {
	res, err := d.inner.Execute(ctx, req)
	if res != nil && res.Usage != nil {
		res.Usage.WorkflowID = req.WorkflowID
		if res.Usage.Agent == "" {
			res.Usage.Agent = req.Agent
		}
		// Usage recording must not fail the stage.
		if recErr := d.store.RecordTokenUsage(context.WithoutCancel(ctx), res.Usage); recErr != nil {
			d.logger.Warn("failed to record token usage", log.Error(recErr))
		}
	}
	return res, err
}

// Run drives the workflow to a terminal status. It always emits exactly
// one terminal event unless a resolver already terminated the workflow
// (rejection) or the process dies. Returns the error that failed the
// workflow, nil on completion, cancellation or rejection.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, p pipeline.Pipeline, driver pipeline.StageDriver, st *pipeline.State) error {
	logger := log.WithWorkflowContext(r.logger, wf.ID, wf.WorktreePath)

	if err := r.emitter.Emit(ctx, &workflow.Event{
		WorkflowID: wf.ID,
		Agent:      "system",
		Type:       workflow.EventWorkflowStarted,
		Message:    "workflow started",
		Data:       map[string]any{"issue_id": wf.IssueID, "pipeline": p.Name()},
	}); err != nil {
		return err
	}

	rc := &pipeline.RunContext{
		Workflow: wf,
		State:    st,
		Driver:   &recordingDriver{inner: driver, store: r.store, logger: logger},
		Events:   r.emitter,
		Logger:   logger,
	}

	graph := p.Graph()
	if err := graph.Validate(); err != nil {
		return r.fail(ctx, wf, err)
	}

	node := graph.Nodes[graph.Entry]
	for node != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx, wf)
		}

		if err := r.emitter.Emit(ctx, &workflow.Event{
			WorkflowID: wf.ID,
			Agent:      "system",
			Type:       workflow.EventStageStarted,
			Message:    node.Name,
			Data:       map[string]any{"stage": node.Name},
		}); err != nil {
			return r.fail(ctx, wf, err)
		}

		if err := node.Run(ctx, rc); err != nil {
			if canceled(ctx, err) {
				return r.cancelled(ctx, wf)
			}
			return r.fail(ctx, wf, err)
		}

		// Persist state at the node boundary so a crash leaves a
		// recoverable record of how far the run got.
		if blob, err := st.Marshal(); err == nil {
			if err := r.store.UpdateState(ctx, wf.ID, blob); err != nil {
				logger.Warn("failed to persist pipeline state", log.Error(err))
			}
		}

		if err := r.emitter.Emit(ctx, &workflow.Event{
			WorkflowID: wf.ID,
			Agent:      "system",
			Type:       workflow.EventStageCompleted,
			Message:    node.Name,
			Data:       map[string]any{"stage": node.Name},
		}); err != nil {
			return r.fail(ctx, wf, err)
		}

		if node.ApprovalGate {
			res, err := r.gates.Wait(ctx, wf.ID, node.Name, "")
			if err != nil {
				return r.fail(ctx, wf, err)
			}
			switch res.Kind {
			case ResolutionRejected:
				// APPROVAL_REJECTED already made the workflow terminal.
				logger.Info("workflow rejected at gate", log.StageKey, node.Name)
				workflowsFinished.WithLabelValues(string(workflow.StatusFailed)).Inc()
				return nil
			case ResolutionCancelled:
				return r.cancelled(ctx, wf)
			}
		}

		next := node.Next(st)
		if next == "" {
			break
		}
		node = graph.Nodes[next]
		if node == nil {
			return r.fail(ctx, wf, errors.New("pipeline routed to unknown node "+next))
		}
	}

	if err := r.emitter.Emit(ctx, &workflow.Event{
		WorkflowID: wf.ID,
		Agent:      "system",
		Type:       workflow.EventWorkflowCompleted,
		Message:    "workflow completed",
	}); err != nil {
		return err
	}
	workflowsFinished.WithLabelValues(string(workflow.StatusCompleted)).Inc()
	logger.Info("workflow completed")
	return nil
}

// canceled reports whether err stems from ctx cancellation.
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// fail emits WORKFLOW_FAILED and returns the original error.
func (r *Runner) fail(ctx context.Context, wf *workflow.Workflow, cause error) error {
	ev := &workflow.Event{
		WorkflowID: wf.ID,
		Agent:      "system",
		Type:       workflow.EventWorkflowFailed,
		Message:    cause.Error(),
	}
	if err := r.emitter.Emit(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Error("failed to emit WORKFLOW_FAILED", log.WorkflowIDKey, wf.ID, log.Error(err))
	}
	workflowsFinished.WithLabelValues(string(workflow.StatusFailed)).Inc()
	return cause
}

// cancelled emits WORKFLOW_CANCELLED with the cancellation cause.
func (r *Runner) cancelled(ctx context.Context, wf *workflow.Workflow) error {
	message := "workflow cancelled"
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		message = cause.Error()
	}
	ev := &workflow.Event{
		WorkflowID: wf.ID,
		Agent:      "system",
		Type:       workflow.EventWorkflowCancelled,
		Message:    message,
	}
	if err := r.emitter.Emit(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Error("failed to emit WORKFLOW_CANCELLED", log.WorkflowIDKey, wf.ID, log.Error(err))
	}
	workflowsFinished.WithLabelValues(string(workflow.StatusCancelled)).Inc()
	r.logger.Info("workflow cancelled", log.WorkflowIDKey, wf.ID, "reason", message)
	return nil
}

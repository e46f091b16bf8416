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

package pipeline

import (
	"context"
	"fmt"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// DefaultPipeline is the pipeline used when a start request names none.
const DefaultPipeline = "implementation"

// Stage names of the implementation pipeline.
const (
	StagePlanning  = "planning"
	StageExecution = "execution"
	StageReview    = "review"
)

// implementationPipeline is the Architect -> Developer <-> Reviewer flow:
// produce a plan, validate it at an approval gate, execute plan tasks one
// at a time, and run bounded review cycles per task.
type implementationPipeline struct{}

// NewImplementationPipeline returns the default pipeline definition.
func NewImplementationPipeline() Pipeline {
	return &implementationPipeline{}
}

func (p *implementationPipeline) Name() string        { return DefaultPipeline }
func (p *implementationPipeline) DisplayName() string { return "Implementation" }
func (p *implementationPipeline) Description() string {
	return "Plan, validate, implement and review an issue against a worktree."
}

func (p *implementationPipeline) InitialState(in StartInputs) *State {
	st := &State{
		IssueID:             in.IssueID,
		WorktreePath:        in.WorktreePath,
		Profile:             in.Profile,
		MaxReviewIterations: in.MaxReviewIterations,
	}
	if st.MaxReviewIterations <= 0 {
		st.MaxReviewIterations = DefaultMaxReviewIterations
	}
	if in.ExternalPlan != "" {
		st.Plan = in.ExternalPlan
		st.ExternalPlan = true
	}
	return st
}

func (p *implementationPipeline) Graph() *Graph {
	return &Graph{
		Entry: StagePlanning,
		Nodes: map[string]*Node{
			StagePlanning: {
				Name:         StagePlanning,
				ApprovalGate: true,
				Run:          runPlanning,
				Next: func(st *State) string {
					if st.Done() {
						return ""
					}
					return StageExecution
				},
			},
			StageExecution: {
				Name: StageExecution,
				Run:  runExecution,
				Next: func(st *State) string { return StageReview },
			},
			StageReview: {
				Name: StageReview,
				Run:  runReview,
				Next: func(st *State) string {
					if st.Done() {
						return ""
					}
					return StageExecution
				},
			},
		},
	}
}

// runPlanning produces the plan and decomposes it into tasks. An external
// plan skips the architect driver call and goes straight to validation.
func runPlanning(ctx context.Context, rc *RunContext) error {
	st := rc.State

	if st.ExternalPlan {
		if len(st.Tasks) == 0 {
			st.Tasks = ParsePlanTasks(st.Plan)
		}
		return nil
	}

	result, err := rc.Driver.Execute(ctx, &StageRequest{
		WorkflowID:   rc.Workflow.ID,
		Stage:        StagePlanning,
		Agent:        AgentArchitect,
		WorktreePath: st.WorktreePath,
		State:        st,
	})
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	st.Plan = result.Output
	if len(result.Tasks) > 0 {
		st.Tasks = result.Tasks
	} else {
		st.Tasks = ParsePlanTasks(st.Plan)
	}
	return nil
}

// runExecution runs the developer against the current task.
func runExecution(ctx context.Context, rc *RunContext) error {
	st := rc.State
	task := st.Current()
	if task == nil {
		return fmt.Errorf("execution: no task to execute")
	}

	if task.Status == TaskPending {
		task.Status = TaskInProgress
		if err := rc.Events.Emit(ctx, &workflow.Event{
			WorkflowID: rc.Workflow.ID,
			Agent:      AgentDeveloper,
			Type:       workflow.EventTaskStarted,
			Message:    task.Title,
			Data:       map[string]any{"task_id": task.ID},
		}); err != nil {
			return err
		}
	}

	_, err := rc.Driver.Execute(ctx, &StageRequest{
		WorkflowID:   rc.Workflow.ID,
		Stage:        StageExecution,
		Agent:        AgentDeveloper,
		WorktreePath: st.WorktreePath,
		Task:         task,
		State:        st,
	})
	if err != nil {
		return fmt.Errorf("execution of %s: %w", task.ID, err)
	}
	return nil
}

// runReview runs the reviewer on the current task and either advances to
// the next task, requests a revision, or fails the task when the revision
// budget is exhausted.
func runReview(ctx context.Context, rc *RunContext) error {
	st := rc.State
	task := st.Current()
	if task == nil {
		return fmt.Errorf("review: no task under review")
	}

	if err := rc.Events.Emit(ctx, &workflow.Event{
		WorkflowID: rc.Workflow.ID,
		Agent:      AgentReviewer,
		Type:       workflow.EventReviewRequested,
		Message:    task.Title,
		Data:       map[string]any{"task_id": task.ID},
	}); err != nil {
		return err
	}

	result, err := rc.Driver.Execute(ctx, &StageRequest{
		WorkflowID:   rc.Workflow.ID,
		Stage:        StageReview,
		Agent:        AgentReviewer,
		WorktreePath: st.WorktreePath,
		Task:         task,
		State:        st,
	})
	if err != nil {
		return fmt.Errorf("review of %s: %w", task.ID, err)
	}

	if err := rc.Events.Emit(ctx, &workflow.Event{
		WorkflowID: rc.Workflow.ID,
		Agent:      AgentReviewer,
		Type:       workflow.EventReviewCompleted,
		Message:    result.Output,
		Data:       map[string]any{"task_id": task.ID, "approved": result.Approved},
	}); err != nil {
		return err
	}

	st.ReviewApproved = result.Approved
	st.ReviewFeedback = result.Feedback

	if result.Approved {
		task.Status = TaskCompleted
		if err := rc.Events.Emit(ctx, &workflow.Event{
			WorkflowID: rc.Workflow.ID,
			Agent:      AgentReviewer,
			Type:       workflow.EventTaskCompleted,
			Message:    task.Title,
			Data:       map[string]any{"task_id": task.ID},
		}); err != nil {
			return err
		}
		st.CurrentTask++
		return nil
	}

	task.ReviewIterations++
	if task.ReviewIterations >= st.MaxReviewIterations {
		task.Status = TaskFailed
		if err := rc.Events.Emit(ctx, &workflow.Event{
			WorkflowID: rc.Workflow.ID,
			Agent:      AgentReviewer,
			Type:       workflow.EventTaskFailed,
			Message:    fmt.Sprintf("task %s exceeded %d review iterations", task.ID, st.MaxReviewIterations),
			Data:       map[string]any{"task_id": task.ID},
		}); err != nil {
			return err
		}
		return fmt.Errorf("task %s exceeded %d review iterations", task.ID, st.MaxReviewIterations)
	}

	return rc.Events.Emit(ctx, &workflow.Event{
		WorkflowID: rc.Workflow.ID,
		Agent:      AgentReviewer,
		Type:       workflow.EventRevisionRequested,
		Message:    result.Feedback,
		Data:       map[string]any{"task_id": task.ID, "iteration": task.ReviewIterations},
	})
}

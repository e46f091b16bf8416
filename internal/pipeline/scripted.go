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
	"sync"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// ScriptedDriver is a deterministic driver for development and tests. It
// plans a fixed number of tasks and approves each task's review after a
// fixed number of revision rounds, reporting synthetic token usage.
type ScriptedDriver struct {
	// PlanTasks is how many tasks a planning stage produces. Default 2.
	PlanTasks int

	// RejectionsPerTask is how many review rounds fail before approval.
	RejectionsPerTask int

	// Model reported in usage records. Defaults to the pricing fallback.
	Model string

	mu      sync.Mutex
	reviews map[string]int
}

// NewScriptedDriver creates a driver with the default script.
func NewScriptedDriver() *ScriptedDriver {
	return &ScriptedDriver{PlanTasks: 2}
}

// Name implements StageDriver.
func (d *ScriptedDriver) Name() string { return "scripted" }

// Execute implements StageDriver.
func (d *ScriptedDriver) Execute(ctx context.Context, req *StageRequest) (*StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := d.Model
	if model == "" {
		model = workflow.DefaultModel
	}
	usage := &workflow.TokenUsage{
		WorkflowID:   req.WorkflowID,
		Agent:        req.Agent,
		Model:        model,
		InputTokens:  1000,
		OutputTokens: 200,
	}

	switch req.Agent {
	case AgentArchitect:
		n := d.PlanTasks
		if n <= 0 {
			n = 2
		}
		tasks := make([]Task, n)
		plan := fmt.Sprintf("Plan for %s:\n", req.State.IssueID)
		for i := range tasks {
			tasks[i] = Task{
				ID:     fmt.Sprintf("task-%d", i+1),
				Title:  fmt.Sprintf("Step %d of %s", i+1, req.State.IssueID),
				Status: TaskPending,
			}
			plan += fmt.Sprintf("- %s\n", tasks[i].Title)
		}
		return &StageResult{Output: plan, Tasks: tasks, Usage: usage}, nil

	case AgentDeveloper:
		title := ""
		if req.Task != nil {
			title = req.Task.Title
		}
		return &StageResult{
			Output: fmt.Sprintf("implemented %s", title),
			Usage:  usage,
		}, nil

	case AgentReviewer:
		d.mu.Lock()
		if d.reviews == nil {
			d.reviews = make(map[string]int)
		}
		key := req.WorkflowID
		if req.Task != nil {
			key += "/" + req.Task.ID
		}
		d.reviews[key]++
		round := d.reviews[key]
		d.mu.Unlock()

		if round <= d.RejectionsPerTask {
			return &StageResult{
				Output:   "changes requested",
				Feedback: fmt.Sprintf("revision %d requested", round),
				Usage:    usage,
			}, nil
		}
		return &StageResult{Output: "looks good", Approved: true, Usage: usage}, nil

	default:
		return nil, fmt.Errorf("scripted driver: unknown agent %q", req.Agent)
	}
}

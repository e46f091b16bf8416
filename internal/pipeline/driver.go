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

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// Agent roles for stage execution and event attribution.
const (
	AgentArchitect = "architect"
	AgentDeveloper = "developer"
	AgentReviewer  = "reviewer"
)

// StageRequest is one unit of agent work handed to a driver.
type StageRequest struct {
	WorkflowID   string
	Stage        string
	Agent        string
	WorktreePath string

	// Task is the task under execution, nil for planning.
	Task *Task

	// State gives the driver read access to accumulated pipeline state.
	State *State
}

// StageResult is what a driver produced for one stage invocation.
type StageResult struct {
	// Output is the driver's textual result: the plan for planning stages,
	// a change summary for execution, a verdict rationale for review.
	Output string

	// Tasks carries the decomposed plan from a planning stage.
	Tasks []Task

	// Approved is the review verdict; meaningful for review stages only.
	Approved bool

	// Feedback carries reviewer feedback when Approved is false.
	Feedback string

	// Usage reports token consumption for this invocation, if any.
	Usage *workflow.TokenUsage
}

// StageDriver runs agent stages. Drivers are expected to honour ctx
// cancellation promptly; a driver call is a suspension point.
type StageDriver interface {
	Name() string
	Execute(ctx context.Context, req *StageRequest) (*StageResult, error)
}

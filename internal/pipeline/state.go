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
	"encoding/json"
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle status of one plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work from the plan.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	ReviewIterations int        `json:"review_iterations"`
}

// DefaultMaxReviewIterations bounds the developer/reviewer revision loop
// per task.
const DefaultMaxReviewIterations = 3

// State is the typed state threaded through a pipeline run. It is
// serialized to the workflow's state blob between node steps.
type State struct {
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	Profile      string `json:"profile,omitempty"`

	Plan         string `json:"plan,omitempty"`
	ExternalPlan bool   `json:"external_plan"`

	Tasks       []Task `json:"tasks,omitempty"`
	CurrentTask int    `json:"current_task"`

	MaxReviewIterations int    `json:"max_review_iterations"`
	ReviewApproved      bool   `json:"review_approved"`
	ReviewFeedback      string `json:"review_feedback,omitempty"`
}

// Marshal serializes the state to its blob form.
func (s *State) Marshal() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal state: %w", err)
	}
	return b, nil
}

// UnmarshalState deserializes a state blob.
func UnmarshalState(blob []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("pipeline: unmarshal state: %w", err)
	}
	return &s, nil
}

// Current returns the task under execution, or nil when all tasks are done.
func (s *State) Current() *Task {
	if s.CurrentTask < 0 || s.CurrentTask >= len(s.Tasks) {
		return nil
	}
	return &s.Tasks[s.CurrentTask]
}

// Done reports whether every task has completed.
func (s *State) Done() bool {
	return s.CurrentTask >= len(s.Tasks)
}

// ParsePlanTasks extracts tasks from plan text. Each markdown list item
// becomes one task; plans without list items become a single task covering
// the whole plan.
func ParsePlanTasks(plan string) []Task {
	var tasks []Task
	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		var title string
		switch {
		case strings.HasPrefix(trimmed, "- "):
			title = strings.TrimSpace(trimmed[2:])
		case strings.HasPrefix(trimmed, "* "):
			title = strings.TrimSpace(trimmed[2:])
		}
		if title == "" {
			continue
		}
		tasks = append(tasks, Task{
			ID:     fmt.Sprintf("task-%d", len(tasks)+1),
			Title:  title,
			Status: TaskPending,
		})
	}
	if len(tasks) == 0 && strings.TrimSpace(plan) != "" {
		tasks = append(tasks, Task{
			ID:     "task-1",
			Title:  "Execute plan",
			Status: TaskPending,
		})
	}
	return tasks
}

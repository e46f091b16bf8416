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

// Package workflow defines the core domain model: workflow status, the
// event log, and the projection that folds events into workflow state.
package workflow

// Status represents the lifecycle status of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the exhaustive table of legal status transitions.
// Terminal states have no outgoing edges.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusBlocked:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusBlocked: {
		StatusInProgress: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s is a terminal status. Terminal workflows
// never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether s counts toward the one-active-per-worktree
// constraint and the global concurrency cap.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked:
		return true
	}
	return false
}

// ValidateTransition checks that from → to is a legal status transition.
// All status writes must pass through this check; there is no raw write path.
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return NewInvalidState("unknown status %q", from)
	}
	if !to.Valid() {
		return NewInvalidState("unknown status %q", to)
	}
	if !transitions[from][to] {
		return NewInvalidState("invalid status transition %s -> %s", from, to)
	}
	return nil
}

// Statuses returns all known status values in a stable order.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusInProgress,
		StatusBlocked,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	}
}

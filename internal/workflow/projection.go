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

package workflow

import "sort"

// Project folds an event log into workflow state. The fold is deterministic
// and idempotent: the same events always produce the same state. Events must
// form a dense sequence starting at 1; informational and unknown event types
// are no-ops.
//
// The returned workflow carries only event-derived fields (status, stage,
// timestamps, failure reason). Creation metadata such as issue id and
// worktree path lives on the stored row, not in the log.
func Project(events []Event) (*Workflow, error) {
	if len(events) == 0 {
		return nil, NewValidation("cannot project an empty event log")
	}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	for i, ev := range sorted {
		if ev.Sequence != int64(i+1) {
			return nil, NewInternal(nil).WithDetail("gap_at", i+1)
		}
		if ev.WorkflowID != sorted[0].WorkflowID {
			return nil, NewValidation("event log mixes workflows %s and %s", sorted[0].WorkflowID, ev.WorkflowID)
		}
	}

	wf := &Workflow{
		ID:     sorted[0].WorkflowID,
		Status: StatusPending,
	}

	for i := range sorted {
		applyEvent(wf, &sorted[i])
	}
	return wf, nil
}

// applyEvent applies a single event to the workflow in place. Illegal
// transitions are skipped rather than failing the fold: the store rejects
// them at append time, so a persisted log can only contain legal ones, and
// skipping keeps projection total over historical data.
func applyEvent(wf *Workflow, ev *Event) {
	switch ev.Type {
	case EventStageStarted:
		if stage := ev.Stage(); stage != "" {
			wf.CurrentStage = stage
		}
		return
	case EventWorkflowStarted:
		if ValidateTransition(wf.Status, StatusInProgress) != nil {
			return
		}
		wf.Status = StatusInProgress
		ts := ev.Timestamp
		wf.StartedAt = &ts
		return
	}

	next := ev.Type.StatusAfter()
	if next == "" {
		return // informational
	}
	if ValidateTransition(wf.Status, next) != nil {
		return
	}
	wf.Status = next

	if next == StatusFailed {
		wf.FailureReason = ev.Message
	}
	if next.Terminal() {
		ts := ev.Timestamp
		wf.CompletedAt = &ts
	}
}

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

import "time"

// EventType identifies what happened to a workflow. The enum is closed for
// state-affecting events; pipelines may emit additional informational types.
type EventType string

// State-affecting event types. These drive status changes in projection.
const (
	EventWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventStageStarted      EventType = "STAGE_STARTED"
	EventApprovalRequired  EventType = "APPROVAL_REQUIRED"
	EventApprovalGranted   EventType = "APPROVAL_GRANTED"
	EventApprovalRejected  EventType = "APPROVAL_REJECTED"
	EventWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    EventType = "WORKFLOW_FAILED"
	EventWorkflowCancelled EventType = "WORKFLOW_CANCELLED"
)

// Informational event types. Audit only; projection ignores them.
const (
	EventStageCompleted    EventType = "STAGE_COMPLETED"
	EventFileCreated       EventType = "FILE_CREATED"
	EventFileModified      EventType = "FILE_MODIFIED"
	EventFileDeleted       EventType = "FILE_DELETED"
	EventReviewRequested   EventType = "REVIEW_REQUESTED"
	EventReviewCompleted   EventType = "REVIEW_COMPLETED"
	EventRevisionRequested EventType = "REVISION_REQUESTED"
	EventSystemError       EventType = "SYSTEM_ERROR"
	EventSystemWarning     EventType = "SYSTEM_WARNING"
	EventTaskStarted       EventType = "TASK_STARTED"
	EventTaskCompleted     EventType = "TASK_COMPLETED"
	EventTaskFailed        EventType = "TASK_FAILED"

	EventDocumentIngestionStarted   EventType = "DOCUMENT_INGESTION_STARTED"
	EventDocumentIngestionProgress  EventType = "DOCUMENT_INGESTION_PROGRESS"
	EventDocumentIngestionCompleted EventType = "DOCUMENT_INGESTION_COMPLETED"
	EventDocumentIngestionFailed    EventType = "DOCUMENT_INGESTION_FAILED"
)

// stateAffecting maps each state-affecting event type to the status it
// transitions the workflow into.
var stateAffecting = map[EventType]Status{
	EventWorkflowStarted:   StatusInProgress,
	EventApprovalRequired:  StatusBlocked,
	EventApprovalGranted:   StatusInProgress,
	EventApprovalRejected:  StatusFailed,
	EventWorkflowCompleted: StatusCompleted,
	EventWorkflowFailed:    StatusFailed,
	EventWorkflowCancelled: StatusCancelled,
}

// StateAffecting reports whether events of this type drive status changes.
// STAGE_STARTED is state-affecting (it records the current stage) without
// changing the status.
func (t EventType) StateAffecting() bool {
	if t == EventStageStarted {
		return true
	}
	_, ok := stateAffecting[t]
	return ok
}

// StatusAfter returns the status an event of this type transitions a
// workflow into, or "" if the type does not change status.
func (t EventType) StatusAfter() Status {
	return stateAffecting[t]
}

// Event is an immutable, sequenced record of something that happened to a
// workflow. (workflow_id, sequence) is unique; sequences are dense from 1.
type Event struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Sequence      int64          `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
	Agent         string         `json:"agent,omitempty"`
	Type          EventType      `json:"event_type"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Stage extracts the stage name from an event's payload, if present.
func (e *Event) Stage() string {
	if e.Data == nil {
		return ""
	}
	if s, ok := e.Data["stage"].(string); ok {
		return s
	}
	return ""
}

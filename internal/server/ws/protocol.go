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

package ws

import "github.com/existential-birds/amelia-sub002/internal/workflow"

// Client-to-server message types.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribeAll = "subscribe_all"
)

// Server-to-client message types.
const (
	TypeEvent            = "event"
	TypeBackfillComplete = "backfill_complete"
	TypeBackfillExpired  = "backfill_expired"
	TypeError            = "error"
)

// ClientMessage is a subscription control message from the client.
type ClientMessage struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// ServerMessage is any message pushed to the client.
type ServerMessage struct {
	Type string `json:"type"`

	// Event carries the persisted event for "event" messages.
	Event *workflow.Event `json:"event,omitempty"`

	// Count is the number of replayed events on "backfill_complete".
	Count int `json:"count,omitempty"`

	// Message describes "error" payloads.
	Message string `json:"message,omitempty"`
}

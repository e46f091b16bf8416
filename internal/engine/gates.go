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
	"log/slog"
	"sync"

	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// ResolutionKind is the outcome of an approval gate.
type ResolutionKind string

const (
	ResolutionApproved  ResolutionKind = "approved"
	ResolutionRejected  ResolutionKind = "rejected"
	ResolutionCancelled ResolutionKind = "cancelled"
)

// Resolution carries a gate's outcome back to the waiting executor.
type Resolution struct {
	Kind     ResolutionKind
	Feedback string
}

// GateRegistry owns the rendezvous between an executor paused at an
// approval gate and the client call that resolves it. Exactly one of
// approve, reject or cancel wins; the losers see "no pending gate".
type GateRegistry struct {
	emitter *Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	gates map[string]chan Resolution
}

// NewGateRegistry creates an empty registry emitting through em.
func NewGateRegistry(em *Emitter, logger *slog.Logger) *GateRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &GateRegistry{
		emitter: em,
		logger:  log.WithComponent(logger, "gates"),
		gates:   make(map[string]chan Resolution),
	}
}

// errNoPendingGate builds the INVALID_STATE error the HTTP layer maps to a
// 422 response.
func errNoPendingGate(workflowID string) *workflow.Error {
	return workflow.NewInvalidState("no pending gate for workflow %s", workflowID)
}

// Wait registers a rendezvous for the workflow, emits APPROVAL_REQUIRED,
// and blocks until the gate is resolved or ctx is cancelled. Context
// cancellation counts as a cancelled resolution.
func (g *GateRegistry) Wait(ctx context.Context, workflowID, stage, correlationID string) (Resolution, error) {
	ch := make(chan Resolution, 1)

	g.mu.Lock()
	if _, exists := g.gates[workflowID]; exists {
		g.mu.Unlock()
		return Resolution{}, workflow.NewInvalidState("workflow %s already has a pending gate", workflowID)
	}
	g.gates[workflowID] = ch
	g.mu.Unlock()
	gatesPending.Inc()

	ev := &workflow.Event{
		WorkflowID:    workflowID,
		Agent:         "system",
		Type:          workflow.EventApprovalRequired,
		Message:       "approval required",
		Data:          map[string]any{"stage": stage},
		CorrelationID: correlationID,
	}
	if err := g.emitter.Emit(ctx, ev); err != nil {
		g.remove(workflowID)
		return Resolution{}, err
	}

	g.logger.Info("gate opened", log.WorkflowIDKey, workflowID, log.StageKey, stage)

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		// Executor cancelled while blocked. If a resolver won the race
		// first, honor its resolution instead.
		if !g.remove(workflowID) {
			select {
			case res := <-ch:
				return res, nil
			default:
			}
		}
		return Resolution{Kind: ResolutionCancelled}, nil
	}
}

// remove deletes the gate entry, reporting whether it existed.
func (g *GateRegistry) remove(workflowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.gates[workflowID]; !ok {
		return false
	}
	delete(g.gates, workflowID)
	gatesPending.Dec()
	return true
}

// ResolveApprove pops the gate, emits APPROVAL_GRANTED, and wakes the
// waiter. The registry mutex covers the pop-and-emit pair so a concurrent
// reject cannot interleave; the waiter is signalled after unlock.
func (g *GateRegistry) ResolveApprove(ctx context.Context, workflowID, correlationID string) error {
	g.mu.Lock()
	ch, ok := g.gates[workflowID]
	if !ok {
		g.mu.Unlock()
		return errNoPendingGate(workflowID)
	}

	ev := &workflow.Event{
		WorkflowID:    workflowID,
		Agent:         "user",
		Type:          workflow.EventApprovalGranted,
		Message:       "approval granted",
		CorrelationID: correlationID,
	}
	if err := g.emitter.Emit(ctx, ev); err != nil {
		g.mu.Unlock()
		return err
	}
	delete(g.gates, workflowID)
	g.mu.Unlock()
	gatesPending.Dec()

	ch <- Resolution{Kind: ResolutionApproved}
	g.logger.Info("gate approved", log.WorkflowIDKey, workflowID)
	return nil
}

// ResolveReject pops the gate, emits APPROVAL_REJECTED with the feedback,
// and wakes the waiter. APPROVAL_REJECTED is terminal; the supervisor also
// cancels the executor, which observes the rejected resolution and exits
// without emitting anything further.
func (g *GateRegistry) ResolveReject(ctx context.Context, workflowID, feedback, correlationID string) error {
	g.mu.Lock()
	ch, ok := g.gates[workflowID]
	if !ok {
		g.mu.Unlock()
		return errNoPendingGate(workflowID)
	}

	ev := &workflow.Event{
		WorkflowID:    workflowID,
		Agent:         "user",
		Type:          workflow.EventApprovalRejected,
		Message:       feedback,
		CorrelationID: correlationID,
	}
	if feedback == "" {
		ev.Message = "approval rejected"
	}
	if err := g.emitter.Emit(ctx, ev); err != nil {
		g.mu.Unlock()
		return err
	}
	delete(g.gates, workflowID)
	g.mu.Unlock()
	gatesPending.Dec()

	ch <- Resolution{Kind: ResolutionRejected, Feedback: feedback}
	g.logger.Info("gate rejected", log.WorkflowIDKey, workflowID)
	return nil
}

// ResolveCancel pops the gate and wakes the waiter with a cancelled
// resolution. Emits nothing: the executor emits WORKFLOW_CANCELLED as part
// of its own teardown. Returns false when no gate was pending.
func (g *GateRegistry) ResolveCancel(workflowID string) bool {
	g.mu.Lock()
	ch, ok := g.gates[workflowID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.gates, workflowID)
	g.mu.Unlock()
	gatesPending.Dec()

	ch <- Resolution{Kind: ResolutionCancelled}
	return true
}

// Pending reports whether a gate is currently open for the workflow.
func (g *GateRegistry) Pending(workflowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.gates[workflowID]
	return ok
}

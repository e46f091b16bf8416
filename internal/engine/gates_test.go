package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// startedWorkflow creates a workflow and drives it to in_progress so a gate
// can legally open.
func (e *testEngine) startedWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf := e.createWorkflow(t, makeWorktree(t))
	require.NoError(t, e.emitter.Emit(context.Background(), &workflow.Event{
		WorkflowID: wf.ID,
		Type:       workflow.EventWorkflowStarted,
		Message:    "started",
	}))
	return wf
}

func TestGateApprove(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()
	wf := e.startedWorkflow(t)

	done := make(chan Resolution, 1)
	go func() {
		res, err := e.gates.Wait(ctx, wf.ID, "planning", "")
		assert.NoError(t, err)
		done <- res
	}()

	e.waitForGate(t, wf.ID)

	// APPROVAL_REQUIRED moved the workflow to blocked.
	blocked, err := e.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusBlocked, blocked.Status)

	require.NoError(t, e.gates.ResolveApprove(ctx, wf.ID, ""))

	res := <-done
	assert.Equal(t, ResolutionApproved, res.Kind)

	resumed, err := e.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, resumed.Status)
}

func TestGateReject(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()
	wf := e.startedWorkflow(t)

	done := make(chan Resolution, 1)
	go func() {
		res, err := e.gates.Wait(ctx, wf.ID, "planning", "")
		assert.NoError(t, err)
		done <- res
	}()

	e.waitForGate(t, wf.ID)
	require.NoError(t, e.gates.ResolveReject(ctx, wf.ID, "wrong direction", ""))

	res := <-done
	assert.Equal(t, ResolutionRejected, res.Kind)
	assert.Equal(t, "wrong direction", res.Feedback)

	// APPROVAL_REJECTED is terminal and records the feedback.
	failed, err := e.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, failed.Status)
	assert.Equal(t, "wrong direction", failed.FailureReason)
}

func TestGateResolveWithoutPendingGate(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()

	err := e.gates.ResolveApprove(ctx, "wf-none", "")
	assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))

	err = e.gates.ResolveReject(ctx, "wf-none", "nope", "")
	assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))

	assert.False(t, e.gates.ResolveCancel("wf-none"))
}

func TestGateExactlyOneResolverWins(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()
	wf := e.startedWorkflow(t)

	done := make(chan Resolution, 1)
	go func() {
		res, err := e.gates.Wait(ctx, wf.ID, "planning", "")
		assert.NoError(t, err)
		done <- res
	}()
	e.waitForGate(t, wf.ID)

	// Fire approve and reject concurrently; exactly one must succeed.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- e.gates.ResolveApprove(ctx, wf.ID, "")
	}()
	go func() {
		defer wg.Done()
		results <- e.gates.ResolveReject(ctx, wf.ID, "no", "")
	}()
	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	<-done
}

func TestGateWaitCancelledByContext(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	wf := e.startedWorkflow(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Resolution, 1)
	go func() {
		res, err := e.gates.Wait(ctx, wf.ID, "planning", "")
		assert.NoError(t, err)
		done <- res
	}()
	e.waitForGate(t, wf.ID)

	cancel()
	select {
	case res := <-done:
		assert.Equal(t, ResolutionCancelled, res.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not observe cancellation")
	}

	// The gate is gone; a late approve is rejected.
	err := e.gates.ResolveApprove(context.Background(), wf.ID, "")
	assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))
}

func TestGateDuplicateWaitRejected(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()
	wf := e.startedWorkflow(t)

	go func() {
		_, _ = e.gates.Wait(ctx, wf.ID, "planning", "")
	}()
	e.waitForGate(t, wf.ID)

	_, err := e.gates.Wait(ctx, wf.ID, "planning", "")
	assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))

	e.gates.ResolveCancel(wf.ID)
}

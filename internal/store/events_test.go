package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

func TestAppendEventUpdatesStatusCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")

	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)

	mustAppend(t, s, wf.ID, 2, workflow.EventApprovalRequired)
	got, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusBlocked, got.Status)

	mustAppend(t, s, wf.ID, 3, workflow.EventApprovalGranted)
	mustAppend(t, s, wf.ID, 4, workflow.EventWorkflowCompleted)
	got, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestAppendEventStageStartedRecordsStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")
	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)

	ev := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Sequence:   2,
		Timestamp:  time.Now(),
		Type:       workflow.EventStageStarted,
		Message:    "stage started: planning",
		Data:       map[string]any{"stage": "planning"},
	}
	require.NoError(t, s.AppendEvent(ctx, ev))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "planning", got.CurrentStage)
	// Status is untouched by STAGE_STARTED.
	assert.Equal(t, workflow.StatusInProgress, got.Status)
}

func TestAppendEventFailureRecordsReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")
	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)

	ev := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Sequence:   2,
		Timestamp:  time.Now(),
		Type:       workflow.EventWorkflowFailed,
		Message:    "driver exploded",
	}
	require.NoError(t, s.AppendEvent(ctx, ev))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, got.Status)
	assert.Equal(t, "driver exploded", got.FailureReason)
}

func TestAppendEventRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")

	// pending cannot complete directly.
	ev := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Sequence:   1,
		Timestamp:  time.Now(),
		Type:       workflow.EventWorkflowCompleted,
		Message:    "done",
	}
	err := s.AppendEvent(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, workflow.KindInvalidState, workflow.KindOf(err))

	// Nothing was written: the log is still empty.
	max, err := s.MaxSequence(ctx, wf.ID)
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestAppendEventDuplicateSequenceFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")
	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)

	dup := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Sequence:   1,
		Timestamp:  time.Now(),
		Type:       workflow.EventFileCreated,
		Message:    "dup",
	}
	err := s.AppendEvent(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, workflow.KindInternal, workflow.KindOf(err))
}

func TestAppendEventUnknownWorkflow(t *testing.T) {
	s := newTestStore(t)
	ev := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: "missing",
		Sequence:   1,
		Timestamp:  time.Now(),
		Type:       workflow.EventWorkflowStarted,
		Message:    "started",
	}
	err := s.AppendEvent(context.Background(), ev)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}

func TestGetEventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")
	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)
	mustAppend(t, s, wf.ID, 2, workflow.EventFileCreated)
	mustAppend(t, s, wf.ID, 3, workflow.EventFileModified)

	all, err := s.GetEvents(ctx, wf.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}

	tail, err := s.GetEvents(ctx, wf.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)
}

func TestEventDataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := mustCreate(t, s, "/work/a")

	ev := &workflow.Event{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		Sequence:      1,
		Timestamp:     time.Now(),
		Agent:         "architect",
		Type:          workflow.EventWorkflowStarted,
		Message:       "workflow started",
		Data:          map[string]any{"issue_id": "PROJ-1", "pipeline": "implementation"},
		CorrelationID: uuid.NewString(),
	}
	require.NoError(t, s.AppendEvent(ctx, ev))

	events, err := s.GetEvents(ctx, wf.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, ev.Agent, got.Agent)
	assert.Equal(t, ev.CorrelationID, got.CorrelationID)
	assert.Equal(t, "PROJ-1", got.Data["issue_id"])
}

func TestEventRowIDAndBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "/work/a")
	b := mustCreate(t, s, "/work/b")

	first := mustAppend(t, s, a.ID, 1, workflow.EventWorkflowStarted)
	mustAppend(t, s, b.ID, 1, workflow.EventWorkflowStarted)
	mustAppend(t, s, a.ID, 2, workflow.EventFileCreated)

	rowid, err := s.EventRowID(ctx, first.ID)
	require.NoError(t, err)

	after, err := s.EventsAfterRow(ctx, rowid, 100)
	require.NoError(t, err)
	// Backfill crosses workflows in insertion order.
	require.Len(t, after, 2)
	assert.Equal(t, b.ID, after[0].WorkflowID)
	assert.Equal(t, a.ID, after[1].WorkflowID)

	_, err = s.EventRowID(ctx, "never-existed")
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}

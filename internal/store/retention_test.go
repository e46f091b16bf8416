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

// finishAt drives a workflow to completed with the terminal event stamped at
// the given time, so age-based pruning has something to cut against.
func finishAt(t *testing.T, s *Store, workflowID string, completedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	start := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Sequence:   1,
		Timestamp:  completedAt.Add(-time.Minute),
		Type:       workflow.EventWorkflowStarted,
		Message:    "started",
	}
	require.NoError(t, s.AppendEvent(ctx, start))

	finish := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Sequence:   2,
		Timestamp:  completedAt,
		Type:       workflow.EventWorkflowCompleted,
		Message:    "completed",
	}
	require.NoError(t, s.AppendEvent(ctx, finish))
}

func TestPruneByAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := mustCreate(t, s, "/work/old")
	finishAt(t, s, old.ID, time.Now().AddDate(0, 0, -60))

	recent := mustCreate(t, s, "/work/recent")
	finishAt(t, s, recent.ID, time.Now().AddDate(0, 0, -1))

	active := mustCreate(t, s, "/work/active")
	mustAppend(t, s, active.ID, 1, workflow.EventWorkflowStarted)

	report, err := s.Prune(ctx, RetentionPolicy{RetentionDays: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.WorkflowsDeleted)
	assert.Equal(t, int64(2), report.EventsDeleted)

	_, err = s.GetWorkflow(ctx, old.ID)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))

	// Events went with the workflow via cascade.
	events, err := s.GetEvents(ctx, old.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = s.GetWorkflow(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = s.GetWorkflow(ctx, active.ID)
	assert.NoError(t, err)
}

func TestPruneByEventCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := mustCreate(t, s, "/work/chatty")
	mustAppend(t, s, wf.ID, 1, workflow.EventWorkflowStarted)
	for seq := int64(2); seq <= 10; seq++ {
		mustAppend(t, s, wf.ID, seq, workflow.EventFileModified)
	}

	report, err := s.Prune(ctx, RetentionPolicy{MaxEventsPerWorkflow: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.EventsTrimmed)

	events, err := s.GetEvents(ctx, wf.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	// The highest sequences survive; the log no longer starts at 1.
	assert.Equal(t, int64(7), events[0].Sequence)
	assert.Equal(t, int64(10), events[3].Sequence)
}

func TestPruneZeroPolicyIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := mustCreate(t, s, "/work/keep")
	finishAt(t, s, wf.ID, time.Now().AddDate(0, 0, -365))

	report, err := s.Prune(ctx, RetentionPolicy{})
	require.NoError(t, err)
	assert.Zero(t, report.WorkflowsDeleted)
	assert.Zero(t, report.EventsTrimmed)

	_, err = s.GetWorkflow(ctx, wf.ID)
	assert.NoError(t, err)
}

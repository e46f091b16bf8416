package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func makeLog(workflowID string, types ...EventType) []Event {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := make([]Event, len(types))
	for i, typ := range types {
		events[i] = Event{
			ID:         "ev-" + string(rune('a'+i)),
			WorkflowID: workflowID,
			Sequence:   int64(i + 1),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Type:       typ,
			Message:    string(typ),
		}
	}
	return events
}

func TestProjectHappyPath(t *testing.T) {
	events := makeLog("wf-1",
		EventWorkflowStarted,
		EventStageStarted,
		EventApprovalRequired,
		EventApprovalGranted,
		EventWorkflowCompleted,
	)
	events[1].Data = map[string]any{"stage": "planning"}

	wf, err := Project(events)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", wf.ID)
	assert.Equal(t, StatusCompleted, wf.Status)
	assert.Equal(t, "planning", wf.CurrentStage)
	require.NotNil(t, wf.StartedAt)
	require.NotNil(t, wf.CompletedAt)
	assert.Equal(t, events[0].Timestamp, *wf.StartedAt)
	assert.Equal(t, events[4].Timestamp, *wf.CompletedAt)
}

func TestProjectRejectionTerminatesAsFailed(t *testing.T) {
	events := makeLog("wf-1",
		EventWorkflowStarted,
		EventApprovalRequired,
		EventApprovalRejected,
	)
	events[2].Message = "plan needs a different approach"

	wf, err := Project(events)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, wf.Status)
	assert.Equal(t, "plan needs a different approach", wf.FailureReason)
	require.NotNil(t, wf.CompletedAt)
}

func TestProjectInformationalEventsAreNoOps(t *testing.T) {
	events := makeLog("wf-1",
		EventWorkflowStarted,
		EventFileCreated,
		EventReviewRequested,
		EventReviewCompleted,
		EventSystemWarning,
	)
	wf, err := Project(events)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, wf.Status)
	assert.Nil(t, wf.CompletedAt)
}

func TestProjectUnsortedInputSortsBySequence(t *testing.T) {
	events := makeLog("wf-1", EventWorkflowStarted, EventApprovalRequired, EventApprovalGranted)
	shuffled := []Event{events[2], events[0], events[1]}

	wf, err := Project(shuffled)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, wf.Status)
}

func TestProjectErrors(t *testing.T) {
	t.Run("empty log", func(t *testing.T) {
		_, err := Project(nil)
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("gap in sequence", func(t *testing.T) {
		events := makeLog("wf-1", EventWorkflowStarted, EventApprovalRequired, EventApprovalGranted)
		events[1].Sequence = 5
		_, err := Project(events)
		assert.Equal(t, KindInternal, KindOf(err))
	})

	t.Run("sequence not starting at 1", func(t *testing.T) {
		events := makeLog("wf-1", EventWorkflowStarted)
		events[0].Sequence = 2
		_, err := Project(events)
		assert.Error(t, err)
	})

	t.Run("mixed workflows", func(t *testing.T) {
		events := makeLog("wf-1", EventWorkflowStarted, EventApprovalRequired)
		events[1].WorkflowID = "wf-2"
		_, err := Project(events)
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestProjectSkipsIllegalTransitions(t *testing.T) {
	// A cancel after completion is illegal; projection must skip it rather
	// than fail, and the terminal status must stick.
	events := makeLog("wf-1",
		EventWorkflowStarted,
		EventWorkflowCompleted,
		EventWorkflowCancelled,
	)
	wf, err := Project(events)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wf.Status)
}

var stateAffectingTypes = []EventType{
	EventWorkflowStarted,
	EventStageStarted,
	EventApprovalRequired,
	EventApprovalGranted,
	EventApprovalRejected,
	EventWorkflowCompleted,
	EventWorkflowFailed,
	EventWorkflowCancelled,
}

var informationalTypes = []EventType{
	EventStageCompleted,
	EventFileCreated,
	EventReviewRequested,
	EventReviewCompleted,
	EventRevisionRequested,
	EventSystemError,
	EventTaskStarted,
	EventTaskCompleted,
}

func TestProjectProperties(t *testing.T) {
	allTypes := append(append([]EventType{}, stateAffectingTypes...), informationalTypes...)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")
		types := make([]EventType, n)
		for i := range types {
			types[i] = allTypes[rapid.IntRange(0, len(allTypes)-1).Draw(t, "type")]
		}
		events := makeLog("wf-prop", types...)

		wf, err := Project(events)
		if err != nil {
			t.Fatalf("projection failed on dense log: %v", err)
		}

		// Determinism: projecting again yields the same state.
		again, err := Project(events)
		if err != nil {
			t.Fatalf("second projection failed: %v", err)
		}
		if wf.Status != again.Status || wf.CurrentStage != again.CurrentStage {
			t.Fatalf("projection not deterministic: %v vs %v", wf, again)
		}

		// The result is always a known status, terminal iff completed_at set.
		if !wf.Status.Valid() {
			t.Fatalf("projected unknown status %q", wf.Status)
		}
		if wf.Status.Terminal() != (wf.CompletedAt != nil) {
			t.Fatalf("terminal status %q and completed_at disagree", wf.Status)
		}
	})
}

func TestEventTypeClassification(t *testing.T) {
	for _, typ := range stateAffectingTypes {
		assert.True(t, typ.StateAffecting(), "%s", typ)
	}
	for _, typ := range informationalTypes {
		assert.False(t, typ.StateAffecting(), "%s", typ)
		assert.Empty(t, typ.StatusAfter(), "%s", typ)
	}
	// STAGE_STARTED is state-affecting but does not change status.
	assert.Empty(t, EventStageStarted.StatusAfter())
}

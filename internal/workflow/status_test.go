package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to in_progress", StatusPending, StatusInProgress, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"pending to failed", StatusPending, StatusFailed, false},
		{"pending to blocked", StatusPending, StatusBlocked, false},
		{"in_progress to blocked", StatusInProgress, StatusBlocked, true},
		{"in_progress to completed", StatusInProgress, StatusCompleted, true},
		{"in_progress to failed", StatusInProgress, StatusFailed, true},
		{"in_progress to cancelled", StatusInProgress, StatusCancelled, true},
		{"in_progress to pending", StatusInProgress, StatusPending, false},
		{"blocked to in_progress", StatusBlocked, StatusInProgress, true},
		{"blocked to failed", StatusBlocked, StatusFailed, true},
		{"blocked to cancelled", StatusBlocked, StatusCancelled, true},
		{"blocked to completed", StatusBlocked, StatusCompleted, false},
		{"completed is terminal", StatusCompleted, StatusInProgress, false},
		{"failed is terminal", StatusFailed, StatusInProgress, false},
		{"cancelled is terminal", StatusCancelled, StatusPending, false},
		{"self transition rejected", StatusInProgress, StatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, KindInvalidState, KindOf(err))
			}
		})
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	require.Error(t, ValidateTransition("bogus", StatusInProgress))
	require.Error(t, ValidateTransition(StatusPending, "bogus"))
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, from := range Statuses() {
		if !from.Terminal() {
			continue
		}
		for _, to := range Statuses() {
			assert.Error(t, ValidateTransition(from, to),
				"terminal status %s must not transition to %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range Statuses() {
		assert.True(t, s.Valid())
		// Every status is exactly one of active or terminal.
		assert.NotEqual(t, s.Active(), s.Terminal(), "status %s", s)
	}
	assert.False(t, Status("bogus").Valid())
}

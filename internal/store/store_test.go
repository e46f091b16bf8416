package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "amelia.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWorkflow(worktree string) *workflow.Workflow {
	now := time.Now()
	return &workflow.Workflow{
		ID:           uuid.NewString(),
		IssueID:      "PROJ-1",
		WorktreePath: worktree,
		WorktreeName: filepath.Base(worktree),
		Pipeline:     "implementation",
		Status:       workflow.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func mustCreate(t *testing.T, s *Store, worktree string) *workflow.Workflow {
	t.Helper()
	wf := newTestWorkflow(worktree)
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func mustAppend(t *testing.T, s *Store, workflowID string, seq int64, typ workflow.EventType) *workflow.Event {
	t.Helper()
	ev := &workflow.Event{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Sequence:   seq,
		Timestamp:  time.Now(),
		Agent:      "system",
		Type:       typ,
		Message:    string(typ),
	}
	require.NoError(t, s.AppendEvent(context.Background(), ev))
	return ev
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "amelia.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CheckRead(context.Background()))
	require.NoError(t, s.Close())
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amelia.db")

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	mustCreate(t, s, "/work/persisted")
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	active, err := s.ActiveWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "/work/persisted", active[0].WorktreePath)
}

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

func TestWorktreeHealthy(t *testing.T) {
	assert.True(t, worktreeHealthy(makeWorktree(t)))
	assert.False(t, worktreeHealthy(t.TempDir()))
	assert.False(t, worktreeHealthy("/definitely/not/here"))

	// A .git directory (main repository) also counts.
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, worktreeHealthy(dir))
}

func TestSweepCancelsWorkflowOnMissingWorktree(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()

	parent := t.TempDir()
	worktree := filepath.Join(parent, "feature-x")
	require.NoError(t, os.Mkdir(worktree, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: x\n"), 0o644))

	wf, err := e.supervisor.Start(ctx, StartRequest{IssueID: "PROJ-1", WorktreePath: worktree})
	require.NoError(t, err)
	e.waitForGate(t, wf.ID)

	require.NoError(t, os.RemoveAll(worktree))

	monitor := NewMonitor(e.supervisor, time.Hour, nil)
	monitor.Sweep(ctx)

	cancelled := e.waitForStatus(t, wf.ID, workflow.StatusCancelled)
	assert.Equal(t, workflow.StatusCancelled, cancelled.Status)

	events, err := e.store.GetEvents(ctx, wf.ID, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, workflow.EventWorkflowCancelled, last.Type)
	assert.Equal(t, MonitorCancelReason, last.Message)
}

func TestSweepLeavesHealthyWorktreesAlone(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	ctx := context.Background()

	wf, err := e.supervisor.Start(ctx, StartRequest{IssueID: "PROJ-1", WorktreePath: makeWorktree(t)})
	require.NoError(t, err)
	e.waitForGate(t, wf.ID)

	monitor := NewMonitor(e.supervisor, time.Hour, nil)
	monitor.Sweep(ctx)

	got, err := e.store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusBlocked, got.Status)
}

func TestMonitorStartStop(t *testing.T) {
	e := newTestEngine(t, SupervisorConfig{})
	monitor := NewMonitor(e.supervisor, 10*time.Millisecond, nil)
	monitor.Start()
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()
}

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/pipeline"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// testEngine bundles a fully wired engine over a throwaway database.
type testEngine struct {
	store      *store.Store
	bus        *Bus
	emitter    *Emitter
	gates      *GateRegistry
	runner     *Runner
	driver     *pipeline.ScriptedDriver
	supervisor *Supervisor
}

func newTestEngine(t *testing.T, cfg SupervisorConfig) *testEngine {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "amelia.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := NewBus(16, nil)
	t.Cleanup(bus.Stop)

	emitter := NewEmitter(st, bus, nil)
	gates := NewGateRegistry(emitter, nil)
	runner := NewRunner(st, emitter, gates, nil)
	driver := pipeline.NewScriptedDriver()

	sup := NewSupervisor(cfg, st, emitter, gates, runner, pipeline.NewRegistry(), driver, nil)
	t.Cleanup(func() { sup.Shutdown(2*time.Second, 100*time.Millisecond) })

	return &testEngine{
		store:      st,
		bus:        bus,
		emitter:    emitter,
		gates:      gates,
		runner:     runner,
		driver:     driver,
		supervisor: sup,
	}
}

// makeWorktree creates a directory that passes the worktree checks. The
// .git marker is a file, as in a linked git worktree.
func makeWorktree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere\n"), 0o644))
	return dir
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// waitForStatus polls until the workflow reaches the wanted status.
func (e *testEngine) waitForStatus(t *testing.T, workflowID string, want workflow.Status) *workflow.Workflow {
	t.Helper()
	var got *workflow.Workflow
	waitFor(t, 5*time.Second, func() bool {
		wf, err := e.store.GetWorkflow(context.Background(), workflowID)
		if err != nil {
			return false
		}
		got = wf
		return wf.Status == want
	}, "workflow "+workflowID+" did not reach "+string(want))
	return got
}

// waitForGate polls until the workflow parks at an approval gate.
func (e *testEngine) waitForGate(t *testing.T, workflowID string) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool {
		return e.gates.Pending(workflowID)
	}, "workflow "+workflowID+" never opened a gate")
}

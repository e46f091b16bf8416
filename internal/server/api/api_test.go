package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/pipeline"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// testAPI is a full daemon stack behind an httptest server: real SQLite
// store, real supervisor, scripted driver.
type testAPI struct {
	store      *store.Store
	gates      *engine.GateRegistry
	supervisor *engine.Supervisor
	driver     *pipeline.ScriptedDriver
	server     *httptest.Server
}

func newTestAPI(t *testing.T, supCfg engine.SupervisorConfig, mutate func(*Config)) *testAPI {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "amelia.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := engine.NewBus(16, nil)
	t.Cleanup(bus.Stop)

	emitter := engine.NewEmitter(st, bus, nil)
	gates := engine.NewGateRegistry(emitter, nil)
	runner := engine.NewRunner(st, emitter, gates, nil)
	driver := pipeline.NewScriptedDriver()

	sup := engine.NewSupervisor(supCfg, st, emitter, gates, runner, pipeline.NewRegistry(), driver, nil)
	t.Cleanup(func() { sup.Shutdown(2*time.Second, 100*time.Millisecond) })

	cfg := Config{
		Store:      st,
		Supervisor: sup,
		Version:    "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server := httptest.NewServer(NewRouter(cfg).Handler())
	t.Cleanup(server.Close)

	return &testAPI{
		store:      st,
		gates:      gates,
		supervisor: sup,
		driver:     driver,
		server:     server,
	}
}

// do sends a JSON request and returns the raw response.
func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := a.server.Client().Do(req)
	require.NoError(t, err)
	return res
}

func decodeBody(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func decodeError(t *testing.T, res *http.Response) errorDetail {
	t.Helper()
	var body errorBody
	decodeBody(t, res, &body)
	return body.Error
}

// makeWorktree creates a directory that passes the worktree checks.
func makeWorktree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere\n"), 0o644))
	return dir
}

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

func (a *testAPI) waitForGate(t *testing.T, workflowID string) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool {
		return a.gates.Pending(workflowID)
	}, "workflow "+workflowID+" never opened a gate")
}

func (a *testAPI) waitForStatus(t *testing.T, workflowID string, want workflow.Status) *workflow.Workflow {
	t.Helper()
	var got *workflow.Workflow
	waitFor(t, 5*time.Second, func() bool {
		wf, err := a.store.GetWorkflow(context.Background(), workflowID)
		if err != nil {
			return false
		}
		got = wf
		return wf.Status == want
	}, "workflow "+workflowID+" did not reach "+string(want))
	return got
}

// start begins a workflow over the wire and returns the created record.
func (a *testAPI) start(t *testing.T, worktree string) *workflow.Workflow {
	t.Helper()
	res := a.do(t, http.MethodPost, "/workflows", map[string]string{
		"issue_id":      "PROJ-1",
		"worktree_path": worktree,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var wf workflow.Workflow
	decodeBody(t, res, &wf)
	return &wf
}

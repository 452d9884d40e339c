package statusapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webloop/pkg/database"
	"webloop/pkg/logger"
	"webloop/pkg/trace"
)

func newTestServer(t *testing.T) (*Server, database.Database, string) {
	t.Helper()
	dir := t.TempDir()
	log := logger.CreateTestLogger(filepath.Join(dir, "test.log"), "debug")

	db, err := database.NewSQLiteDB(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	baseDir := filepath.Join(dir, "runs")
	require.NoError(t, os.MkdirAll(baseDir, 0755))

	return New(db, baseDir, nil, log), db, baseDir
}

func seedRun(t *testing.T, db database.Database, baseDir, runID string) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, db.CreateRun(ctx, &database.RunRecord{
		RunID:     runID,
		Task:      "Build a landing page",
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}))
	now := time.Now().UTC()
	require.NoError(t, db.AddIteration(ctx, &database.IterationRecord{
		RunID:       runID,
		Iteration:   1,
		Score:       82,
		Passed:      true,
		StartedAt:   now,
		CompletedAt: &now,
	}))

	runDir := filepath.Join(baseDir, runID)
	require.NoError(t, os.MkdirAll(runDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "manifest.json"),
		[]byte(`{"run_id":"`+runID+`","final_score":82}`), 0644))

	tr, err := trace.New(filepath.Join(runDir, "trace.jsonl"))
	require.NoError(t, err)
	tr.InfoEvent(trace.RunStart, "run started", nil)
	tr.InfoEvent(trace.RunEnd, "run finished", nil)
	require.NoError(t, tr.Close())
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, v))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var out map[string]string
	code := getJSON(t, ts.URL+"/health", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestListAndGetRuns(t *testing.T) {
	s, db, baseDir := newTestServer(t)
	seedRun(t, db, baseDir, "run-1")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var list struct {
		Runs  []database.RunRecord `json:"runs"`
		Count int                  `json:"count"`
	}
	code := getJSON(t, ts.URL+"/api/runs", &list)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "run-1", list.Runs[0].RunID)

	var detail struct {
		Run        database.RunRecord         `json:"run"`
		Iterations []database.IterationRecord `json:"iterations"`
	}
	code = getJSON(t, ts.URL+"/api/runs/run-1", &detail)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Build a landing page", detail.Run.Task)
	require.Len(t, detail.Iterations, 1)
	assert.Equal(t, 82, detail.Iterations[0].Score)

	code = getJSON(t, ts.URL+"/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunFileEndpoints(t *testing.T) {
	s, db, baseDir := newTestServer(t)
	seedRun(t, db, baseDir, "run-1")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var manifest map[string]interface{}
	code := getJSON(t, ts.URL+"/api/runs/run-1/manifest", &manifest)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-1", manifest["run_id"])

	var tracePayload struct {
		Events []trace.Event `json:"events"`
		Count  int           `json:"count"`
	}
	code = getJSON(t, ts.URL+"/api/runs/run-1/trace", &tracePayload)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, tracePayload.Count)
	assert.Equal(t, trace.RunStart, tracePayload.Events[0].EventType)

	// Path traversal in the id is rejected outright.
	code = getJSON(t, ts.URL+"/api/runs/..%2fsecrets/manifest", nil)
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, code)
}

func TestEventStreamWithoutBus(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	code := getJSON(t, ts.URL+"/api/events/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

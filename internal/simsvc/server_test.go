package simsvc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorlabs/beaker-go/pkg/api"
)

func doRequest(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) api.Job {
	t.Helper()
	var job api.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	return job
}

func TestServer_GetJob_Lifecycle(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{
		ID:         "j1",
		Name:       "train-main",
		StartAfter: 50 * time.Millisecond,
		RunFor:     100 * time.Millisecond,
		ExitCode:   0,
	}))
	h := srv.Handler()

	// Before the start delay the job is merely scheduled.
	job := decodeJob(t, doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1", ""))
	assert.Equal(t, api.JobStateScheduled, job.Status.Current())

	time.Sleep(60 * time.Millisecond)
	job = decodeJob(t, doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1", ""))
	assert.Equal(t, api.JobStateRunning, job.Status.Current())

	time.Sleep(100 * time.Millisecond)
	job = decodeJob(t, doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1", ""))
	assert.True(t, job.IsFinalized())
	require.NotNil(t, job.Status.ExitCode)
	assert.Equal(t, 0, *job.Status.ExitCode)
}

func TestServer_GetJob_NotFound(t *testing.T) {
	srv := New(Options{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v3/jobs/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["message"], "missing")
}

func TestServer_Auth(t *testing.T) {
	srv := New(Options{Token: "secret"})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j1"}))
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v3/jobs/j1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	// Health stays open
	rec = doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_FlakyEvery(t *testing.T) {
	srv := New(Options{FlakyEvery: 3})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j1"}))
	h := srv.Handler()

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		codes = append(codes, doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1", "").Code)
	}

	assert.Equal(t, []int{
		http.StatusOK, http.StatusOK, http.StatusServiceUnavailable,
		http.StatusOK, http.StatusOK, http.StatusServiceUnavailable,
	}, codes)
}

func TestServer_PatchJob_Cancel(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{
		ID:     "j1",
		RunFor: time.Hour,
	}))
	h := srv.Handler()

	body := `{"status":{"canceled":true,"canceled_for":"operator request","canceled_code":4}}`
	rec := doRequest(t, h, http.MethodPatch, "/api/v3/jobs/j1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	job := decodeJob(t, rec)
	assert.True(t, job.IsFinalized())
	require.NotNil(t, job.Status.CanceledCode)
	assert.Equal(t, api.CanceledCodeManual, *job.Status.CanceledCode)
	assert.Equal(t, "operator request", job.Status.CanceledFor)
}

func TestServer_PatchJob_Validation(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j1"}))
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPatch, "/api/v3/jobs/j1", "{not json}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPatch, "/api/v3/jobs/j1", `{"status":{"canceled":false}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListJobs(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j1", Experiment: "ex-1"}))
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j2", Experiment: "ex-1", RunFor: time.Hour}))
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j3", Experiment: "ex-2"}))
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/v3/jobs?experiment=ex-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page api.JobPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Data, 2)
	assert.Equal(t, "j1", page.Data[0].ID)
	assert.Equal(t, "j2", page.Data[1].ID)

	// finalized=true excludes the hour-long job
	rec = doRequest(t, h, http.MethodGet, "/api/v3/jobs?experiment=ex-1&finalized=true", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "j1", page.Data[0].ID)
}

func TestServer_JobLogs(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{
		ID:       "j1",
		RunFor:   40 * time.Millisecond,
		LogLines: []string{"first", "second", "third"},
	}))
	h := srv.Handler()

	// Wait until the whole run is in the past.
	time.Sleep(60 * time.Millisecond)

	rec := doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	type wireLine struct {
		Timestamp time.Time `json:"timestamp"`
		Message   string    `json:"message"`
	}
	var lines []wireLine
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		var line wireLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	require.Len(t, lines, 3)
	assert.Equal(t, "first", lines[0].Message)
	assert.Equal(t, "third", lines[2].Message)
	assert.True(t, lines[1].Timestamp.After(lines[0].Timestamp))

	// since excludes lines at or before the cursor
	since := lines[0].Timestamp.UTC().Format(time.RFC3339Nano)
	rec = doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1/logs?since="+since, "")
	rest := strings.TrimSpace(rec.Body.String())
	assert.Len(t, strings.Split(rest, "\n"), 2)

	// tail returns the last N lines
	rec = doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1/logs?tail_lines=1", "")
	var last wireLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &last))
	assert.Equal(t, "third", last.Message)
}

func TestServer_JobLogs_BadParams(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Cluster().AddJob(JobSpec{ID: "j1"}))
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1/logs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v3/jobs/j1/logs?tail_lines=-2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCluster_AddJob_Validation(t *testing.T) {
	c := NewCluster()
	assert.Error(t, c.AddJob(JobSpec{}))

	require.NoError(t, c.AddJob(JobSpec{ID: "j1"}))
	assert.Error(t, c.AddJob(JobSpec{ID: "j1"}))
}

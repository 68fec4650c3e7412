package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamdl/streamdl/internal/jobs"
)

type stubRunner struct {
	run func(ctx context.Context, req jobs.RunRequest, sink jobs.Sink) (jobs.RunResult, error)
}

func (s *stubRunner) Run(ctx context.Context, req jobs.RunRequest, sink jobs.Sink) (jobs.RunResult, error) {
	if s.run == nil {
		return jobs.RunResult{}, nil
	}
	return s.run(ctx, req, sink)
}

func newTestServer(t *testing.T, runner jobs.Runner, start bool) (*Server, *jobs.Manager) {
	t.Helper()
	if runner == nil {
		runner = &stubRunner{}
	}
	manager := jobs.NewManager(nil, runner, 1)
	if start {
		manager.Start()
		t.Cleanup(manager.Stop)
	}
	return NewServer(manager), manager
}

func doJSON(t *testing.T, handler http.Handler, method, target, user, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func submitJob(t *testing.T, handler http.Handler, user, url string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", user, "", `{"url":"`+url+`","kind":"video"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func TestSubmitRequiresUser(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads", "", "", `{"url":"https://example.com/v"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestSubmitAndPollStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads/"+jobID, "alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view jobs.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, jobID, view.JobID)
	assert.Equal(t, jobs.StatusPending, view.Status)
	assert.Equal(t, 0, view.Progress)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads", "alice", "", `{"url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads", "alice", "", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads", "alice", "", `{"url":"https://example.com/v","kind":"audio"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownJobIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads/no-such-job", "alice", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOwnerIsolation(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads/"+jobID, "mallory", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "another user's job must look like it does not exist")

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads/"+jobID+"/cancel", "mallory", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPendingJob(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/downloads/"+jobID+"/cancel", "alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view jobs.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, jobs.StatusCancelled, view.Status)
}

func TestResultBeforeCompletionIs409(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads/"+jobID+"/result", "alice", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResultStreamsArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "clip.mkv")
	require.NoError(t, os.WriteFile(artifact, []byte("media bytes"), 0o644))

	runner := &stubRunner{run: func(context.Context, jobs.RunRequest, jobs.Sink) (jobs.RunResult, error) {
		return jobs.RunResult{ArtifactPath: artifact, ArtifactName: "世界 Clip.mkv", Title: "clip"}, nil
	}}
	srv, manager := newTestServer(t, runner, true)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")
	require.Eventually(t, func() bool {
		view, err := manager.GetStatus(context.Background(), jobID, "alice")
		return err == nil && view.Status == jobs.StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads/"+jobID+"/result", "alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "media bytes", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, `filename="__ Clip.mkv"`, "non-ASCII runes get an ASCII fallback")
	assert.Contains(t, disposition, "filename*=UTF-8''%E4%B8%96%E7%95%8C%20Clip.mkv")
}

func TestResultContentTypes(t *testing.T) {
	assert.Equal(t, "application/zip", contentTypeFor("bundle.zip"))
	assert.Equal(t, "application/x-subrip", contentTypeFor("track.en.srt"))
	assert.Equal(t, "text/vtt", contentTypeFor("track.vtt"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("clip.mkv"))
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	for range 3 {
		submitJob(t, srv.Handler(), "alice", "https://example.com/v")
	}
	submitJob(t, srv.Handler(), "bob", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads?page=1&limit=2", "alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page jobs.HistoryPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)

	// Bad paging values fall back to the defaults instead of failing.
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/downloads?page=zero&limit=-4", "alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Limit)
}

func TestAdminListRequiresRole(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	submitJob(t, srv.Handler(), "alice", "https://example.com/v")
	submitJob(t, srv.Handler(), "bob", "https://example.com/v")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/downloads", "alice", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/downloads", "root", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var all []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamSendsActiveJobs(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	jobID := submitJob(t, srv.Handler(), "alice", "https://example.com/v")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/downloads/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			event = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, event)

	var views []jobs.StatusView
	require.NoError(t, json.Unmarshal([]byte(event), &views))
	require.Len(t, views, 1)
	assert.Equal(t, jobID, views[0].JobID)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/diff"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	projects map[string]*projects.Project
	synced   []string
}

func (f *fakeStore) Get(_ context.Context, id string) (*projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, errs.New(errs.KindNotFound, "project %s not found", id)
}

func (f *fakeStore) List(context.Context) ([]*projects.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]*projects.Project, 0, len(f.projects))
	for _, p := range f.projects {
		ret = append(ret, p)
	}
	return ret, nil
}

func (f *fakeStore) MarkSynced(_ context.Context, repoPath string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, repoPath)
	return nil
}

type fakeImporter struct{}

func (fakeImporter) Analyze(_ context.Context, rep projects.Reporter, url string) (*analyzer.Discovery, error) {
	rep.SetProgress("Cloning", 10)
	rep.Log("cloned " + url)
	return &analyzer.Discovery{
		RepoName:   "widget",
		RepoURL:    url,
		ImportType: analyzer.Type1,
		Projects:   []analyzer.DiscoveredProject{{Name: "widget", RelativePath: "."}},
	}, nil
}

func (fakeImporter) Import(_ context.Context, _ projects.Reporter, req projects.Request) (*projects.Result, error) {
	if strings.Contains(req.URL, "broken") {
		return nil, errs.New(errs.KindCloneFailed, "failed to clone %s", req.URL)
	}
	return &projects.Result{ProjectIDs: []string{"widget"}}, nil
}

type fakeDiffer struct {
	registry *jobs.Registry
	asset    string
	ready    chan struct{}
	released []string
}

func (f *fakeDiffer) Start(_ context.Context, projectID, commit1, commit2 string) (*jobs.Job, error) {
	if commit1 == "" || commit2 == "" {
		return nil, errs.New(errs.KindValidation, "commit1 and commit2 are required")
	}
	return f.registry.Submit(jobs.KindDiff, projectID, func(context.Context, *jobs.Handle) (any, error) {
		<-f.ready
		return &diff.Manifest{Commit1: commit1, Commit2: commit2, Schematic: true, Sheets: []string{"amp.svg"}}, nil
	}), nil
}

func (f *fakeDiffer) Status(jobID string) (*jobs.Job, error) {
	return f.registry.Get(jobID)
}

func (f *fakeDiffer) Manifest(jobID string) (*diff.Manifest, error) {
	job, err := f.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return nil, errs.New(errs.KindNotReady, "diff %s is %s", jobID, job.Status)
	}
	return job.Result.(*diff.Manifest), nil
}

func (f *fakeDiffer) Asset(jobID, commit, kind, item string) (string, error) {
	if _, err := f.Manifest(jobID); err != nil {
		return "", err
	}
	if strings.Contains(item, "..") {
		return "", errs.New(errs.KindValidation, "invalid asset path %q", item)
	}
	if commit != "v2" || kind != "sch" || item != "amp.svg" {
		return "", errs.New(errs.KindNotFound, "asset not found")
	}
	return f.asset, nil
}

func (f *fakeDiffer) Release(jobID string) error {
	f.released = append(f.released, jobID)
	return f.registry.Delete(jobID)
}

type fakeWorkflows struct {
	registry *jobs.Registry
}

func (f fakeWorkflows) Start(_ context.Context, projectID, workflowType string) (*jobs.Job, error) {
	if workflowType != "design" {
		return nil, errs.New(errs.KindValidation, "unknown workflow type %q", workflowType)
	}
	return f.registry.Submit(jobs.KindWorkflow, projectID, func(context.Context, *jobs.Handle) (any, error) {
		return map[string]any{"commit_hash": "abc123", "pushed": true}, nil
	}), nil
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(context.Context, string) (string, error) { return "cafebabe", nil }

type testEnv struct {
	srv    *Server
	reg    *jobs.Registry
	store  *fakeStore
	differ *fakeDiffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := jobs.NewRegistry(jobs.WithWorkers(2))
	reg.Start()
	t.Cleanup(reg.Stop)

	asset := filepath.Join(t.TempDir(), "amp.svg")
	require.NoError(t, os.WriteFile(asset, []byte(`<svg stroke="#00AA00"/>`), 0o644))

	store := &fakeStore{projects: map[string]*projects.Project{
		"widget": {ID: "widget", Name: "widget", ImportType: analyzer.Type1, RepoPath: t.TempDir(), SubPath: ".", Branch: "main"},
	}}
	differ := &fakeDiffer{registry: reg, asset: asset, ready: make(chan struct{})}
	srv := NewServer(reg, store,
		WithImporter(fakeImporter{}),
		WithDiffs(differ),
		WithWorkflows(fakeWorkflows{registry: reg}),
		WithSyncer(fakeSyncer{}),
		WithStreamInterval(10*time.Millisecond),
	)
	return &testEnv{srv: srv, reg: reg, store: store, differ: differ}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) waitJob(t *testing.T, id string) jobStatusResponse {
	t.Helper()
	var got jobStatusResponse
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/projects/jobs/"+id, "")
		if rec.Code != http.StatusOK {
			return false
		}
		got = decodeBody[jobStatusResponse](t, rec)
		return got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestServer_Health(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_AnalyzeJob(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/projects/analyze", `{"url":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/projects/analyze", `{"url":"https://github.com/acme/widget.git"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeBody[jobCreatedResponse](t, rec)
	require.NotEmpty(t, created.JobID)

	got := e.waitJob(t, created.JobID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Percent)
	assert.Equal(t, []string{"cloned https://github.com/acme/widget.git"}, got.Logs)

	result, ok := got.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "type1", result["import_type"])
	assert.Equal(t, "widget", result["repo_name"])
}

func TestServer_ImportJob(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/projects/import", `{"url":"https://x/widget.git","import_type":"type3"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "import_type")

	rec = e.do(t, http.MethodPost, "/api/projects/import", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/projects/import", `{"url":"https://x/widget.git","import_type":"type1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := e.waitJob(t, decodeBody[jobCreatedResponse](t, rec).JobID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"project_ids": []any{"widget"}}, got.Result)

	rec = e.do(t, http.MethodPost, "/api/projects/import", `{"url":"https://x/broken.git","import_type":"type1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got = e.waitJob(t, decodeBody[jobCreatedResponse](t, rec).JobID)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "CloneFailed")
	assert.Nil(t, got.Result)
}

func TestServer_JobLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/projects/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	job := e.reg.Submit(jobs.KindAnalyze, "x", func(context.Context, *jobs.Handle) (any, error) {
		return nil, nil
	})
	e.waitJob(t, job.ID)

	rec = e.do(t, http.MethodGet, "/api/projects/jobs?kind=analyze", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]jobStatusResponse](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, job.ID, listed[0].JobID)

	rec = e.do(t, http.MethodGet, "/api/projects/jobs?kind=diff", "")
	assert.Empty(t, decodeBody[[]jobStatusResponse](t, rec))

	rec = e.do(t, http.MethodDelete, "/api/projects/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/projects/jobs/"+job.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/projects/jobs/"+job.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JobStream(t *testing.T) {
	e := newTestEnv(t)
	release := make(chan struct{})
	job := e.reg.Submit(jobs.KindImport, "x", func(_ context.Context, h *jobs.Handle) (any, error) {
		h.SetProgress("Cloning", 30)
		<-release
		return map[string]any{"project_ids": []string{"a"}}, nil
	})
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	rec := e.do(t, http.MethodGet, "/api/projects/jobs/"+job.ID+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.NotEmpty(t, events)
	last := strings.TrimPrefix(events[len(events)-1], "data: ")
	var final jobStatusResponse
	require.NoError(t, json.Unmarshal([]byte(last), &final))
	assert.Equal(t, jobs.StatusCompleted, final.Status)

	prev := 0
	for _, ev := range events {
		var snap jobStatusResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(ev, "data: ")), &snap))
		assert.GreaterOrEqual(t, snap.Percent, prev)
		prev = snap.Percent
	}

	rec = e.do(t, http.MethodGet, "/api/projects/jobs/missing/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Projects(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]projects.Project](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "widget", list[0].ID)

	rec = e.do(t, http.MethodGet, "/api/projects/widget", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main", decodeBody[projects.Project](t, rec).Branch)

	rec = e.do(t, http.MethodGet, "/api/projects/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CommitsAndReleases(t *testing.T) {
	e := newTestEnv(t)
	dir := e.store.projects["widget"].RepoPath
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, name := range []string{"a.kicad_pro", "a.kicad_sch", "a.kicad_pcb"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
		hash, err := wt.Commit("add "+name, &git.CommitOptions{
			Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: base.Add(time.Duration(i) * time.Hour)},
		})
		require.NoError(t, err)
		if i == 0 {
			_, err = repo.CreateTag("v0.1", hash, nil)
			require.NoError(t, err)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/projects/widget/commits?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	commits := decodeBody[[]map[string]any](t, rec)
	require.Len(t, commits, 2)
	assert.Equal(t, "add a.kicad_pcb", commits[0]["message"])
	assert.Contains(t, commits[0], "full_hash")

	rec = e.do(t, http.MethodGet, "/api/projects/widget/commits?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/projects/widget/releases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tags := decodeBody[[]map[string]any](t, rec)
	require.Len(t, tags, 1)
	assert.Equal(t, "v0.1", tags[0]["tag"])
}

func TestServer_Sync(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/projects/widget/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncResponse{Status: "synced", Head: "cafebabe"}, decodeBody[syncResponse](t, rec))
	assert.Equal(t, []string{e.store.projects["widget"].RepoPath}, e.store.synced)
}

func TestServer_Workflow(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/projects/widget/workflows", `{"type":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/projects/widget/workflows", `{"type":"design"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := e.waitJob(t, decodeBody[jobCreatedResponse](t, rec).JobID)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, jobs.KindWorkflow, got.Kind)
}

func TestServer_DiffFlow(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/projects/widget/diff", `{"commit1":"v2"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/projects/widget/diff", `{"commit1":"v2","commit2":"v1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody[jobCreatedResponse](t, rec).JobID
	base := "/api/projects/widget/diff/" + id

	rec = e.do(t, http.MethodGet, base+"/manifest", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, http.MethodGet, base+"/assets/v2/sch/amp.svg", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/projects/other/diff/"+id+"/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	close(e.differ.ready)
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, base+"/status", "")
		return rec.Code == http.StatusOK && decodeBody[jobStatusResponse](t, rec).Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = e.do(t, http.MethodGet, base+"/manifest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody[diff.Manifest](t, rec)
	assert.Equal(t, "v2", m.Commit1)
	assert.Equal(t, []string{"amp.svg"}, m.Sheets)

	rec = e.do(t, http.MethodGet, base+"/assets/v2/sch/amp.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "#00AA00")

	rec = e.do(t, http.MethodGet, base+"/assets/v2/sch/missing.svg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodGet, base+"/assets/v2/sch/..%2F..%2Fsecret", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{id}, e.differ.released)
	rec = e.do(t, http.MethodGet, base+"/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErr_StatusMapping(t *testing.T) {
	cases := map[errs.Kind]int{
		errs.KindNotFound:       http.StatusNotFound,
		errs.KindRefNotFound:    http.StatusNotFound,
		errs.KindValidation:     http.StatusBadRequest,
		errs.KindNotReady:       http.StatusConflict,
		errs.KindConflict:       http.StatusConflict,
		errs.KindExporterFailed: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		rec := httptest.NewRecorder()
		writeErr(rec, errs.New(kind, "boom"))
		assert.Equal(t, want, rec.Code, kind.String())
		assert.Contains(t, rec.Body.String(), "boom")
	}
}

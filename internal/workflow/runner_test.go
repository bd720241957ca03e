package workflow

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/config"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/kicad"
	"github.com/MimeLyc/kicad-prism/internal/kicad/kicadtest"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 13, 2, 3, 0, time.UTC)

var testCatalogue = config.Catalogue{
	// Design-Outputs/d1.txt is committed with the content the fake generates
	"design":        {File: config.DefaultJobsetFile, Output: "d1"},
	"manufacturing": {File: config.DefaultJobsetFile, Output: "m1"},
}

type fixture struct {
	runner  *Runner
	reg     *jobs.Registry
	store   *projects.Store
	mgr     *gitws.Manager
	remote  string
	local   string
	initial string
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// newFixture publishes a one-commit project to a bare remote, clones it as
// the persistent local copy and registers it as project "amp".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	cli := kicad.New(kicadtest.Install(t))
	ctx := context.Background()

	src := t.TempDir()
	repo, err := git.PlainInit(src, false)
	require.NoError(t, err)
	files := map[string]string{
		"amp.kicad_pro":           "{}",
		"amp.kicad_sch":           "(kicad_sch)",
		config.DefaultJobsetFile:  "{}",
		"Design-Outputs/d1.txt":   "generated\n",
		"Design-Outputs/.gitkeep": "",
	}
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for rel, content := range files {
		writeFile(t, src, rel, content)
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}
	hash, err := wt.Commit("initial board", &git.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: fixedNow.Add(-time.Hour)},
	})
	require.NoError(t, err)

	remote := filepath.Join(t.TempDir(), "amp.git")
	_, err = git.PlainClone(remote, true, &git.CloneOptions{URL: src})
	require.NoError(t, err)

	mgr, err := gitws.NewManager(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "projects", "type1", "amp")
	require.NoError(t, mgr.Clone(ctx, remote, local))

	store, err := projects.NewStore(filepath.Join(t.TempDir(), "prism.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Create(ctx, &projects.Project{
		ID:         "amp",
		Name:       "amp",
		ImportType: analyzer.Type1,
		RepoURL:    remote,
		RepoPath:   local,
		SubPath:    ".",
		Branch:     "master",
	}))

	reg := jobs.NewRegistry(jobs.WithWorkers(1))
	reg.Start()
	t.Cleanup(reg.Stop)

	return &fixture{
		runner: NewRunner(reg, mgr, cli, store, testCatalogue,
			WithAuthor("Prism Bot", "bot@example.com"),
			WithClock(func() time.Time { return fixedNow })),
		reg:     reg,
		store:   store,
		mgr:     mgr,
		remote:  remote,
		local:   local,
		initial: hash.String(),
	}
}

func (f *fixture) wait(t *testing.T, id string, status jobs.Status) *jobs.Job {
	t.Helper()
	var got *jobs.Job
	require.Eventually(t, func() bool {
		job, err := f.reg.Get(id)
		if err != nil {
			return false
		}
		got = job
		return job.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, status, got.Status, "error: %s", got.Error)
	return got
}

func (f *fixture) remoteHead(t *testing.T) *object.Commit {
	t.Helper()
	repo, err := git.PlainOpen(f.remote)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("master"), true)
	require.NoError(t, err)
	c, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)
	return c
}

func (f *fixture) checkoutsLeft(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.mgr.Root())
	require.NoError(t, err)
	return len(entries)
}

func TestRunner_CommitsAndPushesOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.runner.Start(ctx, "amp", "manufacturing")
	require.NoError(t, err)
	assert.Equal(t, jobs.KindWorkflow, job.Kind)

	done := f.wait(t, job.ID, jobs.StatusCompleted)
	res, ok := done.Result.(*Result)
	require.True(t, ok)
	assert.True(t, res.Pushed)
	assert.NotEqual(t, f.initial, res.CommitHash)
	assert.Contains(t, done.Logs, "Running jobset")
	assert.Contains(t, done.Logs, "warning: 1 footprint missing")

	head := f.remoteHead(t)
	assert.Equal(t, res.CommitHash, head.Hash.String())
	assert.Equal(t, "Generated manufacturing outputs - 2026-05-04 13:02:03", strings.TrimSpace(head.Message))
	assert.Equal(t, "Prism Bot", head.Author.Name)
	_, err = head.File("Design-Outputs/m1.txt")
	assert.NoError(t, err)

	localHead, err := gitws.HeadSHA(f.local)
	require.NoError(t, err)
	assert.Equal(t, res.CommitHash, localHead)

	p, err := f.store.Get(ctx, "amp")
	require.NoError(t, err)
	require.NotNil(t, p.LastSyncedAt)
	assert.True(t, p.LastSyncedAt.Equal(fixedNow))

	assert.Zero(t, f.checkoutsLeft(t))
}

func TestRunner_FallsBackToOriginOfLocalClone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "amp")
	require.NoError(t, f.mgr.Clone(ctx, f.remote, local))
	require.NoError(t, f.store.Create(ctx, &projects.Project{
		ID:         "amp-local",
		Name:       "amp",
		ImportType: analyzer.Type1,
		RepoPath:   local,
		SubPath:    ".",
		Branch:     "master",
	}))

	job, err := f.runner.Start(ctx, "amp-local", "manufacturing")
	require.NoError(t, err)
	done := f.wait(t, job.ID, jobs.StatusCompleted)

	res := done.Result.(*Result)
	require.True(t, res.Pushed)
	assert.Equal(t, res.CommitHash, f.remoteHead(t).Hash.String())
}

func TestRunner_CleanTreeDoesNotPush(t *testing.T) {
	f := newFixture(t)

	job, err := f.runner.Start(context.Background(), "amp", "design")
	require.NoError(t, err)
	done := f.wait(t, job.ID, jobs.StatusCompleted)

	res := done.Result.(*Result)
	assert.False(t, res.Pushed)
	assert.Equal(t, f.initial, res.CommitHash)
	assert.Equal(t, f.initial, f.remoteHead(t).Hash.String())
	assert.Zero(t, f.checkoutsLeft(t))
}

func TestRunner_PushRejectedIsVerbatim(t *testing.T) {
	f := newFixture(t)
	hook := filepath.Join(f.remote, "hooks", "pre-receive")
	require.NoError(t, os.MkdirAll(filepath.Dir(hook), 0o755))
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\necho 'denied by policy' >&2\nexit 1\n"), 0o755))

	job, err := f.runner.Start(context.Background(), "amp", "manufacturing")
	require.NoError(t, err)
	done := f.wait(t, job.ID, jobs.StatusFailed)

	assert.Contains(t, done.Error, "PushRejected")
	assert.Contains(t, done.Error, "failed to push")
	assert.Equal(t, 1, strings.Count(done.Error, "denied by policy"), done.Error)
	assert.Equal(t, f.initial, f.remoteHead(t).Hash.String())
	assert.Zero(t, f.checkoutsLeft(t))
}

func TestRunner_JobsetFailure(t *testing.T) {
	f := newFixture(t)
	t.Setenv("FAKE_KICAD_JOBSET_EXIT", "3")

	job, err := f.runner.Start(context.Background(), "amp", "manufacturing")
	require.NoError(t, err)
	done := f.wait(t, job.ID, jobs.StatusFailed)

	assert.Contains(t, done.Error, "ExporterFailed")
	assert.Contains(t, done.Logs, "Running jobset")
	assert.Equal(t, f.initial, f.remoteHead(t).Hash.String())
	assert.Zero(t, f.checkoutsLeft(t))
}

func TestRunner_UnknownBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &projects.Project{
		ID:       "amp-gone",
		Name:     "amp",
		RepoURL:  f.remote,
		RepoPath: f.local,
		SubPath:  "gone",
		Branch:   "nonexistent-branch",
	}))

	job, err := f.runner.Start(ctx, "amp-gone", "design")
	require.NoError(t, err)
	done := f.wait(t, job.ID, jobs.StatusFailed)
	assert.Contains(t, done.Error, "RefNotFound")
	assert.Zero(t, f.checkoutsLeft(t))
}

func TestRunner_StartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.runner.Start(ctx, "amp", "bogus")
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Contains(t, err.Error(), "design, manufacturing")

	_, err = f.runner.Start(ctx, "missing", "design")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestFindProjectFile(t *testing.T) {
	dir := t.TempDir()
	_, err := findProjectFile(dir, projects.PathConfig{})
	assert.True(t, errs.Is(err, errs.KindNoProjectsFound))

	writeFile(t, dir, "b.kicad_pro", "{}")
	writeFile(t, dir, "a.kicad_pro", "{}")
	got, err := findProjectFile(dir, projects.PathConfig{})
	require.NoError(t, err)
	assert.Equal(t, "a.kicad_pro", got)

	got, err = findProjectFile(dir, projects.PathConfig{ProjectFile: "b.kicad_pro"})
	require.NoError(t, err)
	assert.Equal(t, "b.kicad_pro", got)
}

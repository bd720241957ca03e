// Package workflow runs KiCad job sets against the latest state of a project
// and publishes the generated outputs back to its remote.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/config"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/MimeLyc/kicad-prism/pkg/file"
)

const timestampLayout = "2006-01-02 15:04:05"

type Git interface {
	Prepare(ctx context.Context, source, ref string) (*gitws.Checkout, error)
	CommitAll(ctx context.Context, dir, message string, author gitws.Author) (string, error)
	Push(ctx context.Context, dir, branch string) error
	Sync(ctx context.Context, repoPath string) (string, error)
}

// JobsetRunner executes one output of a jobset file; *kicad.CLI implements it.
type JobsetRunner interface {
	RunJobset(ctx context.Context, dir, jobset, outputID, projectFile string, onLine func(string)) error
}

type Store interface {
	Get(ctx context.Context, id string) (*projects.Project, error)
	MarkSynced(ctx context.Context, repoPath string, at time.Time) error
}

// Result is the completion value of a workflow job.
type Result struct {
	CommitHash string `json:"commit_hash"`
	Pushed     bool   `json:"pushed"`
}

type Runner struct {
	registry  *jobs.Registry
	git       Git
	cli       JobsetRunner
	store     Store
	catalogue config.Catalogue
	author    gitws.Author
	now       func() time.Time
}

type Option func(*Runner)

func WithAuthor(name, email string) Option {
	return func(r *Runner) {
		if name != "" {
			r.author.Name = name
		}
		if email != "" {
			r.author.Email = email
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(registry *jobs.Registry, git Git, cli JobsetRunner, store Store, catalogue config.Catalogue, opts ...Option) *Runner {
	r := &Runner{
		registry:  registry,
		git:       git,
		cli:       cli,
		store:     store,
		catalogue: catalogue,
		author:    gitws.Author{Name: "KiCAD Prism", Email: "prism@localhost"},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start submits a workflow job running the job set registered as
// workflowType for projectID.
func (r *Runner) Start(ctx context.Context, projectID, workflowType string) (*jobs.Job, error) {
	workflowType = strings.TrimSpace(workflowType)
	set, ok := r.catalogue.Lookup(workflowType)
	if !ok {
		return nil, errs.New(errs.KindValidation, "unknown workflow type %q (available: %s)",
			workflowType, strings.Join(r.catalogue.Names(), ", "))
	}
	project, err := r.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job := r.registry.Submit(jobs.KindWorkflow, project.ID, func(ctx context.Context, h *jobs.Handle) (any, error) {
		return r.run(ctx, h, project, workflowType, set)
	})
	return job, nil
}

func (r *Runner) run(ctx context.Context, h *jobs.Handle, project *projects.Project, workflowType string, set config.JobSet) (*Result, error) {
	source := r.source(project)
	branch, err := r.branch(project)
	if err != nil {
		return nil, err
	}

	h.Logf("Running %s workflow for %s on %s", workflowType, project.ID, branch)
	h.SetProgress("Preparing checkout", 5)
	co, err := r.git.Prepare(ctx, source, branch)
	if err != nil {
		return nil, err
	}
	defer co.Release()
	h.Logf("Checked out %s at %s", branch, co.SHA)

	projectDir := filepath.Join(co.Dir, filepath.FromSlash(project.SubPath))
	projectFile, err := findProjectFile(projectDir, project.PathConfig)
	if err != nil {
		return nil, err
	}
	jobset := set.File
	if set.File == config.DefaultJobsetFile && project.PathConfig.Jobset != "" {
		jobset = project.PathConfig.Jobset
	}
	if _, err := file.Contained(projectDir, jobset); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "invalid jobset path %q", jobset)
	}
	if _, err := os.Stat(filepath.Join(projectDir, jobset)); err != nil {
		return nil, errs.New(errs.KindValidation, "jobset %s not found in %s", jobset, project.ID)
	}

	h.SetProgress(fmt.Sprintf("Running jobset %s", set.Output), 20)
	if err := r.cli.RunJobset(ctx, projectDir, jobset, set.Output, projectFile, h.Log); err != nil {
		return nil, err
	}

	h.SetProgress("Checking for changes", 70)
	dirty, err := gitws.IsDirty(co.Dir)
	if err != nil {
		return nil, fmt.Errorf("check working tree: %w", err)
	}
	if !dirty {
		h.Log("No changes to commit.")
		return &Result{CommitHash: co.SHA, Pushed: false}, nil
	}

	h.SetProgress("Committing outputs", 80)
	message := fmt.Sprintf("Generated %s outputs - %s", workflowType, r.now().Format(timestampLayout))
	sha, err := r.git.CommitAll(ctx, co.Dir, message, r.author)
	if err != nil {
		return nil, err
	}
	h.Logf("Committed %s", sha)

	h.SetProgress(fmt.Sprintf("Pushing to %s", branch), 90)
	if err := r.git.Push(ctx, co.Dir, branch); err != nil {
		return nil, err
	}
	h.Logf("Pushed to origin/%s", branch)

	r.syncLocalClone(ctx, h, project)
	h.SetProgress("Done", 100)
	return &Result{CommitHash: sha, Pushed: true}, nil
}

// source prefers the recorded remote, then the origin of the persistent
// clone, so pushes never land in the local clone itself.
func (r *Runner) source(project *projects.Project) string {
	if project.RepoURL != "" {
		return project.RepoURL
	}
	if project.RepoPath == "" {
		return ""
	}
	if url, err := gitws.RemoteURL(project.RepoPath); err == nil && url != "" {
		return url
	}
	return project.RepoPath
}

// branch is the recorded branch, or the branch the local clone has checked out.
func (r *Runner) branch(project *projects.Project) (string, error) {
	if project.Branch != "" {
		return project.Branch, nil
	}
	if project.RepoPath != "" {
		if b, err := gitws.CurrentBranch(project.RepoPath); err == nil && b != "" {
			return b, nil
		}
	}
	return "", errs.New(errs.KindValidation, "project %s has no branch to publish to", project.ID)
}

func (r *Runner) syncLocalClone(ctx context.Context, h *jobs.Handle, project *projects.Project) {
	if project.RepoPath == "" {
		return
	}
	head, err := r.git.Sync(ctx, project.RepoPath)
	if err != nil {
		h.Logf("Warning: failed to sync local clone: %v", err)
		return
	}
	if err := r.store.MarkSynced(ctx, project.RepoPath, r.now()); err != nil {
		h.Logf("Warning: failed to record sync: %v", err)
		return
	}
	h.Logf("Local clone synced to %s", head)
}

func findProjectFile(dir string, cfg projects.PathConfig) (string, error) {
	if cfg.ProjectFile != "" {
		if _, err := os.Stat(filepath.Join(dir, cfg.ProjectFile)); err == nil {
			return cfg.ProjectFile, nil
		}
	}
	if pro := file.FirstByExt(dir, analyzer.ProjectExt); pro != "" {
		return filepath.Base(pro), nil
	}
	return "", errs.New(errs.KindNoProjectsFound, "no %s file in %s", analyzer.ProjectExt, dir)
}

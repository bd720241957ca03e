package projects

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/pkg/log"
)

// Reporter receives progress from a running import or analysis.
type Reporter interface {
	SetProgress(message string, percent int)
	Log(text string)
}

// Git is the part of the workspace manager the importer depends on.
type Git interface {
	Prepare(ctx context.Context, source, ref string) (*gitws.Checkout, error)
	Clone(ctx context.Context, source, dest string) error
}

type Request struct {
	URL           string              `json:"url"`
	ImportType    analyzer.ImportType `json:"import_type"`
	SelectedPaths []string            `json:"selected_paths,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errs.New(errs.KindValidation, "repository url must not be empty")
	}
	if !r.ImportType.Valid() {
		return errs.New(errs.KindValidation, "import_type must be %q or %q, got %q", analyzer.Type1, analyzer.Type2, r.ImportType)
	}
	if r.ImportType == analyzer.Type2 && len(r.SelectedPaths) == 0 {
		return errs.New(errs.KindValidation, "select at least one project to import")
	}
	return nil
}

type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type Result struct {
	ProjectIDs []string  `json:"project_ids"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Importer turns an analyzed repository into registered projects.
type Importer struct {
	store       *Store
	git         Git
	analyzer    *analyzer.Analyzer
	projectsDir string

	// imports share the projects directory and the id namespace
	mu sync.Mutex
}

func NewImporter(store *Store, git Git, a *analyzer.Analyzer, projectsDir string) *Importer {
	return &Importer{store: store, git: git, analyzer: a, projectsDir: projectsDir}
}

// Analyze checks out the default branch of url into a private workspace and
// reports the KiCAD projects it contains.
func (im *Importer) Analyze(ctx context.Context, rep Reporter, url string) (*analyzer.Discovery, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errs.New(errs.KindValidation, "repository url must not be empty")
	}

	rep.SetProgress("Cloning repository", 10)
	co, err := im.git.Prepare(ctx, url, "")
	if err != nil {
		return nil, err
	}
	defer co.Release()
	rep.Log(fmt.Sprintf("Checked out %s at %s", url, co.SHA))

	rep.SetProgress("Scanning for KiCAD projects", 60)
	disc, err := im.analyzer.Analyze(ctx, co.Dir, url)
	if err != nil {
		return nil, err
	}
	if len(disc.Projects) == 0 {
		rep.Log("No KiCAD projects found")
	} else {
		rep.Log(fmt.Sprintf("Found %d project(s), import type %s", len(disc.Projects), disc.ImportType))
	}
	rep.SetProgress("Analysis complete", 100)
	return disc, nil
}

// Import clones the repository next to the other projects, runs discovery
// on the clone and registers the selected projects. One failing project is
// logged and skipped; the import fails only when none could be registered.
func (im *Importer) Import(ctx context.Context, rep Reporter, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	repoName := analyzer.RepoName(req.URL, "")
	if repoName == "" {
		return nil, errs.New(errs.KindValidation, "cannot derive a repository name from %q", req.URL)
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	dest := filepath.Join(im.projectsDir, string(req.ImportType), repoName)
	rep.SetProgress("Preparing project directory", 5)
	if err := im.ensureFreeDir(ctx, rep, dest); err != nil {
		return nil, err
	}

	rep.SetProgress("Cloning repository", 10)
	if err := im.git.Clone(ctx, req.URL, dest); err != nil {
		return nil, err
	}
	rep.Log(fmt.Sprintf("Cloned %s into %s", req.URL, dest))

	keep := false
	defer func() {
		if !keep {
			if err := os.RemoveAll(dest); err != nil {
				log.Warn("Failed to remove clone %s: %v", dest, err)
			}
		}
	}()

	rep.SetProgress("Analyzing repository", 40)
	disc, err := im.analyzer.Analyze(ctx, dest, req.URL)
	if err != nil {
		return nil, err
	}
	if len(disc.Projects) == 0 {
		return nil, errs.New(errs.KindNoProjectsFound, "no KiCAD projects found in %s", req.URL)
	}
	if disc.ImportType != req.ImportType {
		return nil, errs.New(errs.KindValidation, "repository is %s, not %s", disc.ImportType, req.ImportType)
	}
	selected, err := selectProjects(disc, req.SelectedPaths)
	if err != nil {
		return nil, err
	}

	branch, err := gitws.CurrentBranch(dest)
	if err != nil {
		rep.Log(fmt.Sprintf("Could not determine branch: %v", err))
	}

	res := &Result{ProjectIDs: make([]string, 0, len(selected))}
	var firstErr error
	for i, dp := range selected {
		rep.SetProgress(fmt.Sprintf("Importing %s", dp.Name), 50+45*i/len(selected))
		id, err := im.register(ctx, rep, disc, dp, dest, branch)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			res.Failures = append(res.Failures, Failure{Path: dp.RelativePath, Error: err.Error()})
			rep.Log(fmt.Sprintf("Failed to import %s: %v", dp.RelativePath, err))
			continue
		}
		res.ProjectIDs = append(res.ProjectIDs, id)
		rep.Log(fmt.Sprintf("Imported %s as %s", dp.RelativePath, id))
	}

	if len(res.ProjectIDs) == 0 {
		return nil, errs.Wrap(firstErr, errs.KindOf(firstErr), "no project could be imported from %s", req.URL)
	}
	keep = true
	rep.SetProgress("Import complete", 100)
	return res, nil
}

// ensureFreeDir refuses a directory that already backs registered projects
// and clears one left behind by an earlier failed import.
func (im *Importer) ensureFreeDir(ctx context.Context, rep Reporter, dest string) error {
	if _, err := os.Stat(dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	registered, err := im.store.ListByRepoPath(ctx, dest)
	if err != nil {
		return err
	}
	if len(registered) > 0 {
		return errs.New(errs.KindConflict, "repository already exists at %s", dest).
			WithContext("projects", len(registered))
	}
	rep.Log(fmt.Sprintf("Removing stale directory %s", dest))
	return os.RemoveAll(dest)
}

func (im *Importer) register(ctx context.Context, rep Reporter, disc *analyzer.Discovery, dp analyzer.DiscoveredProject, repoPath, branch string) (string, error) {
	id, err := im.uniqueID(ctx, projectSlug(disc.RepoName, dp.RelativePath))
	if err != nil {
		return "", err
	}

	projectDir := filepath.Join(repoPath, filepath.FromSlash(dp.RelativePath))
	cfg, err := DetectPathConfig(projectDir)
	if err != nil {
		rep.Log(fmt.Sprintf("Ignoring %s for %s: %v", OverrideFile, dp.RelativePath, err))
	}

	p := &Project{
		ID:         id,
		Name:       dp.Name,
		ImportType: disc.ImportType,
		RepoURL:    disc.RepoURL,
		RepoPath:   repoPath,
		SubPath:    dp.RelativePath,
		Branch:     branch,
		PathConfig: cfg,
	}
	if err := im.store.Create(ctx, p); err != nil {
		return "", err
	}
	return id, nil
}

func (im *Importer) uniqueID(ctx context.Context, base string) (string, error) {
	for n := 0; ; n++ {
		id := base
		if n > 0 {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		taken, err := im.store.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
}

// selectProjects picks what to register: the single project of a type1
// repository, or exactly the requested paths of a type2 one.
func selectProjects(disc *analyzer.Discovery, paths []string) ([]analyzer.DiscoveredProject, error) {
	if disc.ImportType == analyzer.Type1 {
		return disc.Projects[:1], nil
	}
	if len(paths) == 0 {
		return nil, errs.New(errs.KindValidation, "select at least one project to import")
	}

	seen := make(map[string]struct{}, len(paths))
	ret := make([]analyzer.DiscoveredProject, 0, len(paths))
	for _, p := range paths {
		dp, ok := disc.Find(p)
		if !ok {
			return nil, errs.New(errs.KindValidation, "path %q is not a discovered project", p)
		}
		if _, dup := seen[dp.RelativePath]; dup {
			continue
		}
		seen[dp.RelativePath] = struct{}{}
		ret = append(ret, dp)
	}
	return ret, nil
}

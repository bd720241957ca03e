package analyzer

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/kicad-prism/pkg/file"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	gitignore "github.com/sabhiram/go-gitignore"
	giturls "github.com/whilp/git-urls"
)

const (
	ProjectExt   = ".kicad_pro"
	SchematicExt = ".kicad_sch"
	PCBExt       = ".kicad_pcb"

	// IgnoreFile lists extra gitignore-style patterns excluded from discovery.
	IgnoreFile = ".prismignore"

	defaultMaxDepth = 6
)

var excludedDirs = map[string]struct{}{
	"archive":      {},
	"archived":     {},
	"old":          {},
	"backup":       {},
	"backups":      {},
	"obsolete":     {},
	"deprecated":   {},
	"trash":        {},
	".git":         {},
	"__pycache__":  {},
	"node_modules": {},
	".venv":        {},
	"venv":         {},
	".env":         {},
}

// IsExcludedDir reports whether a directory name is never searched for projects.
func IsExcludedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := excludedDirs[strings.ToLower(name)]
	return ok
}

type Analyzer struct {
	maxDepth int
	patterns []string
}

type Option func(*Analyzer)

// WithMaxDepth bounds how many directory levels below the root are searched.
func WithMaxDepth(depth int) Option {
	return func(a *Analyzer) {
		if depth > 0 {
			a.maxDepth = depth
		}
	}
}

// WithIgnorePatterns adds gitignore-style patterns to every analysis.
func WithIgnorePatterns(patterns ...string) Option {
	return func(a *Analyzer) {
		a.patterns = append(a.patterns, patterns...)
	}
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{maxDepth: defaultMaxDepth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze walks root for KiCad project markers and classifies the repository.
func (a *Analyzer) Analyze(ctx context.Context, root, repoURL string) (*Discovery, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "analyze", Path: root, Err: fs.ErrInvalid}
	}

	matcher := a.matcher(root)
	projects := make([]DiscoveredProject, 0)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			log.Warn("Skipping unreadable path %s: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if IsExcludedDir(d.Name()) || depth(rel) > a.maxDepth {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(d.Name()), ProjectExt) {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		dir := filepath.Dir(p)
		projects = append(projects, DiscoveredProject{
			Name:         file.Stem(d.Name()),
			RelativePath: normalizeRel(path.Dir(rel)),
			HasSchematic: file.HasExt(dir, SchematicExt),
			HasPCB:       file.HasExt(dir, PCBExt),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(projects, func(i, j int) bool {
		di, dj := depth(projects[i].RelativePath), depth(projects[j].RelativePath)
		if di != dj {
			return di < dj
		}
		ni, nj := strings.ToLower(projects[i].Name), strings.ToLower(projects[j].Name)
		if ni != nj {
			return ni < nj
		}
		return projects[i].RelativePath < projects[j].RelativePath
	})

	importType := Type2
	if len(projects) == 1 && projects[0].RelativePath == "." {
		importType = Type1
	}

	return &Discovery{
		RepoName:   RepoName(repoURL, root),
		RepoURL:    repoURL,
		ImportType: importType,
		Projects:   projects,
	}, nil
}

func (a *Analyzer) matcher(root string) *gitignore.GitIgnore {
	patterns := append([]string(nil), a.patterns...)
	if data, err := os.ReadFile(filepath.Join(root, IgnoreFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return gitignore.CompileIgnoreLines(patterns...)
}

// RepoName derives the repository name from its URL (last path segment
// without ".git"), falling back to the base name of fallbackDir.
func RepoName(repoURL, fallbackDir string) string {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL != "" {
		if u, err := giturls.Parse(repoURL); err == nil {
			if name := lastSegment(u.Path); name != "" {
				return name
			}
		}
		if name := lastSegment(filepath.ToSlash(repoURL)); name != "" {
			return name
		}
	}
	if fallbackDir != "" {
		return lastSegment(filepath.ToSlash(filepath.Clean(fallbackDir)))
	}
	return ""
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndex(p, ":"); i >= 0 {
		p = p[i+1:]
	}
	p = strings.TrimSuffix(p, ".git")
	if p == "." || p == ".." {
		return ""
	}
	return p
}

func depth(rel string) int {
	if rel == "" || rel == "." {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func normalizeRel(rel string) string {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "."
	}
	return path.Clean(rel)
}

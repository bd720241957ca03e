package gitws

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

type Commit struct {
	Hash     string    `json:"hash"`
	FullHash string    `json:"full_hash"`
	Author   string    `json:"author"`
	Email    string    `json:"email"`
	Date     time.Time `json:"date"`
	Message  string    `json:"message"`
}

type Release struct {
	Tag        string    `json:"tag"`
	CommitHash string    `json:"commit_hash"`
	Date       time.Time `json:"date"`
	Message    string    `json:"message"`
}

func openRepo(repoPath string) (*git.Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindNotFound, "no git repository at %s", repoPath)
	}
	return repo, nil
}

// Commits lists up to limit commits reachable from HEAD, newest first. A non
// empty subPath keeps only commits touching files below it.
func Commits(repoPath, subPath string, limit int) ([]Commit, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	opts := &git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime}
	if prefix := cleanSubPath(subPath); prefix != "" {
		opts.PathFilter = func(p string) bool {
			return p == prefix || strings.HasPrefix(p, prefix+"/")
		}
	}

	iter, err := repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit log: %w", err)
	}
	defer iter.Close()

	ret := make([]Commit, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(ret) >= limit {
			return storer.ErrStop
		}
		full := c.Hash.String()
		ret = append(ret, Commit{
			Hash:     shortSHA(full),
			FullHash: full,
			Author:   c.Author.Name,
			Email:    c.Author.Email,
			Date:     c.Author.When,
			Message:  firstLine(c.Message),
		})
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}
	return ret, nil
}

// Tags lists every tag with its target commit, newest first.
func Tags(repoPath string) ([]Release, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	ret := make([]Release, 0)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		rel := Release{Tag: ref.Name().Short()}
		if tag, err := repo.TagObject(ref.Hash()); err == nil {
			rel.Date = tag.Tagger.When
			rel.Message = firstLine(tag.Message)
			if c, err := tag.Commit(); err == nil {
				rel.CommitHash = c.Hash.String()
			} else {
				rel.CommitHash = tag.Target.String()
			}
		} else if c, err := repo.CommitObject(ref.Hash()); err == nil {
			rel.CommitHash = c.Hash.String()
			rel.Date = c.Committer.When
			rel.Message = firstLine(c.Message)
		} else {
			return nil
		}
		ret = append(ret, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Date.Equal(ret[j].Date) {
			return ret[i].Tag > ret[j].Tag
		}
		return ret[i].Date.After(ret[j].Date)
	})
	return ret, nil
}

// IsDirty reports whether the working tree has changes, untracked files included.
func IsDirty(dir string) (bool, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	return !status.IsClean(), nil
}

// HeadSHA returns the commit HEAD points at.
func HeadSHA(repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the checked out branch, or "" on a detached HEAD.
func CurrentBranch(repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// RemoteURL returns the first URL of the origin remote.
func RemoteURL(repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to get remote: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", nil
	}
	return urls[0], nil
}

func cleanSubPath(subPath string) string {
	p := path.Clean(strings.ReplaceAll(strings.TrimSpace(subPath), "\\", "/"))
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

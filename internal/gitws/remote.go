package gitws

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/pkg/log"
)

type Author struct {
	Name  string
	Email string
}

// Clone makes a persistent clone of source at dest.
func (m *Manager) Clone(ctx context.Context, source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(err, errs.KindCloneFailed, "failed to create %s", filepath.Dir(dest))
	}
	if _, err := m.run(ctx, "", "clone", "--quiet", "--", source, dest); err != nil {
		_ = os.RemoveAll(dest)
		return errs.Wrap(err, errs.KindCloneFailed, "failed to clone %s", source)
	}
	log.Info("Cloned %s into %s", source, dest)
	return nil
}

// Sync fast-forwards the checked out branch from its upstream and returns
// the new HEAD.
func (m *Manager) Sync(ctx context.Context, repoPath string) (string, error) {
	if _, err := m.run(ctx, repoPath, "pull", "--ff-only", "--quiet"); err != nil {
		return "", errs.Wrap(err, errs.KindUnknown, "failed to sync %s", repoPath)
	}
	return HeadSHA(repoPath)
}

// CommitAll stages every change in dir and commits it as author.
func (m *Manager) CommitAll(ctx context.Context, dir, message string, author Author) (string, error) {
	if _, err := m.run(ctx, dir, "add", "-A"); err != nil {
		return "", errs.Wrap(err, errs.KindUnknown, "failed to stage changes")
	}
	_, err := m.run(ctx, dir,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit", "--quiet", "--no-verify", "-m", message,
	)
	if err != nil {
		return "", errs.Wrap(err, errs.KindUnknown, "failed to commit")
	}
	return HeadSHA(dir)
}

// Push publishes HEAD to branch on origin. Rejections keep git's own words.
func (m *Manager) Push(ctx context.Context, dir, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" || strings.HasPrefix(branch, "-") {
		return errs.New(errs.KindValidation, "invalid branch %q", branch)
	}
	if _, err := m.run(ctx, dir, "push", "origin", "HEAD:refs/heads/"+branch); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
			return errs.New(errs.KindPushRejected, "%s", cmdErr.Stderr).
				WithContext("branch", branch).
				WithContext("exit", cmdErr.Err)
		}
		return errs.Wrap(err, errs.KindPushRejected, "push to %s failed", branch).WithContext("branch", branch)
	}
	log.Info("Pushed %s to origin/%s", dir, branch)
	return nil
}

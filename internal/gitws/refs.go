package gitws

import (
	"context"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ResolveRef turns a branch, tag, HEAD or commit-ish into a full commit SHA.
func (m *Manager) ResolveRef(ctx context.Context, repoPath, ref string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", errs.Wrap(err, errs.KindCloneFailed, "failed to open repository %s", repoPath)
	}

	if hash, ok := resolveRef(repo, ref); ok {
		return hash.String(), nil
	}

	// Abbreviated hashes and expressions such as HEAD~2 are left to git itself.
	out, err := m.run(ctx, repoPath, "rev-parse", "--verify", "--quiet", "--end-of-options", ref+"^{commit}")
	if err == nil && plumbing.IsHash(out) {
		return out, nil
	}
	return "", errs.New(errs.KindRefNotFound, "ref %q not found", ref).WithContext("repo", repoPath)
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, bool) {
	if branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return branchRef.Hash(), true
	}

	if remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true); err == nil {
		return remoteRef.Hash(), true
	}

	if tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true); err == nil {
		return peelTag(repo, tagRef.Hash()), true
	}

	if ref == "HEAD" {
		if headRef, err := repo.Head(); err == nil {
			return headRef.Hash(), true
		}
	}

	if plumbing.IsHash(ref) {
		hash := plumbing.NewHash(ref)
		if _, err := repo.CommitObject(hash); err == nil {
			return hash, true
		}
	}

	return plumbing.ZeroHash, false
}

// peelTag follows an annotated tag to the commit it points at.
func peelTag(repo *git.Repository, hash plumbing.Hash) plumbing.Hash {
	tag, err := repo.TagObject(hash)
	if err != nil {
		return hash
	}
	commit, err := tag.Commit()
	if err != nil {
		return hash
	}
	return commit.Hash
}

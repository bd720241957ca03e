package gitws

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"github.com/oklog/ulid/v2"
)

// Checkout is a private working copy of one repository at one commit.
type Checkout struct {
	Dir    string
	Source string
	Ref    string
	SHA    string

	once sync.Once
	err  error
}

// Release removes the working copy. Safe to call more than once.
func (c *Checkout) Release() error {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		c.err = os.RemoveAll(c.Dir)
		metrics.CheckoutReleased()
		if c.err != nil {
			log.Warn("Failed to remove checkout %s: %v", c.Dir, c.err)
			return
		}
		log.Debug("Released checkout %s (%s@%s)", c.Dir, c.Ref, shortSHA(c.SHA))
	})
	return c.err
}

// Prepare clones source into a fresh directory and checks out ref there.
// An empty ref means the source's default branch.
func (m *Manager) Prepare(ctx context.Context, source, ref string) (*Checkout, error) {
	source = strings.TrimSpace(source)
	ref = strings.TrimSpace(ref)
	if source == "" {
		return nil, errs.New(errs.KindValidation, "repository source must not be empty")
	}
	if ref == "" {
		ref = "HEAD"
	}
	if strings.HasPrefix(ref, "-") {
		return nil, errs.New(errs.KindValidation, "invalid ref %q", ref)
	}

	dir := filepath.Join(m.root, ulid.Make().String())
	if _, err := m.run(ctx, "", "clone", "--no-checkout", "--quiet", "--", source, dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errs.Wrap(err, errs.KindCloneFailed, "failed to clone %s", source)
	}

	sha, err := m.ResolveRef(ctx, dir, ref)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if _, err := m.run(ctx, dir, "-c", "advice.detachedHead=false", "checkout", "--quiet", "--force", sha); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errs.Wrap(err, errs.KindCloneFailed, "failed to check out %s", shortSHA(sha)).
			WithContext("ref", ref)
	}

	metrics.CheckoutPrepared()
	log.Info("Prepared checkout %s of %s at %s (%s)", filepath.Base(dir), source, ref, shortSHA(sha))
	return &Checkout{Dir: dir, Source: source, Ref: ref, SHA: sha}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

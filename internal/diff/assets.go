package diff

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/kicad"
	"github.com/MimeLyc/kicad-prism/pkg/file"
)

// Status returns the diff job snapshot.
func (o *Orchestrator) Status(jobID string) (*jobs.Job, error) {
	return o.diffJob(jobID)
}

// Manifest returns the manifest of a completed diff.
func (o *Orchestrator) Manifest(jobID string) (*Manifest, error) {
	job, err := o.diffJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return nil, errs.New(errs.KindNotReady, "diff %s is %s", jobID, job.Status)
	}
	if m, ok := job.Result.(*Manifest); ok && m != nil {
		return m, nil
	}
	return nil, errs.New(errs.KindNotFound, "diff %s has no manifest", jobID)
}

// Asset resolves one exported file of a completed diff. commit is the
// requested ref, its resolved sha, or "new"/"old". kind is "sch" or "pcb";
// a pcb item may be given as a layer name.
func (o *Orchestrator) Asset(jobID, commit, kind, item string) (string, error) {
	m, err := o.Manifest(jobID)
	if err != nil {
		return "", err
	}

	var side string
	switch commit {
	case m.Commit1, m.Commit1SHA, sideNew:
		side = sideNew
	case m.Commit2, m.Commit2SHA, sideOld:
		side = sideOld
	default:
		return "", errs.New(errs.KindNotFound, "commit %q is not part of diff %s", commit, jobID)
	}

	var sub string
	switch strings.ToLower(kind) {
	case "sch", "schematic":
		sub = schDir
	case "pcb":
		sub = pcbDir
		for _, l := range m.Layers {
			if item == l {
				item = kicad.LayerFileName(l)
				break
			}
		}
	default:
		return "", errs.New(errs.KindValidation, "unknown asset kind %q", kind)
	}
	if item == "" {
		return "", errs.New(errs.KindValidation, "asset name must not be empty")
	}
	if !strings.EqualFold(filepath.Ext(item), ".svg") {
		item += ".svg"
	}

	root := filepath.Join(o.jobDir(jobID), side, sub)
	path, err := file.Contained(root, item)
	if err != nil {
		if errors.Is(err, file.ErrOutsideRoot) {
			return "", errs.Wrap(err, errs.KindValidation, "invalid asset path %q", item)
		}
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errs.New(errs.KindNotFound, "asset %s/%s/%s not found", commit, kind, item)
	}
	return path, nil
}

// Release deletes the diff job and its exported assets.
func (o *Orchestrator) Release(jobID string) error {
	if _, err := o.diffJob(jobID); err != nil {
		return err
	}
	return o.registry.Delete(jobID)
}

func (o *Orchestrator) diffJob(jobID string) (*jobs.Job, error) {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind != jobs.KindDiff {
		return nil, errs.New(errs.KindNotFound, "diff job %s not found", jobID)
	}
	return job, nil
}

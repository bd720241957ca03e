package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/bom"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/kicad"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/MimeLyc/kicad-prism/pkg/file"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs visual diffs as jobs and serves their assets.
type Orchestrator struct {
	registry  *jobs.Registry
	git       Preparer
	exporter  Exporter
	projects  ProjectSource
	outputDir string
}

func NewOrchestrator(registry *jobs.Registry, git Preparer, exporter Exporter, projects ProjectSource, outputDir string) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		git:       git,
		exporter:  exporter,
		projects:  projects,
		outputDir: outputDir,
	}
}

// Start submits a diff of projectID between commit1 (newer) and commit2
// (older) and returns the pending job.
func (o *Orchestrator) Start(ctx context.Context, projectID, commit1, commit2 string) (*jobs.Job, error) {
	commit1, commit2 = strings.TrimSpace(commit1), strings.TrimSpace(commit2)
	if commit1 == "" || commit2 == "" {
		return nil, errs.New(errs.KindValidation, "commit1 and commit2 are required")
	}
	project, err := o.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job := o.registry.Submit(jobs.KindDiff, project.ID, func(ctx context.Context, h *jobs.Handle) (any, error) {
		return o.run(ctx, h, project, commit1, commit2)
	})
	return job, nil
}

func (o *Orchestrator) jobDir(jobID string) string {
	return filepath.Join(o.outputDir, jobID)
}

func (o *Orchestrator) run(ctx context.Context, h *jobs.Handle, project *projects.Project, commit1, commit2 string) (m *Manifest, err error) {
	dir := o.jobDir(h.ID())
	h.Own(func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Failed to remove diff output %s: %v", dir, err)
		}
	})
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diff output dir: %w", err)
	}
	defer func() { o.writeLogFile(h.ID(), dir, err) }()

	h.Logf("Started diff job for %s: %s (new) vs %s (old)", project.ID, commit1, commit2)
	h.SetProgress("Preparing checkouts", 5)

	var coNew, coOld *gitws.Checkout
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		co, err := o.git.Prepare(gctx, project.Source(), commit1)
		if err != nil {
			h.Logf("Failed to prepare commit %s: %v", commit1, err)
			return err
		}
		coNew = co
		return nil
	})
	g.Go(func() error {
		co, err := o.git.Prepare(gctx, project.Source(), commit2)
		if err != nil {
			h.Logf("Failed to prepare commit %s: %v", commit2, err)
			return err
		}
		coOld = co
		return nil
	})
	err = g.Wait()
	// both goroutines have returned, whichever checkouts exist are ours
	defer coNew.Release()
	defer coOld.Release()
	if err != nil {
		return nil, err
	}
	h.Logf("Checked out %s at %s and %s at %s", commit1, coNew.SHA, commit2, coOld.SHA)

	h.SetProgress(fmt.Sprintf("Exporting %s", commit1), 20)
	newExp := o.exportCommit(ctx, h, project, coNew, commit1, filepath.Join(dir, sideNew), kicad.ColorNew)
	h.SetProgress(fmt.Sprintf("Exporting %s", commit2), 55)
	oldExp := o.exportCommit(ctx, h, project, coOld, commit2, filepath.Join(dir, sideOld), kicad.ColorOld)

	h.SetProgress("Assembling manifest", 90)
	m = &Manifest{
		JobID:      h.ID(),
		Commit1:    commit1,
		Commit2:    commit2,
		Commit1SHA: coNew.SHA,
		Commit2SHA: coOld.SHA,
		Schematic:  artifactOK(newExp.hasSchematic, newExp.schematicOK, oldExp.hasSchematic, oldExp.schematicOK),
		PCB:        artifactOK(newExp.hasPCB, newExp.pcbOK, oldExp.hasPCB, oldExp.pcbOK),
		Sheets:     union(newExp.sheets, oldExp.sheets),
		Layers:     union(newExp.layers, oldExp.layers),
	}
	if !m.Schematic && !m.PCB {
		return nil, errs.New(errs.KindExporterFailed, "no schematic or pcb could be exported for %s and %s", commit1, commit2)
	}

	if newExp.bomPath != "" && oldExp.bomPath != "" {
		m.BOM = o.compareBOM(h, oldExp.bomPath, newExp.bomPath)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := file.WriteAtomic(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	h.Log("Diff generation complete.")
	h.SetProgress("Ready", 100)
	return m, nil
}

// exportCommit plots one checkout into outDir. Failures are logged with the
// commit they belong to and leave the matching flag false.
func (o *Orchestrator) exportCommit(ctx context.Context, h *jobs.Handle, project *projects.Project, co *gitws.Checkout, commit, outDir, color string) commitExport {
	var res commitExport
	projectDir := filepath.Join(co.Dir, filepath.FromSlash(project.SubPath))

	if sch := topSchematic(projectDir, project.PathConfig); sch != "" {
		res.hasSchematic = true
		h.Logf("Exporting schematics for %s from %s", commit, filepath.Base(sch))
		sheets, err := o.exporter.ExportSchematicSVG(ctx, sch, filepath.Join(outDir, schDir))
		if err != nil {
			h.Logf("Schematic export failed for %s: %v", commit, err)
		} else {
			for _, s := range sheets {
				if err := kicad.ColorizeSVG(filepath.Join(outDir, schDir, s), color); err != nil {
					h.Logf("Failed to colorize %s for %s: %v", s, commit, err)
				}
			}
			res.schematicOK = true
			res.sheets = sheets
		}

		bomPath := filepath.Join(outDir, bomFile)
		if err := o.exporter.ExportBOM(ctx, sch, bomPath); err != nil {
			h.Logf("BOM export failed for %s: %v", commit, err)
		} else {
			res.bomPath = bomPath
		}
	} else {
		h.Logf("No schematic found for %s", commit)
	}

	if pcb := boardFile(projectDir, project.PathConfig); pcb != "" {
		res.hasPCB = true
		layers := kicad.ParsePCBLayers(pcb)
		h.Logf("Exporting %d PCB layers for %s from %s", len(layers), commit, filepath.Base(pcb))
		produced, err := o.exporter.ExportPCBSVG(ctx, pcb, filepath.Join(outDir, pcbDir), layers)
		if err != nil {
			h.Logf("PCB export failed for %s: %v", commit, err)
		} else {
			for _, l := range produced {
				if err := kicad.ColorizeSVG(filepath.Join(outDir, pcbDir, kicad.LayerFileName(l)), color); err != nil {
					h.Logf("Failed to colorize layer %s for %s: %v", l, commit, err)
				}
			}
			res.pcbOK = true
			res.layers = produced
		}
	} else {
		h.Logf("No .kicad_pcb found for %s", commit)
	}
	return res
}

func (o *Orchestrator) compareBOM(h *jobs.Handle, oldPath, newPath string) *bom.Diff {
	oldList, err := bom.ParseFile(oldPath)
	if err != nil {
		h.Logf("Failed to parse old BOM: %v", err)
		return nil
	}
	newList, err := bom.ParseFile(newPath)
	if err != nil {
		h.Logf("Failed to parse new BOM: %v", err)
		return nil
	}
	d := bom.Compare(oldList, newList)
	s := d.Summary()
	h.Logf("BOM: %d added, %d removed, %d changed, %d unchanged", s.Added, s.Removed, s.Changed, s.Unchanged)
	return d
}

// writeLogFile mirrors the job log into the output directory.
func (o *Orchestrator) writeLogFile(jobID, dir string, runErr error) {
	job, err := o.registry.Get(jobID)
	if err != nil {
		return
	}
	lines := job.Logs
	if runErr != nil {
		lines = append(lines, "Error: "+runErr.Error())
	}
	data := []byte(strings.Join(lines, "\n") + "\n")
	if err := file.WriteAtomic(filepath.Join(dir, LogFile), data, 0o644); err != nil {
		log.Warn("Failed to write %s for job %s: %v", LogFile, jobID, err)
	}
}

// topSchematic is the configured schematic, then "<project>.kicad_sch",
// then any schematic in dir.
func topSchematic(dir string, cfg projects.PathConfig) string {
	if cfg.Schematic != "" {
		if p := filepath.Join(dir, cfg.Schematic); fileExists(p) {
			return p
		}
	}
	if pro := file.FirstByExt(dir, analyzer.ProjectExt); pro != "" {
		if p := file.ReplaceExt(pro, analyzer.SchematicExt); fileExists(p) {
			return p
		}
	}
	return file.FirstByExt(dir, analyzer.SchematicExt)
}

func boardFile(dir string, cfg projects.PathConfig) string {
	if cfg.PCB != "" {
		if p := filepath.Join(dir, cfg.PCB); fileExists(p) {
			return p
		}
	}
	return file.FirstByExt(dir, analyzer.PCBExt)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// artifactOK is true when at least one side has the artifact and every side
// that has it exported it.
func artifactOK(newHas, newOK, oldHas, oldOK bool) bool {
	if !newHas && !oldHas {
		return false
	}
	return (!newHas || newOK) && (!oldHas || oldOK)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	ret := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			ret = append(ret, s)
		}
	}
	sort.Strings(ret)
	return ret
}

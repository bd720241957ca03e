package kicad

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/pkg/file"
	"github.com/MimeLyc/kicad-prism/pkg/log"
)

// ExportSchematicSVG plots every sheet of schFile into outDir and returns
// the produced file names, sorted.
func (c *CLI) ExportSchematicSVG(ctx context.Context, schFile, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if _, err := c.run(ctx, "", c.schematicSVGArgs(schFile, outDir)...); err != nil {
		return nil, err
	}

	found, err := file.ListByExt(outDir, ".svg")
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errs.New(errs.KindExporterFailed, "schematic export of %s produced no output", filepath.Base(schFile))
	}
	sheets := make([]string, 0, len(found))
	for _, p := range found {
		sheets = append(sheets, filepath.Base(p))
	}
	return sheets, nil
}

// ExportPCBSVG plots the given layers of pcbFile into outDir, one file per
// layer named after the layer with "." replaced by "_". It returns the
// layers that were produced, sorted.
func (c *CLI) ExportPCBSVG(ctx context.Context, pcbFile, outDir string, layers []string) ([]string, error) {
	if len(layers) == 0 {
		return nil, errs.New(errs.KindValidation, "no layers to export")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if _, err := c.run(ctx, "", c.pcbSVGArgs(pcbFile, outDir, layers)...); err != nil {
		return nil, err
	}

	found, err := file.ListByExt(outDir, ".svg")
	if err != nil {
		return nil, err
	}
	produced, err := normalizeLayerFiles(found, file.Stem(pcbFile), layers)
	if err != nil {
		return nil, err
	}
	if len(produced) == 0 {
		return nil, errs.New(errs.KindExporterFailed, "pcb export of %s produced no layer output", filepath.Base(pcbFile))
	}
	return produced, nil
}

// LayerFileName is the normalized file name of a plotted layer.
func LayerFileName(layer string) string {
	return strings.ReplaceAll(layer, ".", "_") + ".svg"
}

// normalizeLayerFiles renames "<board>-<Layer>.svg" outputs to
// LayerFileName(layer). Files matching no requested layer are left alone.
func normalizeLayerFiles(paths []string, boardStem string, layers []string) ([]string, error) {
	byFlat := make(map[string]string, len(layers))
	for _, l := range layers {
		byFlat[strings.ReplaceAll(l, ".", "_")] = l
	}

	seen := make(map[string]struct{})
	ret := make([]string, 0, len(layers))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		name = strings.TrimPrefix(name, boardStem+"-")
		layer, ok := byFlat[strings.ReplaceAll(name, ".", "_")]
		if !ok {
			log.Debug("Ignoring unmatched pcb output %s", filepath.Base(p))
			continue
		}
		target := filepath.Join(filepath.Dir(p), LayerFileName(layer))
		if target != p {
			if err := os.Rename(p, target); err != nil {
				return nil, err
			}
		}
		if _, dup := seen[layer]; !dup {
			seen[layer] = struct{}{}
			ret = append(ret, layer)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// ExportBOM writes an ungrouped CSV bill of materials of schFile to outFile.
func (c *CLI) ExportBOM(ctx context.Context, schFile, outFile string) error {
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return err
	}
	if _, err := c.run(ctx, "", c.bomArgs(schFile, outFile)...); err != nil {
		return err
	}
	info, err := os.Stat(outFile)
	if err != nil || info.Size() == 0 {
		return errs.New(errs.KindExporterFailed, "bom export of %s produced no output", filepath.Base(schFile))
	}
	return nil
}

// RunJobset runs a job set of the project in dir and hands every output
// line, stdout and stderr interleaved, to onLine as it arrives.
func (c *CLI) RunJobset(ctx context.Context, dir, jobset, outputID, projectFile string, onLine func(string)) error {
	args := c.jobsetArgs(jobset, outputID, projectFile)
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimRight(scanner.Text(), "\r"); strings.TrimSpace(line) != "" {
				onLine(line)
			}
		}
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, pr)
	}()

	log.Debug("Running %s %s in %s", cliName, strings.Join(args, " "), dir)
	start := time.Now()
	err := cmd.Run()
	_ = pw.Close()
	wg.Wait()
	metrics.ObserveCommand(cliName, commandOp(args), time.Since(start), err)
	if err != nil {
		return errs.Wrap(err, errs.KindExporterFailed, "%s jobset run failed", cliName).
			WithContext("jobset", jobset).
			WithContext("output", outputID)
	}
	return nil
}

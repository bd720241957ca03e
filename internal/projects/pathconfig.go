package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/pkg/file"
)

// OverrideFile lets a repository pin its own layout.
const OverrideFile = ".prism.json"

func defaultPathConfig() PathConfig {
	return PathConfig{
		Subsheets:            "Subsheets",
		DesignOutputs:        "Design-Outputs",
		ManufacturingOutputs: "Manufacturing-Outputs",
		Documentation:        "docs",
		Thumbnail:            "assets/thumbnail",
		Readme:               "README.md",
		Jobset:               "Outputs.kicad_jobset",
	}
}

// DetectPathConfig inspects dir and returns its layout. Values found in
// .prism.json win over detected ones.
func DetectPathConfig(dir string) (PathConfig, error) {
	cfg := defaultPathConfig()

	if pro := file.FirstByExt(dir, analyzer.ProjectExt); pro != "" {
		cfg.ProjectFile = filepath.Base(pro)
		sch := file.ReplaceExt(pro, analyzer.SchematicExt)
		if _, err := os.Stat(sch); err == nil {
			cfg.Schematic = filepath.Base(sch)
		}
	}
	if cfg.Schematic == "" {
		if sch := file.FirstByExt(dir, analyzer.SchematicExt); sch != "" {
			cfg.Schematic = filepath.Base(sch)
		}
	}
	if pcb := file.FirstByExt(dir, analyzer.PCBExt); pcb != "" {
		cfg.PCB = filepath.Base(pcb)
	}
	if jobset := file.FirstByExt(dir, ".kicad_jobset"); jobset != "" {
		cfg.Jobset = filepath.Base(jobset)
	}

	data, err := os.ReadFile(filepath.Join(dir, OverrideFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", OverrideFile, err)
	}
	var override PathConfig
	if err := json.Unmarshal(data, &override); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", OverrideFile, err)
	}
	return cfg.merge(override), nil
}

func (c PathConfig) merge(o PathConfig) PathConfig {
	pick := func(base, over string) string {
		if over != "" {
			return over
		}
		return base
	}
	return PathConfig{
		ProjectFile:          pick(c.ProjectFile, o.ProjectFile),
		Schematic:            pick(c.Schematic, o.Schematic),
		PCB:                  pick(c.PCB, o.PCB),
		Subsheets:            pick(c.Subsheets, o.Subsheets),
		DesignOutputs:        pick(c.DesignOutputs, o.DesignOutputs),
		ManufacturingOutputs: pick(c.ManufacturingOutputs, o.ManufacturingOutputs),
		Documentation:        pick(c.Documentation, o.Documentation),
		Thumbnail:            pick(c.Thumbnail, o.Thumbnail),
		Readme:               pick(c.Readme, o.Readme),
		Jobset:               pick(c.Jobset, o.Jobset),
	}
}

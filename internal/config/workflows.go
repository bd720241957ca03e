package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultJobsetFile = "Outputs.kicad_jobset"

// JobSet names one output of a KiCad jobset file.
type JobSet struct {
	File        string `yaml:"file" json:"file"`
	Output      string `yaml:"output" json:"output"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Catalogue maps a workflow type (design, manufacturing, ...) to its job set.
type Catalogue map[string]JobSet

type catalogueFile struct {
	Jobsets map[string]JobSet `yaml:"jobsets"`
}

func DefaultCatalogue() Catalogue {
	return Catalogue{
		"design": {
			File:        DefaultJobsetFile,
			Output:      "28dab1d3-7bf2-4d8a-9723-bcdd14e1d814",
			Description: "Schematic PDF, BOM and design documentation",
		},
		"manufacturing": {
			File:        DefaultJobsetFile,
			Output:      "9e5c254b-cb26-4a49-beea-fa7af8a62903",
			Description: "Gerbers, drill files and assembly data",
		},
		"render": {
			File:        DefaultJobsetFile,
			Output:      "81c80ad4-e8b9-4c9a-8bed-df7864fdefc6",
			Description: "3D renders of the board",
		},
	}
}

// LoadCatalogue reads a YAML catalogue:
//
//	jobsets:
//	  design:
//	    file: Outputs.kicad_jobset
//	    output: 28dab1d3-...
func LoadCatalogue(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}
	var raw catalogueFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflows file %s: %w", path, err)
	}

	cat := make(Catalogue, len(raw.Jobsets))
	for name, set := range raw.Jobsets {
		name = strings.ToLower(strings.TrimSpace(name))
		if set.File == "" {
			set.File = DefaultJobsetFile
		}
		cat[name] = set
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("workflows file %s: %w", path, err)
	}
	return cat, nil
}

func (c Catalogue) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("workflow catalogue is empty")
	}
	for name, set := range c {
		if name == "" {
			return fmt.Errorf("workflow with empty name")
		}
		if strings.TrimSpace(set.Output) == "" {
			return fmt.Errorf("workflow %q: output id is required", name)
		}
	}
	return nil
}

func (c Catalogue) Lookup(name string) (JobSet, bool) {
	set, ok := c[strings.ToLower(strings.TrimSpace(name))]
	return set, ok
}

func (c Catalogue) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

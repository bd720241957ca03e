package projects

import (
	"path/filepath"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
)

// PathConfig locates the well-known files and folders of one project,
// relative to the project directory.
type PathConfig struct {
	ProjectFile          string `json:"project_file,omitempty"`
	Schematic            string `json:"schematic,omitempty"`
	PCB                  string `json:"pcb,omitempty"`
	Subsheets            string `json:"subsheets,omitempty"`
	DesignOutputs        string `json:"design_outputs,omitempty"`
	ManufacturingOutputs string `json:"manufacturing_outputs,omitempty"`
	Documentation        string `json:"documentation,omitempty"`
	Thumbnail            string `json:"thumbnail,omitempty"`
	Readme               string `json:"readme,omitempty"`
	Jobset               string `json:"jobset,omitempty"`
}

type Project struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ImportType   analyzer.ImportType `json:"import_type"`
	RepoURL      string              `json:"repo_url"`
	RepoPath     string              `json:"repo_path"`
	SubPath      string              `json:"sub_path"`
	Branch       string              `json:"branch"`
	PathConfig   PathConfig          `json:"path_config"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	LastSyncedAt *time.Time          `json:"last_synced_at,omitempty"`
}

// Dir is the project directory inside the persistent clone.
func (p *Project) Dir() string {
	return filepath.Join(p.RepoPath, filepath.FromSlash(p.SubPath))
}

// Source is what checkouts of this project are cloned from: the local
// persistent clone when present, the remote otherwise.
func (p *Project) Source() string {
	if p.RepoPath != "" {
		return p.RepoPath
	}
	return p.RepoURL
}

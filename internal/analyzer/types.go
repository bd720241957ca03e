package analyzer

type ImportType string

const (
	Type1 ImportType = "type1"
	Type2 ImportType = "type2"
)

func (t ImportType) Valid() bool {
	return t == Type1 || t == Type2
}

type DiscoveredProject struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	HasSchematic bool   `json:"has_schematic"`
	HasPCB       bool   `json:"has_pcb"`
}

type Discovery struct {
	RepoName   string              `json:"repo_name"`
	RepoURL    string              `json:"repo_url"`
	ImportType ImportType          `json:"import_type"`
	Projects   []DiscoveredProject `json:"projects"`
}

// Find returns the discovered project at relPath.
func (d *Discovery) Find(relPath string) (DiscoveredProject, bool) {
	relPath = normalizeRel(relPath)
	for _, p := range d.Projects {
		if p.RelativePath == relPath {
			return p, true
		}
	}
	return DiscoveredProject{}, false
}

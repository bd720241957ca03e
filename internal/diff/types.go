package diff

import (
	"context"

	"github.com/MimeLyc/kicad-prism/internal/bom"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/projects"
)

const (
	ManifestFile = "manifest.json"
	LogFile      = "logs.txt"

	sideNew = "new"
	sideOld = "old"

	schDir  = "sch"
	pcbDir  = "pcb"
	bomFile = "bom.csv"
)

// Manifest describes the finished diff between a newer (commit1) and an
// older (commit2) revision of one project.
type Manifest struct {
	JobID      string    `json:"job_id"`
	Commit1    string    `json:"commit1"`
	Commit2    string    `json:"commit2"`
	Commit1SHA string    `json:"commit1_sha"`
	Commit2SHA string    `json:"commit2_sha"`
	Schematic  bool      `json:"schematic"`
	PCB        bool      `json:"pcb"`
	Sheets     []string  `json:"sheets"`
	Layers     []string  `json:"layers"`
	BOM        *bom.Diff `json:"bom,omitempty"`
}

// Exporter plots design files; *kicad.CLI is the production implementation.
type Exporter interface {
	ExportSchematicSVG(ctx context.Context, schFile, outDir string) ([]string, error)
	ExportPCBSVG(ctx context.Context, pcbFile, outDir string, layers []string) ([]string, error)
	ExportBOM(ctx context.Context, schFile, outFile string) error
}

type Preparer interface {
	Prepare(ctx context.Context, source, ref string) (*gitws.Checkout, error)
}

type ProjectSource interface {
	Get(ctx context.Context, id string) (*projects.Project, error)
}

// commitExport is what one side of the diff produced.
type commitExport struct {
	hasSchematic bool
	schematicOK  bool
	sheets       []string

	hasPCB bool
	pcbOK  bool
	layers []string

	bomPath string
}

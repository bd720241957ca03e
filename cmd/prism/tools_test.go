package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func newTestApp(out *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:   "prism",
		Writer: out,
		Commands: []*cli.Command{
			{Name: "analyze", Flags: []cli.Flag{envFlag()}, Action: analyzeAction},
			{Name: "bom-diff", Action: bomDiffAction},
		},
	}
}

func TestBOMDiffCommand(t *testing.T) {
	dir := t.TempDir()
	oldCSV := filepath.Join(dir, "old.csv")
	newCSV := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(oldCSV, []byte("Reference,Value\nR1,10k\nC1,100nF\n"), 0o644))
	require.NoError(t, os.WriteFile(newCSV, []byte("Reference,Value\nR1,4.7k\nR2,1k\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, newTestApp(&out).Run(context.Background(), []string{"prism", "bom-diff", oldCSV, newCSV}))

	var got struct {
		Summary map[string]int `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 1, got.Summary["added"])
	assert.Equal(t, 1, got.Summary["removed"])
	assert.Equal(t, 1, got.Summary["changed"])

	err := newTestApp(&out).Run(context.Background(), []string{"prism", "bom-diff", oldCSV})
	assert.Error(t, err)
}

func TestAnalyzeCommand_LocalDir(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub1", "foo.kicad_pro"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub2", "bar.kicad_pro"), []byte("{}"), 0o644))

	var out bytes.Buffer
	require.NoError(t, newTestApp(&out).Run(context.Background(), []string{"prism", "analyze", "--env", "", dir}))

	var got struct {
		ImportType string `json:"import_type"`
		Projects   []struct {
			RelativePath string `json:"relative_path"`
		} `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "type2", got.ImportType)
	require.Len(t, got.Projects, 2)
	assert.Equal(t, "sub1", got.Projects[0].RelativePath)
	assert.Equal(t, "sub2", got.Projects[1].RelativePath)
}

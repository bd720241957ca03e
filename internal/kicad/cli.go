package kicad

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/pkg/log"
)

const cliName = "kicad-cli"

// CLI runs kicad-cli subcommands.
type CLI struct {
	path string
}

func New(path string) *CLI {
	return &CLI{path: path}
}

func (c *CLI) Path() string { return c.path }

// ResolveCLI finds kicad-cli: the override when given, then PATH, then the
// usual install locations of the current OS.
func ResolveCLI(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if p, err := exec.LookPath(override); err == nil {
			return p, nil
		}
		return "", errs.New(errs.KindExporterFailed, "kicad-cli not found at %s", override)
	}

	name := cliName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, candidate := range installCandidates() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errs.New(errs.KindExporterFailed, "kicad-cli not found on PATH or in the default install locations")
}

func installCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{
			"/Applications/KiCad/KiCad.app/Contents/MacOS/kicad-cli",
			filepath.Join(home, "Applications/KiCad/KiCad.app/Contents/MacOS/kicad-cli"),
		}
	case "windows":
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		versions, _ := filepath.Glob(filepath.Join(programFiles, "KiCad", "*", "bin", "kicad-cli.exe"))
		// newest version directory first
		sort.Sort(sort.Reverse(sort.StringSlice(versions)))
		return versions
	default:
		return []string{
			"/usr/bin/kicad-cli",
			"/usr/local/bin/kicad-cli",
			"/var/lib/flatpak/exports/bin/kicad-cli",
		}
	}
}

// run executes kicad-cli in dir and returns its stdout; a non-zero exit is
// an ExporterFailed error carrying stderr.
func (c *CLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	op := commandOp(args)
	log.Debug("Running %s %s", cliName, strings.Join(args, " "))
	start := time.Now()
	err := cmd.Run()
	metrics.ObserveCommand(cliName, op, time.Since(start), err)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		e := errs.Wrap(err, errs.KindExporterFailed, "%s %s failed", cliName, op)
		if msg != "" {
			e = e.WithContext("stderr", msg)
		}
		return "", e
	}
	return stdout.String(), nil
}

// commandOp joins the leading subcommand words, e.g. "sch export svg".
func commandOp(args []string) string {
	words := make([]string, 0, 3)
	for _, a := range args {
		if strings.HasPrefix(a, "-") || len(words) == 3 {
			break
		}
		words = append(words, a)
	}
	if len(words) == 0 {
		return "unknown"
	}
	return strings.Join(words, " ")
}

func (*CLI) schematicSVGArgs(schFile, outDir string) []string {
	return []string{
		"sch", "export", "svg",
		"--black-and-white",
		"--output", outDir,
		schFile,
	}
}

func (*CLI) pcbSVGArgs(pcbFile, outDir string, layers []string) []string {
	return []string{
		"pcb", "export", "svg",
		"--mode-multi",
		"--layers", strings.Join(layers, ","),
		"--black-and-white",
		"--exclude-drawing-sheet",
		"--page-size-mode", "2",
		"--output", outDir,
		pcbFile,
	}
}

func (*CLI) bomArgs(schFile, outFile string) []string {
	return []string{
		"sch", "export", "bom",
		"--fields", "Reference,Value,Footprint,${QUANTITY},${DNP}",
		"--labels", "Reference,Value,Footprint,Quantity,DNP",
		"--output", outFile,
		schFile,
	}
}

func (*CLI) jobsetArgs(jobset, outputID, projectFile string) []string {
	return []string{
		"jobset", "run",
		"-f", jobset,
		"--output", outputID,
		projectFile,
	}
}

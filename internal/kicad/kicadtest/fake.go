// Package kicadtest provides a scriptable stand-in for kicad-cli.
package kicadtest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// The fake reads its behaviour from the design files it is given:
//   - a schematic or board containing FAIL_EXPORT fails its svg export
//   - a schematic containing FAIL_BOM fails its bom export
//   - "SHEET:<name>" lines in a schematic add extra sheet plots
//   - "BOM:<csv row>" lines in a schematic become bom rows
//
// "jobset run" prints a few lines on both streams, writes
// Design-Outputs/<output>.txt in the working directory and exits with
// $FAKE_KICAD_JOBSET_EXIT (default 0). Every invocation is appended to
// $FAKE_KICAD_LOG when set.
const script = `#!/bin/sh
[ -n "$FAKE_KICAD_LOG" ] && echo "$*" >> "$FAKE_KICAD_LOG"
out=""; layers=""; prev=""; last=""
for a in "$@"; do
  case "$prev" in
    --output) out="$a" ;;
    --layers) layers="$a" ;;
  esac
  prev="$a"; last="$a"
done
case "$1 $2 $3" in
  "sch export svg")
    if grep -q FAIL_EXPORT "$last"; then echo "Failed to load schematic" >&2; exit 3; fi
    stem=$(basename "$last" .kicad_sch)
    printf '<svg><path stroke="#000000" fill="black"/></svg>' > "$out/$stem.svg"
    for s in $(grep '^SHEET:' "$last" | sed 's/^SHEET://'); do
      printf '<svg style="fill:#000;stroke:rgb(0, 0, 0)"/>' > "$out/$s.svg"
    done
    ;;
  "pcb export svg")
    if grep -q FAIL_EXPORT "$last"; then echo "Failed to load board" >&2; exit 4; fi
    stem=$(basename "$last" .kicad_pcb)
    for l in $(echo "$layers" | tr ',' ' '); do
      flat=$(echo "$l" | tr '.' '_')
      printf '<svg><path stroke="#000000"/></svg>' > "$out/$stem-$flat.svg"
    done
    ;;
  "sch export bom")
    if grep -q FAIL_BOM "$last"; then echo "bom failed" >&2; exit 5; fi
    echo 'Reference,Value,Footprint,Quantity,DNP' > "$out"
    grep '^BOM:' "$last" | sed 's/^BOM://' >> "$out"
    ;;
  "jobset run "*)
    echo "Running jobset"
    echo "warning: 1 footprint missing" >&2
    mkdir -p Design-Outputs
    echo "generated" > "Design-Outputs/$out.txt"
    echo "Done"
    exit "${FAKE_KICAD_JOBSET_EXIT:-0}"
    ;;
  *)
    echo "unsupported: $*" >&2
    exit 64
    ;;
esac
`

// Install writes the fake into a temp dir and returns its path. Tests are
// skipped where /bin/sh scripts cannot run.
func Install(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake kicad-cli needs a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "kicad-cli")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake kicad-cli: %v", err)
	}
	return path
}

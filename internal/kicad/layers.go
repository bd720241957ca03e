package kicad

import (
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
)

// layerScanLimit bounds how much of a board file is read; the layer table
// sits in the header.
const layerScanLimit = 20000

// DefaultLayers is used when a board declares no readable layer table.
var DefaultLayers = []string{"F.Cu", "B.Cu", "F.SilkS", "B.SilkS", "F.Mask", "B.Mask", "Edge.Cuts"}

var (
	layersBeforeSetup = regexp.MustCompile(`(?s)\(layers\s+(.*?)\s+\(setup`)
	layersUntilClose  = regexp.MustCompile(`(?s)\(layers\s+(.*?)\n\s+\)`)
	layerEntry        = regexp.MustCompile(`\(\s*\d+\s+"([^"]+)"`)
)

// ParsePCBLayers returns the layer names declared by a .kicad_pcb file in
// table order, or DefaultLayers when none can be read.
func ParsePCBLayers(pcbPath string) []string {
	f, err := os.Open(pcbPath)
	if err != nil {
		return append([]string(nil), DefaultLayers...)
	}
	defer f.Close()

	head := make([]byte, layerScanLimit)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return append([]string(nil), DefaultLayers...)
	}
	if layers := parseLayerTable(string(head[:n])); len(layers) > 0 {
		return layers
	}
	return append([]string(nil), DefaultLayers...)
}

func parseLayerTable(head string) []string {
	m := layersBeforeSetup.FindStringSubmatch(head)
	if m == nil {
		m = layersUntilClose.FindStringSubmatch(head)
	}
	if m == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var ret []string
	for _, e := range layerEntry.FindAllStringSubmatch(m[1], -1) {
		name := strings.TrimSpace(e[1])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		ret = append(ret, name)
	}
	return ret
}

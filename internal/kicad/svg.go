package kicad

import (
	"os"
	"regexp"

	"github.com/MimeLyc/kicad-prism/pkg/file"
)

const (
	ColorNew = "#00AA00"
	ColorOld = "#FF0000"
)

const blackValue = `(?:#000000|#000|black|rgb\(0,\s*0,\s*0\))`

var (
	blackAttr  = regexp.MustCompile(`(stroke|fill)="` + blackValue + `"`)
	blackStyle = regexp.MustCompile(`(stroke|fill):` + blackValue)
)

// Colorize recolors the black strokes and fills of a black-and-white plot.
func Colorize(svg []byte, color string) []byte {
	out := blackAttr.ReplaceAll(svg, []byte(`${1}="`+color+`"`))
	return blackStyle.ReplaceAll(out, []byte(`${1}:`+color))
}

// ColorizeSVG rewrites the file at path in place. A missing file is not an error.
func ColorizeSVG(path, color string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return file.WriteAtomic(path, Colorize(data, color), 0o644)
}

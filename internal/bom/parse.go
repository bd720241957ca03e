package bom

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var referenceHeaders = []string{"reference", "references", "ref", "designator"}

var refRange = regexp.MustCompile(`^([A-Za-z_#]+)(\d+)-([A-Za-z_#]*)(\d+)$`)

// ParseCSV reads a kicad-cli BOM export. The reference column becomes the
// component key and every other column a field. Grouped rows ("R1, R2" or
// "R1-R3") are expanded to one component per designator.
func ParseCSV(r io.Reader) (List, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\ufeff" {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return List{}, nil
		}
		return nil, fmt.Errorf("read bom header: %w", err)
	}
	for i := range header {
		header[i] = strings.Trim(strings.TrimSpace(header[i]), `"`)
	}

	refCol := -1
	for i, name := range header {
		for _, candidate := range referenceHeaders {
			if strings.EqualFold(name, candidate) {
				refCol = i
				break
			}
		}
		if refCol >= 0 {
			break
		}
	}
	if refCol < 0 {
		return nil, fmt.Errorf("bom has no reference column (header: %s)", strings.Join(header, ","))
	}

	var list List
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bom line %d: %w", line, err)
		}
		if refCol >= len(row) {
			continue
		}

		fields := make([]Field, 0, len(header)-1)
		for i, name := range header {
			if i == refCol || name == "" {
				continue
			}
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			fields = append(fields, Field{Name: name, Value: value})
		}

		for _, ref := range ExpandRefs(row[refCol]) {
			list = append(list, Component{Ref: ref, Fields: fields})
		}
	}
	return list, nil
}

func ParseFile(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

// ExpandRefs splits a grouped designator cell into single designators.
func ExpandRefs(cell string) []string {
	parts := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})

	var refs []string
	for _, part := range parts {
		if m := refRange.FindStringSubmatch(part); m != nil && (m[3] == "" || m[3] == m[1]) {
			from, _ := strconv.Atoi(m[2])
			to, _ := strconv.Atoi(m[4])
			if from <= to && to-from <= 1000 {
				for n := from; n <= to; n++ {
					refs = append(refs, m[1]+strconv.Itoa(n))
				}
				continue
			}
		}
		refs = append(refs, part)
	}
	return refs
}

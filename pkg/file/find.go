package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListByExt returns the regular files directly inside dir whose extension
// matches ext (case-insensitive), sorted by name.
func ListByExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ext = normalizeExt(ext)

	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			found = append(found, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(found)
	return found, nil
}

// FirstByExt returns the first match of ListByExt, or "" when nothing matches
// or dir cannot be read.
func FirstByExt(dir, ext string) string {
	found, err := ListByExt(dir, ext)
	if err != nil || len(found) == 0 {
		return ""
	}
	return found[0]
}

// HasExt reports whether dir directly contains a file with the given extension.
func HasExt(dir, ext string) bool {
	return FirstByExt(dir, ext) != ""
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

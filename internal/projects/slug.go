package projects

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackSlug = "project"

// Slug folds s into a lower case id made of [a-z0-9_-]. Accents are dropped
// ("Módulo" → "modulo") and every other run of characters becomes one "-".
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return fallbackSlug
	}
	return out
}

// projectSlug is the id base for a project: the repository name for a single
// project repository, the repository name plus the sub path otherwise.
func projectSlug(repoName, relPath string) string {
	if relPath == "" || relPath == "." {
		return Slug(repoName)
	}
	sub := strings.NewReplacer("/", "-", " ", "_").Replace(relPath)
	return Slug(repoName + "-" + sub)
}

package bom

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Compare computes the per-designator difference between two BOMs. It is
// deterministic and does no I/O. When a designator appears more than once in
// one list, its last occurrence wins.
func Compare(oldList, newList List) *Diff {
	oldByRef, fields := index(oldList, nil)
	newByRef, fields := index(newList, fields)

	refs := make([]string, 0, len(oldByRef)+len(newByRef))
	for ref := range oldByRef {
		refs = append(refs, ref)
	}
	for ref := range newByRef {
		if _, ok := oldByRef[ref]; !ok {
			refs = append(refs, ref)
		}
	}
	slices.SortFunc(refs, CompareRefs)

	changes := make([]Change, 0, len(refs))
	for _, ref := range refs {
		oldComp, inOld := oldByRef[ref]
		newComp, inNew := newByRef[ref]

		switch {
		case !inOld:
			changes = append(changes, Change{
				Ref:    ref,
				Status: StatusAdded,
				New:    project(newComp, fields),
			})
		case !inNew:
			changes = append(changes, Change{
				Ref:    ref,
				Status: StatusRemoved,
				Old:    project(oldComp, fields),
			})
		default:
			oldVals, newVals := project(oldComp, fields), project(newComp, fields)
			diffs := make(map[string]FieldDiff)
			for _, name := range fields {
				if oldVals[name] != newVals[name] {
					diffs[name] = FieldDiff{Old: oldVals[name], New: newVals[name]}
				}
			}
			change := Change{Ref: ref, Status: StatusUnchanged, Old: oldVals, New: newVals}
			if len(diffs) > 0 {
				change.Status = StatusChanged
				change.Diffs = diffs
			}
			changes = append(changes, change)
		}
	}

	return &Diff{Changes: changes, Fields: fields}
}

func index(list List, fields []string) (map[string]Component, []string) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f] = struct{}{}
	}

	byRef := make(map[string]Component, len(list))
	for _, comp := range list {
		ref := strings.TrimSpace(comp.Ref)
		if ref == "" {
			continue
		}
		byRef[ref] = comp
		for _, f := range comp.Fields {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			fields = append(fields, f.Name)
		}
	}
	return byRef, fields
}

// project maps comp onto the full field list; absent fields read as "".
func project(comp Component, fields []string) map[string]string {
	ret := make(map[string]string, len(fields))
	for _, name := range fields {
		v, _ := comp.Value(name)
		ret[name] = v
	}
	return ret
}

// CompareRefs orders designators by letter prefix, then numerically, so
// R2 sorts before R10.
func CompareRefs(a, b string) int {
	pa, na, ra := splitRef(a)
	pb, nb, rb := splitRef(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	if na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ra, rb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func splitRef(ref string) (prefix string, num int, rest string) {
	i := 0
	for i < len(ref) && !unicode.IsDigit(rune(ref[i])) {
		i++
	}
	j := i
	for j < len(ref) && unicode.IsDigit(rune(ref[j])) {
		j++
	}
	if j == i {
		return ref, -1, ""
	}
	n, err := strconv.Atoi(ref[i:j])
	if err != nil {
		return ref, -1, ""
	}
	return ref[:i], n, ref[j:]
}

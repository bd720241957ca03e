package bom

import "encoding/json"

type Field struct {
	Name  string
	Value string
}

// Component is one designator with its fields in column order.
type Component struct {
	Ref    string
	Fields []Field
}

func (c Component) Value(name string) (string, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// List is a parsed BOM in file order.
type List []Component

type Status string

const (
	StatusAdded     Status = "added"
	StatusRemoved   Status = "removed"
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
)

type FieldDiff struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type Change struct {
	Ref    string               `json:"ref"`
	Status Status               `json:"status"`
	Old    map[string]string    `json:"old,omitempty"`
	New    map[string]string    `json:"new,omitempty"`
	Diffs  map[string]FieldDiff `json:"diffs,omitempty"`
}

type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

type Diff struct {
	Changes []Change
	Fields  []string
}

// Summary counts the changes by status.
func (d *Diff) Summary() Summary {
	var s Summary
	for _, c := range d.Changes {
		switch c.Status {
		case StatusAdded:
			s.Added++
		case StatusRemoved:
			s.Removed++
		case StatusChanged:
			s.Changed++
		case StatusUnchanged:
			s.Unchanged++
		}
	}
	return s
}

func (d *Diff) MarshalJSON() ([]byte, error) {
	changes := d.Changes
	if changes == nil {
		changes = []Change{}
	}
	fields := d.Fields
	if fields == nil {
		fields = []string{}
	}
	return json.Marshal(struct {
		Summary Summary  `json:"summary"`
		Changes []Change `json:"changes"`
		Fields  []string `json:"fields"`
	}{
		Summary: d.Summary(),
		Changes: changes,
		Fields:  fields,
	})
}

func (d *Diff) UnmarshalJSON(data []byte) error {
	var raw struct {
		Changes []Change `json:"changes"`
		Fields  []string `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Changes = raw.Changes
	d.Fields = raw.Fields
	return nil
}

// Package columns maps a workflow group to the ordered columns the grid
// shows for it and the subset the user may edit.
package columns

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"libprep/api/internal/sample"
)

//go:embed policy.yaml
var defaultPolicy []byte

var ErrNoColumns = errors.New("no column policy")

// Projection is the column layout of one workflow group.
type Projection struct {
	Visible  []string `json:"visible"`
	Editable []string `json:"editable"`
}

// Empty reports whether the group had no policy.
func (p Projection) Empty() bool {
	return len(p.Visible) == 0
}

// EditableIndex returns the position of field among the editable columns,
// or -1.
func (p Projection) EditableIndex(field string) int {
	for i, f := range p.Editable {
		if f == field {
			return i
		}
	}
	return -1
}

func (p Projection) VisibleIndex(field string) int {
	for i, f := range p.Visible {
		if f == field {
			return i
		}
	}
	return -1
}

func (p Projection) IsEditable(field string) bool {
	return p.EditableIndex(field) >= 0
}

// Labels returns the header label of every visible column.
func (p Projection) Labels() []string {
	out := make([]string, len(p.Visible))
	for i, f := range p.Visible {
		out[i] = sample.Label(f)
	}
	return out
}

type policyFile struct {
	Policies []struct {
		Groups  []string `yaml:"groups"`
		Columns []string `yaml:"columns"`
	} `yaml:"policies"`
}

// Policy holds the column list of every known workflow group.
type Policy struct {
	byGroup map[string][]string
	groups  []string
}

// Default returns the built-in policy set.
func Default() *Policy {
	p, err := parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("columns: embedded policy: %v", err))
	}
	return p
}

// Load reads the built-in policy and, when path is set, lets the groups
// declared in that file replace or extend it.
func Load(path string) (*Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open column policy: %w", err)
	}
	defer f.Close()
	override, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read column policy %s: %w", path, err)
	}
	for _, group := range override.groups {
		if _, ok := p.byGroup[group]; !ok {
			p.groups = append(p.groups, group)
		}
		p.byGroup[group] = override.byGroup[group]
	}
	return p, nil
}

// Read parses a YAML policy document.
func Read(r io.Reader) (*Policy, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func parse(raw []byte) (*Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	p := &Policy{byGroup: map[string][]string{}}
	for i, entry := range doc.Policies {
		if len(entry.Groups) == 0 {
			return nil, fmt.Errorf("policy %d: no groups", i)
		}
		for _, col := range entry.Columns {
			if !sample.Known(col) {
				return nil, fmt.Errorf("policy %d: unknown column %q", i, col)
			}
		}
		cols := withPoolColumns(entry.Columns)
		for _, group := range entry.Groups {
			if _, dup := p.byGroup[group]; dup {
				return nil, fmt.Errorf("policy %d: group %q declared twice", i, group)
			}
			p.byGroup[group] = cols
			p.groups = append(p.groups, group)
		}
	}
	return p, nil
}

// withPoolColumns moves the pool-owned columns to sit immediately before
// data_required. Lists without data_required drop them.
func withPoolColumns(cols []string) []string {
	out := make([]string, 0, len(cols)+len(sample.PoolOwned))
	for _, col := range cols {
		if sample.IsPoolOwned(col) {
			continue
		}
		if col == sample.DataRequired {
			out = append(out, sample.PoolOwned...)
		}
		out = append(out, col)
	}
	return out
}

// Groups lists the groups with a policy in declaration order.
func (p *Policy) Groups() []string {
	return append([]string(nil), p.groups...)
}

// Project returns the layout of group. An unknown group yields an empty
// projection.
func (p *Policy) Project(group string) Projection {
	cols, ok := p.byGroup[group]
	if !ok {
		return Projection{}
	}
	proj := Projection{
		Visible:  append([]string(nil), cols...),
		Editable: make([]string, 0, len(cols)),
	}
	for _, col := range cols {
		if sample.IsIdentity(col) || sample.IsPoolOwned(col) {
			continue
		}
		proj.Editable = append(proj.Editable, col)
	}
	return proj
}

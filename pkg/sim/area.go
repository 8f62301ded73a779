package sim

import (
	"fmt"
	"sort"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
)

// Area is one node of the market hierarchy. Areas refer to each other by
// name only; the Tree owns them.
type Area struct {
	Name     string
	Parent   string
	Children []string
	Fee      fees.Calculator
}

// Tree is the area hierarchy, rooted at a single grid area.
type Tree struct {
	root  string
	areas map[string]*Area
}

func NewTree(root string, fee fees.Calculator) *Tree {
	t := &Tree{root: root, areas: make(map[string]*Area)}
	t.areas[root] = &Area{Name: root, Fee: fee}
	return t
}

// Add attaches a child area under parent.
func (t *Tree) Add(parent, name string, fee fees.Calculator) error {
	p, ok := t.areas[parent]
	if !ok {
		return fmt.Errorf("parent area %s not found", parent)
	}
	if _, dup := t.areas[name]; dup {
		return fmt.Errorf("area %s already exists", name)
	}
	t.areas[name] = &Area{Name: name, Parent: parent, Fee: fee}
	p.Children = append(p.Children, name)
	return nil
}

func (t *Tree) Root() string { return t.root }

func (t *Tree) Area(name string) (*Area, bool) {
	a, ok := t.areas[name]
	return a, ok
}

// Names lists every area breadth first from the root; siblings keep the
// order they were added in.
func (t *Tree) Names() []string {
	out := []string{t.root}
	for i := 0; i < len(out); i++ {
		out = append(out, t.areas[out[i]].Children...)
	}
	return out
}

// Leaves lists the areas without children, sorted by name.
func (t *Tree) Leaves() []string {
	var out []string
	for _, n := range t.Names() {
		if len(t.areas[n].Children) == 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Edges lists (parent, child) pairs in the order of Names.
func (t *Tree) Edges() [][2]string {
	var out [][2]string
	for _, n := range t.Names() {
		for _, c := range t.areas[n].Children {
			out = append(out, [2]string{n, c})
		}
	}
	return out
}

// DefaultTree builds grid -> nbhd_i -> house_i_j with one fee for every
// market.
func DefaultTree(neighborhoods, houses int, fee fees.Calculator) *Tree {
	t := NewTree("grid", fee)
	for i := 1; i <= neighborhoods; i++ {
		nb := fmt.Sprintf("nbhd_%d", i)
		_ = t.Add("grid", nb, fee)
		for j := 1; j <= houses; j++ {
			_ = t.Add(nb, fmt.Sprintf("house_%d_%d", i, j), fee)
		}
	}
	return t
}

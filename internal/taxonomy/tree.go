package taxonomy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// Path is a category position, top level first.
type Path []string

// Level returns the name at depth i (0-based), or "".
func (p Path) Level(i int) string {
	if i < 0 || i >= len(p) {
		return ""
	}
	return p[i]
}

// VoteKey identifies the (level1, level2) bucket a path votes for.
func (p Path) VoteKey() string {
	return p.Level(0) + "|" + p.Level(1)
}

// String joins the levels with "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Node is a category in a template's hierarchy. A node without children is
// a leaf; its Terms are the words that identify records belonging to it.
type Node struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Terms       []string `json:"terms,omitempty"`
	Children    []Node   `json:"children,omitempty"`
}

// Leaf is a leaf node together with its full path.
type Leaf struct {
	Path  Path
	Terms []string
}

// FromVocab converts vocabulary nodes to template nodes.
func FromVocab(nodes []vocab.Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = Node{
			Name:        n.Name,
			Description: n.Description,
			Terms:       append([]string(nil), n.Terms...),
			Children:    FromVocab(n.Children),
		}
	}
	return out
}

// Leaves lists leaf nodes in depth-first order. A leaf without explicit
// terms is identified by its own name.
func Leaves(nodes []Node) []Leaf {
	var out []Leaf
	var walk func(prefix Path, ns []Node)
	walk = func(prefix Path, ns []Node) {
		for _, n := range ns {
			path := append(append(Path{}, prefix...), n.Name)
			if len(n.Children) > 0 {
				walk(path, n.Children)
				continue
			}
			terms := n.Terms
			if len(terms) == 0 {
				terms = []string{n.Name}
			}
			out = append(out, Leaf{Path: path, Terms: terms})
		}
	}
	walk(nil, nodes)
	return out
}

// Terms returns every leaf term in tree order, without duplicates.
func Terms(nodes []Node) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range Leaves(nodes) {
		for _, t := range l.Terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// TermPaths maps each leaf term to the path of the first leaf that owns it.
func TermPaths(nodes []Node) map[string]Path {
	out := make(map[string]Path)
	for _, l := range Leaves(nodes) {
		for _, t := range l.Terms {
			if _, ok := out[t]; !ok {
				out[t] = l.Path
			}
		}
	}
	return out
}

// MergeTopLevel appends every top-level node of existing whose name is not
// already present in base. Existing nodes are inserted whole; nodes already
// present in base are left untouched.
func MergeTopLevel(base, existing []Node) []Node {
	out := cloneNodes(base)
	present := make(map[string]struct{}, len(out))
	for _, n := range out {
		present[n.Name] = struct{}{}
	}
	for _, n := range existing {
		if n.Name == "" {
			continue
		}
		if _, ok := present[n.Name]; ok {
			continue
		}
		present[n.Name] = struct{}{}
		added := cloneNode(n)
		if added.Description == "" {
			added.Description = fmt.Sprintf("%s相关产品", n.Name)
		}
		out = append(out, added)
	}
	return out
}

// TreeFromPaths builds a tree from flat category rows such as
// {"管道阀门", "控制阀门", "球阀"}. Empty levels end a row early.
func TreeFromPaths(paths [][]string) []Node {
	var roots []Node
	for _, p := range paths {
		roots = insertPath(roots, p)
	}
	return roots
}

// levelHeaders are the alternative column names of category levels 1 to 4
// in flat category files.
var levelHeaders = [][]string{
	{"一级分类", "大类"},
	{"二级分类", "中类"},
	{"三级分类", "小类"},
	{"四级分类"},
}

// CategoryPaths reads flat category rows such as
// {"category_level1": "管道阀门", "category_level2": "控制阀门", ...}.
// Levels are read in order until one is missing; rows without a first
// level are skipped.
func CategoryPaths(recs []record.Record) [][]string {
	var out [][]string
	for _, rec := range recs {
		var path []string
		for i := 0; ; i++ {
			name := levelValue(rec, i)
			if name == "" {
				break
			}
			path = append(path, name)
		}
		if len(path) > 0 {
			out = append(out, path)
		}
	}
	return out
}

func levelValue(rec record.Record, i int) string {
	if v := rec.Get("category_level" + strconv.Itoa(i+1)); v != "" {
		return v
	}
	if i < len(levelHeaders) {
		for _, h := range levelHeaders[i] {
			if v := rec.Get(h); v != "" {
				return v
			}
		}
	}
	return ""
}

func insertPath(nodes []Node, path []string) []Node {
	if len(path) == 0 {
		return nodes
	}
	name := strings.TrimSpace(path[0])
	if name == "" {
		return nodes
	}
	for i := range nodes {
		if nodes[i].Name == name {
			nodes[i].Children = insertPath(nodes[i].Children, path[1:])
			return nodes
		}
	}
	return append(nodes, Node{Name: name, Children: insertPath(nil, path[1:])})
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

func cloneNode(n Node) Node {
	n.Terms = append([]string(nil), n.Terms...)
	n.Children = cloneNodes(n.Children)
	return n
}

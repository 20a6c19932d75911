// Package vocab loads the industry vocabularies that drive recognition,
// template generation and normalization.
//
// A Vocabulary is read once (from the embedded default or a YAML file) and is
// never modified afterwards; callers receive it explicitly and share it across
// goroutines.
package vocab

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Generic is the fallback industry used when no vocabulary scores high enough.
const Generic = "generic"

// Canonical roles a source field can be mapped to.
const (
	RoleName         = "material_name"
	RoleSpec         = "specification"
	RoleManufacturer = "manufacturer"
	RoleCategory     = "category"
)

// RoleOrder is the precedence in which role synonym groups are tested.
var RoleOrder = []string{RoleName, RoleSpec, RoleManufacturer, RoleCategory}

//go:embed default.yaml
var defaultYAML []byte

// ErrUnknownIndustry is returned by Industry lookups for names not in the vocabulary.
var ErrUnknownIndustry = errors.New("unknown industry")

// Attribute is an industry-specific field beyond the four canonical roles.
type Attribute struct {
	Key      string   `yaml:"key"`
	Label    string   `yaml:"label"`
	Synonyms []string `yaml:"synonyms"`
}

// Node is a category node as written in the vocabulary file. Leaves is a
// shorthand for children whose only member term is their own name.
type Node struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Terms       []string `yaml:"terms"`
	Leaves      []string `yaml:"leaves"`
	Children    []Node   `yaml:"children"`
}

// Hierarchy is an industry's canned category tree.
type Hierarchy struct {
	Levels     []string `yaml:"levels"`
	Attributes []string `yaml:"attributes"`
	Nodes      []Node   `yaml:"nodes"`
}

// Extraction names a capture pattern whose first group becomes a parameter.
type Extraction struct {
	Param   string `yaml:"param"`
	Pattern string `yaml:"pattern"`
}

// PatternFamily describes one pattern rule the generator emits for an industry.
type PatternFamily struct {
	Name     string       `yaml:"name"`
	Patterns []string     `yaml:"patterns"`
	Targets  []string     `yaml:"targets"`
	Extract  []Extraction `yaml:"extract"`
	Boost    float64      `yaml:"boost"`
	Weight   float64      `yaml:"weight"`
	Priority int          `yaml:"priority"`
}

// Industry holds everything known about one industry.
type Industry struct {
	Name                 string              `yaml:"name"`
	Threshold            float64             `yaml:"threshold"`
	Keywords             []string            `yaml:"keywords"`
	Patterns             []string            `yaml:"patterns"`
	Units                []string            `yaml:"units"`
	Markers              []string            `yaml:"markers"`
	Standards            []string            `yaml:"standards"`
	ManufacturerSuffixes []string            `yaml:"manufacturer_suffixes"`
	DosageForms          []string            `yaml:"dosage_forms"`
	Roles                map[string][]string `yaml:"roles"`
	Attributes           []Attribute         `yaml:"attributes"`
	Hierarchy            Hierarchy           `yaml:"hierarchy"`
	PatternRules         []PatternFamily     `yaml:"pattern_rules"`

	patterns     []*regexp.Regexp
	unitPatterns []*regexp.Regexp
}

// CompiledPatterns returns the recognition patterns, compiled case-insensitively.
func (ind *Industry) CompiledPatterns() []*regexp.Regexp { return ind.patterns }

// UnitPatterns returns one matcher per unit token requiring a preceding digit.
func (ind *Industry) UnitPatterns() []*regexp.Regexp { return ind.unitPatterns }

// Scored reports whether the industry takes part in industry scoring.
func (ind *Industry) Scored() bool {
	return len(ind.Keywords)+len(ind.Patterns)+len(ind.Units)+len(ind.Markers) > 0
}

// Vocabulary is the immutable set of industry dictionaries.
type Vocabulary struct {
	CompositeWeights map[string]float64 `yaml:"composite_weights"`
	QualityWeights   map[string]float64 `yaml:"quality_weights"`
	Industries       []*Industry        `yaml:"industries"`

	byName map[string]*Industry
}

// Parse decodes and validates a vocabulary document.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if err := v.init(); err != nil {
		return nil, err
	}
	return &v, nil
}

// Load reads a vocabulary from a YAML file.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded vocabulary. It is parsed once per process.
var Default = sync.OnceValues(func() (*Vocabulary, error) {
	return Parse(defaultYAML)
})

// MustDefault is Default for call sites that cannot recover, such as tests.
func MustDefault() *Vocabulary {
	v, err := Default()
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Vocabulary) init() error {
	var errs []string
	v.byName = make(map[string]*Industry, len(v.Industries))

	for _, ind := range v.Industries {
		if ind.Name == "" {
			errs = append(errs, "industry without name")
			continue
		}
		if _, dup := v.byName[ind.Name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate industry %q", ind.Name))
			continue
		}
		v.byName[ind.Name] = ind

		for _, p := range ind.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: pattern %q: %v", ind.Name, p, err))
				continue
			}
			ind.patterns = append(ind.patterns, re)
		}
		for _, u := range ind.Units {
			ind.unitPatterns = append(ind.unitPatterns, regexp.MustCompile(`(?i)\d\s*`+regexp.QuoteMeta(u)))
		}
		for _, fam := range ind.PatternRules {
			for _, p := range fam.Patterns {
				if _, err := regexp.Compile(p); err != nil {
					errs = append(errs, fmt.Sprintf("%s/%s: pattern %q: %v", ind.Name, fam.Name, p, err))
				}
			}
			for _, x := range fam.Extract {
				re, err := regexp.Compile(x.Pattern)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s/%s: extract %q: %v", ind.Name, fam.Name, x.Param, err))
					continue
				}
				if re.NumSubexp() < 1 {
					errs = append(errs, fmt.Sprintf("%s/%s: extract %q has no capture group", ind.Name, fam.Name, x.Param))
				}
			}
		}
		ind.Hierarchy.Nodes = expandLeaves(ind.Hierarchy.Nodes)
	}

	if _, ok := v.byName[Generic]; !ok {
		errs = append(errs, "missing generic industry")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid vocabulary:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// expandLeaves turns the Leaves shorthand into child nodes.
func expandLeaves(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		children := expandLeaves(n.Children)
		for _, leaf := range n.Leaves {
			children = append(children, Node{Name: leaf, Terms: []string{leaf}})
		}
		n.Children = children
		n.Leaves = nil
		out[i] = n
	}
	return out
}

// Industry returns the named industry.
func (v *Vocabulary) Industry(name string) (*Industry, error) {
	ind, ok := v.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndustry, name)
	}
	return ind, nil
}

// IndustryOrGeneric returns the named industry, falling back to generic.
func (v *Vocabulary) IndustryOrGeneric(name string) *Industry {
	if ind, ok := v.byName[name]; ok {
		return ind
	}
	return v.byName[Generic]
}

// Names returns industry names in vocabulary order.
func (v *Vocabulary) Names() []string {
	out := make([]string, len(v.Industries))
	for i, ind := range v.Industries {
		out[i] = ind.Name
	}
	return out
}

// CompositeWeight returns the base importance of a role for composite rules.
func (v *Vocabulary) CompositeWeight(role string) float64 {
	if w, ok := v.CompositeWeights[role]; ok {
		return w
	}
	return v.CompositeWeights["default"]
}

package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Family tags the kind of matching logic a Rule carries.
type Family string

const (
	FamilyKeyword    Family = "keyword"
	FamilyPattern    Family = "pattern"
	FamilySimilarity Family = "similarity"
	FamilyComposite  Family = "composite"
)

// Similarity reference sources.
const (
	ReferenceCategoryTerms = "category_terms"
	ReferenceFieldValues   = "field_values"
)

// ErrInvalidRule is returned when a rule's payload does not match its family.
var ErrInvalidRule = errors.New("invalid rule")

// Assignment places a matching record into a category.
type Assignment struct {
	Path  Path    `json:"path"`
	Boost float64 `json:"confidence_boost"`
}

// KeywordRule matches when enough of its terms occur in the target texts.
type KeywordRule struct {
	Terms          []string   `json:"terms"`
	Targets        []string   `json:"targets"`
	MatchThreshold float64    `json:"match_threshold"`
	Assign         Assignment `json:"assign"`
}

// Extraction names a capture pattern whose first group becomes a parameter.
type Extraction struct {
	Param   string `json:"param"`
	Pattern string `json:"pattern"`
}

// PatternRule matches structured tokens and extracts named parameters.
type PatternRule struct {
	Name     string       `json:"name"`
	Patterns []string     `json:"patterns"`
	Targets  []string     `json:"targets"`
	Extract  []Extraction `json:"extract,omitempty"`
	Boost    float64      `json:"confidence_boost"`
}

// SimilarityRule delegates scoring to an external similarity function.
type SimilarityRule struct {
	Method              string   `json:"method"`
	Targets             []string `json:"targets"`
	MinSimilarity       float64  `json:"min_similarity"`
	Reference           string   `json:"reference"`
	Algorithm           string   `json:"algorithm,omitempty"`
	ThresholdAdjustment float64  `json:"threshold_adjustment,omitempty"`
	Boost               float64  `json:"confidence_boost"`
}

// CompositeRule matches when enough of a field combination is populated.
type CompositeRule struct {
	Fields       []string           `json:"fields"`
	MinPresence  float64            `json:"min_presence"`
	FieldWeights map[string]float64 `json:"field_weights"`
}

// Rule is a tagged union: exactly one of the variant pointers is set and it
// matches Family.
type Rule struct {
	ID       string
	Family   Family
	Priority int
	Weight   float64
	Enabled  bool

	Keyword    *KeywordRule
	Pattern    *PatternRule
	Similarity *SimilarityRule
	Composite  *CompositeRule
}

// Validate checks that the payload matches the family tag.
func (r Rule) Validate() error {
	set := 0
	for _, present := range []bool{r.Keyword != nil, r.Pattern != nil, r.Similarity != nil, r.Composite != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: rule %s has %d payloads", ErrInvalidRule, r.ID, set)
	}

	ok := false
	switch r.Family {
	case FamilyKeyword:
		ok = r.Keyword != nil
	case FamilyPattern:
		ok = r.Pattern != nil
	case FamilySimilarity:
		ok = r.Similarity != nil
	case FamilyComposite:
		ok = r.Composite != nil && len(r.Composite.Fields) > 0
	default:
		return fmt.Errorf("%w: rule %s has unknown family %q", ErrInvalidRule, r.ID, r.Family)
	}
	if !ok {
		return fmt.Errorf("%w: rule %s payload does not match family %s", ErrInvalidRule, r.ID, r.Family)
	}
	return nil
}

// Boost returns the confidence boost the rule adds when it contributes.
func (r Rule) Boost() float64 {
	switch {
	case r.Keyword != nil:
		return r.Keyword.Assign.Boost
	case r.Pattern != nil:
		return r.Pattern.Boost
	case r.Similarity != nil:
		return r.Similarity.Boost
	}
	return 0
}

// Assignment returns the category the rule votes for, if any.
func (r Rule) Assignment() (Path, bool) {
	if r.Keyword != nil && len(r.Keyword.Assign.Path) > 0 {
		return r.Keyword.Assign.Path, true
	}
	return nil, false
}

type ruleJSON struct {
	ID       string          `json:"id"`
	Family   Family          `json:"family"`
	Priority int             `json:"priority"`
	Weight   float64         `json:"weight"`
	Enabled  bool            `json:"enabled"`
	Payload  json.RawMessage `json:"payload"`
}

// MarshalJSON writes the rule with its family as discriminator.
func (r Rule) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var payload any
	switch r.Family {
	case FamilyKeyword:
		payload = r.Keyword
	case FamilyPattern:
		payload = r.Pattern
	case FamilySimilarity:
		payload = r.Similarity
	case FamilyComposite:
		payload = r.Composite
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:       r.ID,
		Family:   r.Family,
		Priority: r.Priority,
		Weight:   r.Weight,
		Enabled:  r.Enabled,
		Payload:  raw,
	})
}

// UnmarshalJSON decodes the payload variant selected by the family field.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var env ruleJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	out := Rule{
		ID:       env.ID,
		Family:   env.Family,
		Priority: env.Priority,
		Weight:   env.Weight,
		Enabled:  env.Enabled,
	}

	var target any
	switch env.Family {
	case FamilyKeyword:
		out.Keyword = &KeywordRule{}
		target = out.Keyword
	case FamilyPattern:
		out.Pattern = &PatternRule{}
		target = out.Pattern
	case FamilySimilarity:
		out.Similarity = &SimilarityRule{}
		target = out.Similarity
	case FamilyComposite:
		out.Composite = &CompositeRule{}
		target = out.Composite
	default:
		return fmt.Errorf("%w: unknown family %q", ErrInvalidRule, env.Family)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: rule %s has no payload", ErrInvalidRule, env.ID)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, env.ID, err)
	}
	if err := out.Validate(); err != nil {
		return err
	}

	*r = out
	return nil
}

// clone returns a deep copy of the rule.
func (r Rule) clone() Rule {
	if r.Keyword != nil {
		k := *r.Keyword
		k.Terms = append([]string(nil), k.Terms...)
		k.Targets = append([]string(nil), k.Targets...)
		k.Assign.Path = append(Path(nil), k.Assign.Path...)
		r.Keyword = &k
	}
	if r.Pattern != nil {
		p := *r.Pattern
		p.Patterns = append([]string(nil), p.Patterns...)
		p.Targets = append([]string(nil), p.Targets...)
		p.Extract = append([]Extraction(nil), p.Extract...)
		r.Pattern = &p
	}
	if r.Similarity != nil {
		s := *r.Similarity
		s.Targets = append([]string(nil), s.Targets...)
		r.Similarity = &s
	}
	if r.Composite != nil {
		c := *r.Composite
		c.Fields = append([]string(nil), c.Fields...)
		c.FieldWeights = make(map[string]float64, len(r.Composite.FieldWeights))
		for k, v := range r.Composite.FieldWeights {
			c.FieldWeights[k] = v
		}
		r.Composite = &c
	}
	return r
}

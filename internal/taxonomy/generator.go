package taxonomy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/similarity"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// Rule synthesis constants.
const (
	keywordPriority  = 8
	keywordWeight    = 0.4
	keywordThreshold = 0.7
	keywordBoost     = 0.2

	tfidfPriority = 6
	tfidfWeight   = 0.25
	tfidfMin      = 0.6

	fuzzyPriority = 5
	fuzzyWeight   = 0.15
	fuzzyMin      = 0.8
	fuzzyBoost    = 0.1

	compositePriority  = 9
	compositeWeight    = 0.35
	compositeFrequency = 0.3

	// compositeSampleSize bounds how many records feed field-combination analysis.
	compositeSampleSize = 100

	confidentSchema  = 0.8
	uncertainSchema  = 0.6
	confidentShift   = -0.05
	uncertainShift   = 0.10
	highQuality      = 0.8
	lowQuality       = 0.5
	exactNameNudge   = 0.10
	exactSpecNudge   = 0.05
	tolerantCatNudge = 0.10
	tolerantMfrNudge = 0.05
)

var keywordTargets = []string{vocab.RoleName, vocab.RoleSpec, vocab.RoleCategory}

// Generator synthesizes Templates from Schemas.
type Generator struct {
	vocab  *vocab.Vocabulary
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a Generator. A nil logger uses slog.Default.
func NewGenerator(v *vocab.Vocabulary, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{vocab: v, logger: logger, now: time.Now}
}

// Generate builds a template for sch. existing top-level categories missing
// from the industry's canned tree are added; sample, when present, drives
// composite rule synthesis. The result depends only on the inputs, apart from
// its timestamps.
func (g *Generator) Generate(sch *schema.Schema, existing []Node, sample []record.Record) (*Template, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: nil schema", schema.ErrInvalidInput)
	}
	ind := g.vocab.IndustryOrGeneric(sch.Industry)

	now := g.now().UTC()
	id := TemplateID(ind.Name, sch.SourceID)
	tpl := &Template{
		Version:      Version,
		ID:           id,
		Industry:     ind.Name,
		SourceID:     sch.SourceID,
		Name:         ind.Name + " classification template",
		Levels:       append([]string(nil), ind.Hierarchy.Levels...),
		Attributes:   append([]string(nil), ind.Hierarchy.Attributes...),
		Tree:         MergeTopLevel(FromVocab(ind.Hierarchy.Nodes), existing),
		FieldMapping: g.fieldMapping(ind, sch),
		Threshold:    threshold(ind.Threshold, sch.Confidence),
		Revision:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tpl.QualityWeights = g.qualityWeights(sch.Quality.Score)

	var rules []Rule
	rules = append(rules, keywordRules(tpl.Tree)...)
	rules = append(rules, patternRules(ind)...)
	rules = append(rules, similarityRules(sch.Confidence)...)
	if len(sample) > 0 {
		rules = append(rules, g.compositeRules(sch, sample)...)
	}
	for i := range rules {
		rules[i].ID = RuleID(id, i)
	}
	tpl.Rules = rules

	g.logger.Info("template generated",
		"template", id,
		"industry", ind.Name,
		"rules", len(rules),
		"threshold", tpl.Threshold,
	)
	return tpl, nil
}

// fieldMapping combines the schema's roles with the industry attributes.
// Attributes without a matching source field map to their label.
func (g *Generator) fieldMapping(ind *vocab.Industry, sch *schema.Schema) map[string]string {
	mapping := sch.RoleFields()

	lower := make(map[string]string, len(sch.Fields))
	for _, f := range sch.Fields {
		lower[strings.ToLower(f)] = f
	}
	for _, attr := range ind.Attributes {
		mapping[attr.Key] = attr.Label
		for _, syn := range attr.Synonyms {
			if f, ok := lower[strings.ToLower(syn)]; ok {
				mapping[attr.Key] = f
				break
			}
		}
	}
	return mapping
}

func threshold(base, schemaConfidence float64) float64 {
	switch {
	case schemaConfidence > confidentSchema:
		base += confidentShift
	case schemaConfidence < uncertainSchema:
		base += uncertainShift
	}
	return clamp01(base)
}

// qualityWeights favors exact-match dimensions for clean data and tolerant
// dimensions for noisy data.
func (g *Generator) qualityWeights(quality float64) QualityWeights {
	base := g.vocab.QualityWeights
	q := QualityWeights{
		Name:          base["name"],
		Specification: base["specification"],
		Category:      base["category"],
		Manufacturer:  base["manufacturer"],
		Technical:     base["technical"],
	}
	switch {
	case quality > highQuality:
		q.Name += exactNameNudge
		q.Specification += exactSpecNudge
	case quality < lowQuality:
		q.Category += tolerantCatNudge
		q.Manufacturer += tolerantMfrNudge
	}
	return q.Normalized()
}

func keywordRules(tree []Node) []Rule {
	leaves := Leaves(tree)
	rules := make([]Rule, 0, len(leaves))
	for _, leaf := range leaves {
		rules = append(rules, Rule{
			Family:   FamilyKeyword,
			Priority: keywordPriority,
			Weight:   keywordWeight,
			Enabled:  true,
			Keyword: &KeywordRule{
				Terms:          append([]string(nil), leaf.Terms...),
				Targets:        append([]string(nil), keywordTargets...),
				MatchThreshold: keywordThreshold,
				Assign:         Assignment{Path: leaf.Path, Boost: keywordBoost},
			},
		})
	}
	return rules
}

func patternRules(ind *vocab.Industry) []Rule {
	rules := make([]Rule, 0, len(ind.PatternRules))
	for _, fam := range ind.PatternRules {
		extract := make([]Extraction, len(fam.Extract))
		for i, x := range fam.Extract {
			extract[i] = Extraction{Param: x.Param, Pattern: x.Pattern}
		}
		rules = append(rules, Rule{
			Family:   FamilyPattern,
			Priority: fam.Priority,
			Weight:   fam.Weight,
			Enabled:  true,
			Pattern: &PatternRule{
				Name:     fam.Name,
				Patterns: append([]string(nil), fam.Patterns...),
				Targets:  append([]string(nil), fam.Targets...),
				Extract:  extract,
				Boost:    fam.Boost,
			},
		})
	}
	return rules
}

func similarityRules(schemaConfidence float64) []Rule {
	return []Rule{
		{
			Family:   FamilySimilarity,
			Priority: tfidfPriority,
			Weight:   tfidfWeight,
			Enabled:  true,
			Similarity: &SimilarityRule{
				Method:              similarity.TFIDFCosine,
				Targets:             []string{vocab.RoleName, vocab.RoleSpec},
				MinSimilarity:       tfidfMin,
				Reference:           ReferenceCategoryTerms,
				Algorithm:           "advanced_matcher",
				ThresholdAdjustment: schemaConfidence,
			},
		},
		{
			Family:   FamilySimilarity,
			Priority: fuzzyPriority,
			Weight:   fuzzyWeight,
			Enabled:  true,
			Similarity: &SimilarityRule{
				Method:        similarity.FuzzyString,
				Targets:       []string{vocab.RoleManufacturer},
				MinSimilarity: fuzzyMin,
				Reference:     ReferenceFieldValues,
				Algorithm:     "manufacturer_matching",
				Boost:         fuzzyBoost,
			},
		},
	}
}

// compositeRules emits one rule per 2- or 3-field combination that is fully
// populated in more than compositeFrequency of the sample.
func (g *Generator) compositeRules(sch *schema.Schema, sample []record.Record) []Rule {
	if len(sample) > compositeSampleSize {
		sample = sample[:compositeSampleSize]
	}

	counts := make(map[string]int)
	for _, rec := range sample {
		var populated []string
		for _, f := range rec.Fields() {
			if rec.Get(f) != "" {
				populated = append(populated, f)
			}
		}
		for _, combo := range combinations(populated) {
			counts[strings.Join(combo, "\x1f")]++
		}
	}

	type candidate struct {
		fields []string
		freq   float64
	}
	var cands []candidate
	for key, c := range counts {
		freq := float64(c) / float64(len(sample))
		if freq > compositeFrequency {
			cands = append(cands, candidate{fields: strings.Split(key, "\x1f"), freq: freq})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if len(cands[i].fields) != len(cands[j].fields) {
			return len(cands[i].fields) < len(cands[j].fields)
		}
		return strings.Join(cands[i].fields, "\x1f") < strings.Join(cands[j].fields, "\x1f")
	})

	rules := make([]Rule, 0, len(cands))
	for _, c := range cands {
		rules = append(rules, Rule{
			Family:   FamilyComposite,
			Priority: compositePriority,
			Weight:   compositeWeight,
			Enabled:  true,
			Composite: &CompositeRule{
				Fields:       c.fields,
				MinPresence:  c.freq,
				FieldWeights: g.fieldWeights(sch, c.fields),
			},
		})
	}
	return rules
}

// combinations returns every 2- and 3-element subset of sorted fields, each
// in sorted order.
func combinations(fields []string) [][]string {
	var out [][]string
	n := len(fields)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, []string{fields[i], fields[j]})
			for k := j + 1; k < n; k++ {
				out = append(out, []string{fields[i], fields[j], fields[k]})
			}
		}
	}
	return out
}

// fieldWeights normalizes base role importance over a field combination.
func (g *Generator) fieldWeights(sch *schema.Schema, fields []string) map[string]float64 {
	weights := make(map[string]float64, len(fields))
	total := 0.0
	for _, f := range fields {
		role, ok := sch.Roles[f]
		if !ok {
			role = f
		}
		w := g.vocab.CompositeWeight(role)
		weights[f] = w
		total += w
	}
	if total > 0 {
		for f := range weights {
			weights[f] /= total
		}
	}
	return weights
}

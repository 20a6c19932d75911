// Package engine executes a template's rules against a normalized record and
// aggregates them into a ranked category decision.
//
// Every enabled rule is evaluated; priority only orders evaluation. Each
// contributing rule adds score*weight to the total score, its weight to the
// total weight and its boost to the boost sum. Keyword rules additionally vote
// for their (level1, level2) bucket. Confidence is
// min(1, total_score/total_weight + boost_sum).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/categorizer/internal/adapter"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/similarity"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

const maxAlternatives = 3

// Engine evaluates templates. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	scorer similarity.Scorer
	logger *slog.Logger

	// compiled caches regexps by source; patterns come from templates and
	// repeat across every record of a batch.
	compiled sync.Map
}

// New creates an Engine. A nil scorer uses the built-in similarity functions;
// a nil logger uses slog.Default.
func New(scorer similarity.Scorer, logger *slog.Logger) *Engine {
	if scorer == nil {
		scorer = similarity.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{scorer: scorer, logger: logger}
}

// evaluation carries lazily computed, per-call lookups.
type evaluation struct {
	feats adapter.Features
	tpl   *taxonomy.Template
	sch   *schema.Schema
	terms []string
}

func (ev *evaluation) categoryTerms() []string {
	if ev.terms == nil {
		ev.terms = taxonomy.Terms(ev.tpl.Tree)
	}
	return ev.terms
}

type vote struct {
	score float64
	count int
	best  taxonomy.Path
	top   float64
}

// Classify runs every enabled rule of tpl against feats. It never fails;
// rule errors are logged and recorded in the trace.
func (e *Engine) Classify(ctx context.Context, feats adapter.Features, tpl *taxonomy.Template, sch *schema.Schema) Result {
	start := time.Now()
	logger := logging.Enrich(ctx, e.logger)

	res := Result{
		RecordID:   feats.RecordID,
		Industry:   tpl.Industry,
		TemplateID: tpl.ID,
		Params:     make(map[string]string, len(feats.Params)),
	}
	if sch != nil {
		res.SchemaConfidence = sch.Confidence
	}
	for k, v := range feats.Params {
		res.Params[k] = v
	}

	ev := &evaluation{feats: feats, tpl: tpl, sch: sch}
	votes := make(map[string]*vote)
	var order []string

	for _, rule := range orderedRules(tpl.Rules) {
		res.Trace.RulesEvaluated++

		match, ok, err := e.evaluate(ev, rule)
		if err != nil {
			rerr := &RuleEvaluationError{RuleID: rule.ID, Family: rule.Family, Err: err}
			logger.Warn("rule skipped", "record_id", feats.RecordID, "error", rerr)
			res.Trace.Errors = append(res.Trace.Errors, rerr.Error())
			continue
		}
		if !ok {
			continue
		}

		weighted := match.Score * match.Weight
		res.Trace.RulesMatched++
		res.Trace.TotalScore += weighted
		res.Trace.TotalWeight += match.Weight
		res.Trace.BoostSum += match.Boost
		res.Trace.Matches = append(res.Trace.Matches, match)
		for k, v := range match.Params {
			res.Params[k] = v
		}

		if path, ok := rule.Assignment(); ok {
			key := path.VoteKey()
			v, seen := votes[key]
			if !seen {
				v = &vote{}
				votes[key] = v
				order = append(order, key)
			}
			v.score += weighted
			v.count++
			if v.best == nil || weighted > v.top {
				v.best, v.top = path, weighted
			}
		}
	}

	e.finish(&res, votes, order)
	res.BelowThreshold = res.Confidence < tpl.Threshold
	res.Latency = time.Since(start)
	return res
}

// finish turns the accumulated trace and votes into the decision.
func (e *Engine) finish(res *Result, votes map[string]*vote, order []string) {
	t := &res.Trace
	if t.RulesMatched == 0 || t.TotalWeight == 0 {
		res.Category = taxonomy.Path{MarkerUnclassified}
		res.Status = StatusUnclassified
		res.Confidence = 0
		return
	}

	t.BaseConfidence = t.TotalScore / t.TotalWeight
	res.Confidence = math.Min(1, t.BaseConfidence+t.BoostSum)

	if len(order) == 0 {
		res.Category = taxonomy.Path{MarkerUnassigned}
		res.Status = StatusUnassigned
		return
	}

	// Stable sort keeps first-voted order among equal scores.
	ranked := append([]string(nil), order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return votes[ranked[i]].score > votes[ranked[j]].score
	})

	winner := votes[ranked[0]]
	res.Category = append(taxonomy.Path(nil), winner.best...)
	res.Status = StatusClassified

	for _, key := range ranked[1:] {
		if len(res.Alternatives) == maxAlternatives {
			break
		}
		v := votes[key]
		res.Alternatives = append(res.Alternatives, Alternative{
			Category: append(taxonomy.Path(nil), v.best...),
			Score:    v.score,
			Votes:    v.count,
		})
	}
}

// orderedRules returns the enabled rules by descending priority, keeping
// template order among equal priorities.
func orderedRules(rules []taxonomy.Rule) []taxonomy.Rule {
	out := make([]taxonomy.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// evaluate scores one rule. ok reports whether the rule contributes.
func (e *Engine) evaluate(ev *evaluation, rule taxonomy.Rule) (RuleMatch, bool, error) {
	if err := rule.Validate(); err != nil {
		return RuleMatch{}, false, err
	}

	match := RuleMatch{
		RuleID: rule.ID,
		Family: rule.Family,
		Weight: rule.Weight,
		Boost:  rule.Boost(),
	}

	var (
		ok  bool
		err error
	)
	switch rule.Family {
	case taxonomy.FamilyKeyword:
		ok = e.keyword(ev, rule.Keyword, &match)
	case taxonomy.FamilyPattern:
		ok, err = e.pattern(ev, rule.Pattern, &match)
	case taxonomy.FamilySimilarity:
		ok, err = e.similarity(ev, rule.Similarity, &match)
	case taxonomy.FamilyComposite:
		ok = e.composite(ev, rule.Composite, &match)
	}
	if err != nil || !ok {
		return RuleMatch{}, false, err
	}
	if path, assigned := rule.Assignment(); assigned {
		match.Category = path
	}
	return match, true, nil
}

// targetTexts returns the non-empty normalized texts of the given roles.
func targetTexts(f adapter.Features, roles []string) []string {
	var out []string
	for _, role := range roles {
		if t := f.Text(role); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) keyword(ev *evaluation, kw *taxonomy.KeywordRule, match *RuleMatch) bool {
	if len(kw.Terms) == 0 {
		return false
	}
	parts := append(append([]string(nil), ev.feats.Keywords...), targetTexts(ev.feats, kw.Targets)...)
	text := strings.ToLower(strings.Join(parts, " "))

	for _, term := range kw.Terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			match.Matched = append(match.Matched, term)
		}
	}
	match.Score = float64(len(match.Matched)) / float64(len(kw.Terms))
	return match.Score > 0 && match.Score >= kw.MatchThreshold
}

func (e *Engine) pattern(ev *evaluation, pr *taxonomy.PatternRule, match *RuleMatch) (bool, error) {
	if len(pr.Patterns) == 0 {
		return false, nil
	}
	text := strings.Join(targetTexts(ev.feats, pr.Targets), " ")

	hits := 0
	for _, p := range pr.Patterns {
		re, err := e.regexp(p)
		if err != nil {
			return false, err
		}
		if re.MatchString(text) {
			hits++
			match.Matched = append(match.Matched, p)
		}
	}
	match.Score = float64(hits) / float64(len(pr.Patterns))
	if match.Score == 0 {
		return false, nil
	}

	for _, x := range pr.Extract {
		re, err := e.regexp(x.Pattern)
		if err != nil {
			return false, err
		}
		if sm := re.FindStringSubmatch(text); len(sm) > 1 {
			if match.Params == nil {
				match.Params = make(map[string]string)
			}
			match.Params[x.Param] = sm[1]
		}
	}
	return true, nil
}

func (e *Engine) similarity(ev *evaluation, sr *taxonomy.SimilarityRule, match *RuleMatch) (bool, error) {
	var texts, refs []string
	switch sr.Reference {
	case taxonomy.ReferenceCategoryTerms, "":
		texts = targetTexts(ev.feats, sr.Targets)
		refs = ev.categoryTerms()
	case taxonomy.ReferenceFieldValues:
		// Frequent values are raw source text, so compare against the raw
		// field rather than the adapter's normalized form.
		texts = rawTexts(ev.feats.Raw, ev.tpl.FieldMapping, sr.Targets)
		refs = fieldValues(ev.sch, sr.Targets)
	default:
		return false, fmt.Errorf("unknown similarity reference %q", sr.Reference)
	}
	if len(texts) == 0 || len(refs) == 0 {
		return false, nil
	}

	best, bestRef := 0.0, ""
	for _, t := range texts {
		for _, ref := range refs {
			s, err := e.scorer.Similarity(t, ref, sr.Method)
			if err != nil {
				return false, err
			}
			if s > best {
				best, bestRef = s, ref
			}
		}
	}
	match.Score = best
	if bestRef != "" {
		match.Matched = []string{bestRef}
	}
	return best > 0 && best >= sr.MinSimilarity, nil
}

// rawTexts returns the folded raw values of the fields mapped to roles.
func rawTexts(rec record.Record, mapping map[string]string, roles []string) []string {
	var out []string
	for _, role := range roles {
		if v := adapter.Fold(rec.Get(mapping[role])); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// fieldValues returns the folded frequent values of the fields mapped to roles.
func fieldValues(sch *schema.Schema, roles []string) []string {
	if sch == nil {
		return nil
	}
	var out []string
	for _, role := range roles {
		field, ok := sch.FieldFor(role)
		if !ok {
			continue
		}
		for _, v := range sch.TopValues(field) {
			out = append(out, adapter.Fold(v))
		}
	}
	return out
}

func (e *Engine) composite(ev *evaluation, cr *taxonomy.CompositeRule, match *RuleMatch) bool {
	for _, f := range cr.Fields {
		if ev.feats.Raw.Get(f) != "" {
			match.Matched = append(match.Matched, f)
		}
	}
	match.Score = float64(len(match.Matched)) / float64(len(cr.Fields))
	return match.Score > 0 && match.Score >= cr.MinPresence
}

// regexp compiles pattern case-insensitively, caching the result.
func (e *Engine) regexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.compiled.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	actual, _ := e.compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

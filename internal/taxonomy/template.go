// Package taxonomy builds classification templates: a category hierarchy
// plus the weighted rules that place records into it.
package taxonomy

import (
	"math"
	"strconv"
	"time"
)

// Version is the document version written with every persisted Template.
const Version = 1

// QualityWeights distributes matching emphasis over five dimensions. The
// weights of a generated template sum to 1.
type QualityWeights struct {
	Name          float64 `json:"name"`
	Specification float64 `json:"specification"`
	Category      float64 `json:"category"`
	Manufacturer  float64 `json:"manufacturer"`
	Technical     float64 `json:"technical"`
}

// Sum returns the total weight.
func (q QualityWeights) Sum() float64 {
	return q.Name + q.Specification + q.Category + q.Manufacturer + q.Technical
}

// Normalized rescales the weights to sum to 1. A zero vector is returned as is.
func (q QualityWeights) Normalized() QualityWeights {
	s := q.Sum()
	if s == 0 {
		return q
	}
	return QualityWeights{
		Name:          q.Name / s,
		Specification: q.Specification / s,
		Category:      q.Category / s,
		Manufacturer:  q.Manufacturer / s,
		Technical:     q.Technical / s,
	}
}

// Template is a generated classification configuration for one source.
type Template struct {
	Version        int               `json:"schema_version"`
	ID             string            `json:"id"`
	Industry       string            `json:"industry"`
	SourceID       string            `json:"source_id"`
	Name           string            `json:"name"`
	Levels         []string          `json:"levels"`
	Attributes     []string          `json:"classification_attributes,omitempty"`
	Tree           []Node            `json:"tree"`
	FieldMapping   map[string]string `json:"field_mapping"`
	Rules          []Rule            `json:"rules"`
	QualityWeights QualityWeights    `json:"quality_weights"`
	Threshold      float64           `json:"confidence_threshold"`
	Revision       int               `json:"revision"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TemplateID derives a template identifier from industry and source.
func TemplateID(industry, sourceID string) string {
	return industry + "_" + sourceID
}

// RuleID derives the identifier of the i-th rule of a template.
func RuleID(templateID string, i int) string {
	return templateID + "_rule_" + strconv.Itoa(i)
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Template) Clone() *Template {
	out := *t
	out.Levels = append([]string(nil), t.Levels...)
	out.Attributes = append([]string(nil), t.Attributes...)
	out.Tree = cloneNodes(t.Tree)
	out.FieldMapping = make(map[string]string, len(t.FieldMapping))
	for k, v := range t.FieldMapping {
		out.FieldMapping[k] = v
	}
	out.Rules = make([]Rule, len(t.Rules))
	for i, r := range t.Rules {
		out.Rules[i] = r.clone()
	}
	return &out
}

// Feedback summarizes how a template performed on reviewed results.
// Records is the number of reviewed records; zero counts as one.
type Feedback struct {
	Accuracy     float64  `json:"accuracy"`
	Records      int      `json:"records,omitempty"`
	CommonErrors []string `json:"common_errors"`
}

// Performance is one recorded application of a template revision.
type Performance struct {
	TemplateID   string    `json:"template_id"`
	Revision     int       `json:"revision"`
	Accuracy     float64   `json:"accuracy"`
	Records      int       `json:"records"`
	CommonErrors []string  `json:"common_errors,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Aggregate folds a performance history into one Feedback: accuracy is
// weighted by record count and common errors are deduplicated in order of
// first appearance. An empty history yields the zero Feedback.
func Aggregate(history []Performance) Feedback {
	var (
		fb     Feedback
		sum    float64
		weight int
		seen   = make(map[string]struct{})
	)
	for _, p := range history {
		w := max(p.Records, 1)
		sum += p.Accuracy * float64(w)
		weight += w
		fb.Records += p.Records
		for _, e := range p.CommonErrors {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			fb.CommonErrors = append(fb.CommonErrors, e)
		}
	}
	if weight > 0 {
		fb.Accuracy = sum / float64(weight)
	}
	return fb
}

const (
	lowAccuracy      = 0.7
	highAccuracy     = 0.9
	errorCountLimit  = 10
	keywordReweight  = 1.1
	similarityDamper = 0.9
	thresholdRaise   = 0.05
	thresholdRelax   = 0.02
)

// Optimize returns a new revision of t adjusted by feedback. t itself is not
// modified.
func Optimize(t *Template, fb Feedback, now time.Time) *Template {
	out := t.Clone()

	if fb.Accuracy < lowAccuracy {
		for i := range out.Rules {
			switch out.Rules[i].Family {
			case FamilyKeyword:
				out.Rules[i].Weight *= keywordReweight
			case FamilySimilarity:
				out.Rules[i].Weight *= similarityDamper
			}
		}
	}

	switch {
	case len(fb.CommonErrors) > errorCountLimit:
		out.Threshold = clamp01(out.Threshold + thresholdRaise)
	case fb.Accuracy > highAccuracy:
		out.Threshold = clamp01(out.Threshold - thresholdRelax)
	}

	out.Revision++
	out.UpdatedAt = now.UTC()
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

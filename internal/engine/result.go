package engine

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

// Status describes how a classification ended.
type Status string

const (
	StatusClassified   Status = "classified"
	StatusUnassigned   Status = "unassigned"
	StatusUnclassified Status = "unclassified"
	StatusFailed       Status = "failed"
)

// Category markers used in place of a real category path.
const (
	MarkerUnclassified = "unclassified"
	MarkerUnassigned   = "unassigned"
	MarkerFailed       = "classification_failed"
)

// RuleMatch records one contributing rule.
type RuleMatch struct {
	RuleID   string            `json:"rule_id"`
	Family   taxonomy.Family   `json:"family"`
	Score    float64           `json:"score"`
	Weight   float64           `json:"weight"`
	Boost    float64           `json:"confidence_boost"`
	Category taxonomy.Path     `json:"category,omitempty"`
	Matched  []string          `json:"matched,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Trace summarizes how the confidence was reached.
type Trace struct {
	RulesEvaluated int         `json:"rules_evaluated"`
	RulesMatched   int         `json:"rules_matched"`
	TotalScore     float64     `json:"total_score"`
	TotalWeight    float64     `json:"total_weight"`
	BoostSum       float64     `json:"boost_sum"`
	BaseConfidence float64     `json:"base_confidence"`
	Matches        []RuleMatch `json:"matches,omitempty"`
	Errors         []string    `json:"errors,omitempty"`
}

// Alternative is a runner-up category.
type Alternative struct {
	Category taxonomy.Path `json:"category"`
	Score    float64       `json:"score"`
	Votes    int           `json:"votes"`
}

// Result is the outcome of classifying one record.
type Result struct {
	RecordID         string            `json:"record_id"`
	SchemaConfidence float64           `json:"schema_confidence"`
	Industry         string            `json:"industry"`
	TemplateID       string            `json:"template_id"`
	Category         taxonomy.Path     `json:"category"`
	Status           Status            `json:"status"`
	Confidence       float64           `json:"confidence"`
	BelowThreshold   bool              `json:"below_threshold"`
	Params           map[string]string `json:"params,omitempty"`
	Trace            Trace             `json:"trace"`
	Alternatives     []Alternative     `json:"alternatives,omitempty"`
	Latency          time.Duration     `json:"latency_ns"`
	Error            string            `json:"error,omitempty"`
}

// Failed reports whether the record could not be classified at all.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// FailedResult builds the degraded result returned for records that cannot
// be classified. tpl may be nil.
func FailedResult(recordID string, tpl *taxonomy.Template, schemaConfidence float64, err error) Result {
	res := Result{
		RecordID:         recordID,
		SchemaConfidence: schemaConfidence,
		Category:         taxonomy.Path{MarkerFailed},
		Status:           StatusFailed,
	}
	if tpl != nil {
		res.Industry = tpl.Industry
		res.TemplateID = tpl.ID
	}
	if err != nil {
		res.Error = err.Error()
		res.Trace.Errors = []string{err.Error()}
	}
	return res
}

// RuleEvaluationError is reported when a single rule cannot be evaluated.
// The rule is skipped and classification continues.
type RuleEvaluationError struct {
	RuleID string
	Family taxonomy.Family
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s (%s): %v", e.RuleID, e.Family, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// Package schema infers a structural and industry profile from a sample of
// records.
//
// A Schema is created once per structural fingerprint and never modified;
// re-recognizing a changed source produces a new Schema rather than updating
// the old one.
package schema

import (
	"errors"
	"time"
)

// Version is the document version written with every persisted Schema.
const Version = 1

// ErrInvalidInput is returned when the sample cannot be profiled.
var ErrInvalidInput = errors.New("invalid input")

// FieldType is the inferred value type of a source field.
type FieldType string

const (
	Numeric     FieldType = "numeric"
	Categorical FieldType = "categorical"
	Text        FieldType = "text"
	Unknown     FieldType = "unknown"
)

// LengthStats summarizes string lengths, in runes, of a field's non-empty values.
type LengthStats struct {
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// NamingStats describes how values of a field are written.
type NamingStats struct {
	Length     LengthStats `json:"length"`
	HasDigits  bool        `json:"contains_digits"`
	HasUnit    bool        `json:"contains_unit"`
	HasSpecial bool        `json:"contains_special"`
}

// ValueCount is one entry of a top-k frequency list.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ValueDistribution summarizes the values of a field over the whole sample.
type ValueDistribution struct {
	NonEmpty    int          `json:"non_empty"`
	Cardinality int          `json:"cardinality"`
	NullRatio   float64      `json:"null_ratio"`
	Top         []ValueCount `json:"top"`
}

// Quality holds the sample's data quality metrics.
type Quality struct {
	Completeness      float64            `json:"completeness"`
	Consistency       float64            `json:"consistency"`
	Score             float64            `json:"score"`
	FieldCompleteness map[string]float64 `json:"field_completeness"`
}

// Schema is the inferred profile of a record source.
type Schema struct {
	Version        int                          `json:"schema_version"`
	SourceID       string                       `json:"source_id"`
	Fingerprint    string                       `json:"fingerprint"`
	Industry       string                       `json:"industry"`
	Confidence     float64                      `json:"confidence"`
	IndustryScores map[string]float64           `json:"industry_scores"`
	Fields         []string                     `json:"fields"`
	FieldTypes     map[string]FieldType         `json:"field_types"`
	Naming         map[string]NamingStats       `json:"naming"`
	Values         map[string]ValueDistribution `json:"values"`
	Roles          map[string]string            `json:"roles"`
	Quality        Quality                      `json:"quality"`
	SampleSize     int                          `json:"sample_size"`
	CreatedAt      time.Time                    `json:"created_at"`
}

// FieldFor returns the primary source field mapped to role: the first one in
// field order when several fields claim the same role.
func (s *Schema) FieldFor(role string) (string, bool) {
	for _, f := range s.Fields {
		if s.Roles[f] == role {
			return f, true
		}
	}
	return "", false
}

// RoleFields returns the role -> primary field mapping.
func (s *Schema) RoleFields() map[string]string {
	out := make(map[string]string, len(s.Roles))
	for _, f := range s.Fields {
		role, ok := s.Roles[f]
		if !ok {
			continue
		}
		if _, taken := out[role]; !taken {
			out[role] = f
		}
	}
	return out
}

// TopValues returns the most frequent values of field, most frequent first.
func (s *Schema) TopValues(field string) []string {
	dist, ok := s.Values[field]
	if !ok {
		return nil
	}
	out := make([]string, len(dist.Top))
	for i, vc := range dist.Top {
		out[i] = vc.Value
	}
	return out
}

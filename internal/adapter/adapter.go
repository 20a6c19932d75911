// Package adapter turns raw records into the role-keyed feature view the
// classification engine consumes, applying industry-specific normalization.
package adapter

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// ErrMalformedRecord is returned for records without usable content.
var ErrMalformedRecord = errors.New("malformed record")

// Features is the normalized view of one record.
type Features struct {
	RecordID string            `json:"record_id"`
	Industry string            `json:"industry"`
	Roles    map[string]string `json:"roles"`
	Keywords []string          `json:"keywords"`
	Params   map[string]string `json:"params,omitempty"`
	Raw      record.Record     `json:"-"`
}

// Text returns the normalized text of a role or attribute, or "".
func (f Features) Text(role string) string {
	return f.Roles[role]
}

// Normalizer produces Features for one industry.
type Normalizer interface {
	Industry() string
	Normalize(rec record.Record, mapping map[string]string) (Features, error)
}

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	wordSplit = regexp.MustCompile(`[\s,，;；/、|()（）\[\]]+`)
)

// Fold applies NFKC compatibility normalization and width folding, then
// collapses whitespace. Full-width digits and letters become ASCII.
func Fold(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFKC, width.Fold), s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(out, " "))
}

// base carries the behavior shared by every industry adapter.
type base struct {
	industry *vocab.Industry
}

func (b base) Industry() string { return b.industry.Name }

// features maps each mapped role and attribute to its folded source text.
// Mapping targets that are not fields of rec yield no entry.
func (b base) features(rec record.Record, mapping map[string]string) (Features, error) {
	if rec.Malformed() {
		return Features{}, ErrMalformedRecord
	}
	f := Features{
		RecordID: rec.ID(),
		Industry: b.industry.Name,
		Roles:    make(map[string]string, len(mapping)),
		Params:   make(map[string]string),
		Raw:      rec,
	}
	for role, field := range mapping {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if v = Fold(v); v != "" {
			f.Roles[role] = v
		}
	}
	return f, nil
}

// stripSuffixes removes the first matching organizational suffix.
func (b base) stripSuffixes(name string) string {
	for _, s := range b.industry.ManufacturerSuffixes {
		if trimmed := strings.TrimSuffix(name, s); trimmed != name && trimmed != "" {
			return strings.TrimSpace(trimmed)
		}
	}
	return name
}

// markers returns the industry markers present in text, in vocabulary order.
func (b base) markers(text string) []string {
	var out []string
	for _, m := range b.industry.Markers {
		if strings.Contains(text, m) {
			out = append(out, m)
		}
	}
	return out
}

// Keywords splits a name into searchable tokens. The whole name is kept as
// the first keyword.
func Keywords(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	seen := map[string]struct{}{name: {}}
	out := []string{name}
	for _, tok := range wordSplit.Split(name, -1) {
		tok = strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
